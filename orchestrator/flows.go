package orchestrator

import (
	"bytes"
	"context"

	"github.com/gurre/cognito-profile/identity"
	"github.com/gurre/cognito-profile/profile"
	"go.uber.org/zap"
)

// CreateUser creates the profile for a new identity. The identity is a fresh
// anonymous one, or the pending identity left by a ProviderLogin that found
// no profile. data may be nil and must not carry an identity id.
//
// On failure nothing is persisted: a written record is deleted again when the
// avatar upload fails.
func (s *Service) CreateUser(ctx context.Context, data *profile.Data) (profile.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f := s.begin("create")
	if s.CurrentUser() != nil {
		return profile.Profile{}, f.fail("create", "a profile is already loaded")
	}
	if data != nil && data.IdentityID != "" {
		return profile.Profile{}, f.fail("create", "identity id %q was supplied by the caller", data.IdentityID)
	}
	persisted, err := s.persistedID(ctx)
	if err != nil {
		return profile.Profile{}, f.finish(err)
	}
	if persisted != "" {
		return profile.Profile{}, f.fail("create", "identity %s is already persisted on this device", persisted)
	}

	f.enter(ResolvingIdentity)
	id, err := s.newIdentity(ctx, f)
	if err != nil {
		return profile.Profile{}, f.finish(err)
	}
	f.logger = f.logger.With(zap.String("identity_id", id.ID))

	p := profile.Profile{IdentityID: id.ID}
	if data != nil {
		p = profile.Merge(p, *data)
	}

	f.enter(Persisting)
	var created profile.Profile
	uploaded := false
	err = newSaga(f.logger, s.metrics).
		add(step{
			name: "create record",
			run: func(ctx context.Context) (err error) {
				created, err = s.profiles.Create(ctx, p)
				return err
			},
			compensate: func(ctx context.Context) error {
				return s.profiles.Delete(ctx, p.IdentityID)
			},
		}).
		add(step{
			name: "upload avatar",
			run: func(ctx context.Context) error {
				if !p.HasImage() {
					return nil
				}
				if err := s.avatars.Upload(ctx, p.IdentityID, p.Image); err != nil {
					return err
				}
				uploaded = true
				return nil
			},
			compensate: func(ctx context.Context) error {
				if !uploaded {
					return nil
				}
				return s.avatars.Delete(ctx, p.IdentityID)
			},
		}).
		add(step{
			name: "persist identity",
			run: func(ctx context.Context) error {
				return s.persistID(ctx, p.IdentityID)
			},
		}).
		execute(ctx)
	if err != nil {
		return profile.Profile{}, f.finish(err)
	}

	created.Image = p.Image
	s.setCurrent(&created)
	s.setPending(nil)
	s.metrics.ProfileCreated()
	if uploaded {
		s.metrics.AvatarUploaded()
	}
	return created, f.finish(nil)
}

// newIdentity consumes the pending identity, or resolves a fresh anonymous
// one so that keychain residue from an earlier install is never reused.
func (s *Service) newIdentity(ctx context.Context, f *flow) (identity.Identity, error) {
	if pending := s.pendingIdentity(); pending != nil {
		f.logger.Info("using pending identity",
			zap.String("identity_id", pending.ID),
			zap.String("provider", pending.Provider),
		)
		return *pending, nil
	}
	return s.resolver.Resolve(ctx, identity.Anonymous{}, identity.ResolveOptions{Fresh: true})
}

// fetchKey is the single flight key shared by concurrent FetchUser calls. The
// persisted id is read under s.mu inside the flight.
const fetchKey = "current"

// FetchUser loads the profile of the persisted identity. It returns (nil, nil)
// when the identity has no profile record; the caller then creates one. A
// failing avatar download is logged and the profile is returned without an
// image.
func (s *Service) FetchUser(ctx context.Context) (*profile.Profile, error) {
	v, err, shared := s.fetches.Do(fetchKey, func() (any, error) {
		s.mu.Lock()
		defer s.mu.Unlock()

		f := s.begin("fetch")
		id, err := s.persistedID(ctx)
		if err != nil {
			return nil, f.finish(err)
		}
		if id == "" {
			return nil, f.fail("fetch", "no identity is persisted on this device")
		}
		f.logger = f.logger.With(zap.String("identity_id", id))
		p, err := s.fetch(ctx, f, id)
		return p, f.finish(err)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		s.logger.Debug("joined in-flight fetch")
	}

	p, _ := v.(*profile.Profile)
	if p == nil {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

// fetch loads the record and avatar for id and makes the result current.
// Callers hold s.mu.
func (s *Service) fetch(ctx context.Context, f *flow, id string) (*profile.Profile, error) {
	f.enter(Loading)
	p, err := s.profiles.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		f.logger.Info("no profile record for identity")
		s.metrics.ProfileMissing()
		s.setCurrent(nil)
		return nil, nil
	}

	img, err := s.avatars.Download(ctx, id)
	if err != nil {
		f.logger.Warn("avatar download failed, continuing without image", zap.Error(err))
		s.metrics.AvatarDownloadFailed()
	} else {
		p.Image = img
	}

	s.setCurrent(p)
	s.metrics.ProfileFetched()
	return p, nil
}

// UpdateUser merges data onto the current profile and writes the result. An
// update that changes nothing returns without any network call. When the
// avatar write fails the previous record is restored.
func (s *Service) UpdateUser(ctx context.Context, data profile.Data) (profile.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f := s.begin("update")
	current := s.CurrentUser()
	if current == nil {
		return profile.Profile{}, f.fail("update", "no profile is loaded")
	}
	if data.IdentityID != "" && data.IdentityID != current.IdentityID {
		return profile.Profile{}, f.fail("update", "identity id %q does not match the current profile %s", data.IdentityID, current.IdentityID)
	}
	f.logger = f.logger.With(zap.String("identity_id", current.IdentityID))

	merged := profile.Merge(*current, data)
	if profile.Equal(merged, *current) {
		s.metrics.NoopUpdate()
		f.logger.Debug("update changes nothing")
		return *current, f.finish(nil)
	}

	f.enter(Persisting)
	previous := *current
	imageChanged := !bytes.Equal(merged.Image, previous.Image)
	var updated profile.Profile
	uploaded := false
	err := newSaga(f.logger, s.metrics).
		add(step{
			name: "update record",
			run: func(ctx context.Context) (err error) {
				updated, err = s.profiles.Update(ctx, merged)
				return err
			},
			compensate: func(ctx context.Context) error {
				_, err := s.profiles.Update(ctx, previous)
				return err
			},
		}).
		add(step{
			name: "write avatar",
			run: func(ctx context.Context) error {
				switch {
				case !imageChanged:
					return nil
				case merged.HasImage():
					if err := s.avatars.Upload(ctx, merged.IdentityID, merged.Image); err != nil {
						return err
					}
					uploaded = true
					return nil
				default:
					return s.avatars.Delete(ctx, merged.IdentityID)
				}
			},
		}).
		execute(ctx)
	if err != nil {
		return profile.Profile{}, f.finish(err)
	}

	updated.Image = merged.Image
	s.setCurrent(&updated)
	s.metrics.ProfileUpdated()
	if uploaded {
		s.metrics.AvatarUploaded()
	}
	return updated, f.finish(nil)
}

// ProviderLogin signs in with an external provider and loads the profile of
// the resulting identity. When there is none, the identity is held as
// pending in memory, nothing is persisted and NewUser is returned; a
// following CreateUser uses the pending identity.
func (s *Service) ProviderLogin(ctx context.Context, p identity.Provider) (LoginOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f := s.begin("login")
	switch p.(type) {
	case identity.LoginWithAmazon, identity.Facebook:
	case identity.Anonymous:
		return 0, f.fail("login", "provider login needs an external provider")
	case nil:
		return 0, f.fail("login", "no identity provider configured")
	}
	f.logger = f.logger.With(zap.String("provider", p.Name()))
	s.metrics.ProviderLogin()

	persisted, err := s.persistedID(ctx)
	if err != nil {
		return 0, f.finish(err)
	}
	if persisted == "" {
		// Keychain content without a persisted identity is residue from an
		// earlier install.
		if err := s.resolver.ClearKeychain(ctx); err != nil {
			return 0, f.finish(err)
		}
	}

	f.enter(ResolvingIdentity)
	id, err := s.resolver.Resolve(ctx, p, identity.ResolveOptions{})
	if err != nil {
		return 0, f.finish(err)
	}
	f.logger = f.logger.With(zap.String("identity_id", id.ID))

	found, err := s.fetch(ctx, f, id.ID)
	if err != nil {
		return 0, f.finish(err)
	}

	if found == nil {
		if err := s.forgetID(ctx); err != nil {
			return 0, f.finish(err)
		}
		s.setPending(&id)
		f.logger.Info("identity has no profile yet, holding it as pending")
		return NewUser, f.finish(nil)
	}

	if err := s.persistID(ctx, id.ID); err != nil {
		s.setCurrent(nil)
		return 0, f.finish(err)
	}
	s.setPending(nil)
	return ExistingUser, f.finish(nil)
}

// SignOut forgets the current profile, any pending identity, the persisted
// identity id and the cached credentials.
func (s *Service) SignOut(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f := s.begin("signout")
	if err := s.resolver.ClearKeychain(ctx); err != nil {
		return f.finish(err)
	}
	if err := s.forgetID(ctx); err != nil {
		return f.finish(err)
	}
	s.setCurrent(nil)
	s.setPending(nil)
	return f.finish(nil)
}
