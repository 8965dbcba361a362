package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentity"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentity/types"
	json "github.com/goccy/go-json"
	"github.com/gurre/cognito-profile/aws"
	"github.com/gurre/cognito-profile/devicestore"
	"github.com/gurre/cognito-profile/errs"
	"go.uber.org/zap"
)

// Credentials are the temporary AWS credentials issued for an identity.
type Credentials struct {
	AccessKeyID  string
	SecretKey    string
	SessionToken string
	Expiration   time.Time
}

// Identity is a resolved federated identity.
type Identity struct {
	ID          string
	Provider    string
	Credentials Credentials
}

// ResolveOptions tune a single Resolve call.
type ResolveOptions struct {
	// Fresh discards any cached identity before asking Cognito for one. It
	// covers the reinstall case, where keychain residue from an earlier
	// install must not be reused for a new profile.
	Fresh bool
}

// keychainEntry is the cached identity as stored on the device.
type keychainEntry struct {
	IdentityID string `json:"identityId"`
	Provider   string `json:"provider"`
}

// Resolver exchanges provider tokens for Cognito identities and credentials.
type Resolver struct {
	client    aws.CognitoIdentityClient
	poolID    string
	accountID string
	keychain  devicestore.Store
	logger    *zap.Logger
	now       func() time.Time
	cache     *awssdk.CredentialsCache

	mu      sync.RWMutex
	current *Identity
	logins  map[string]string
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithAccountID sets the AWS account id sent with GetId.
func WithAccountID(id string) Option {
	return func(r *Resolver) { r.accountID = id }
}

// WithClock overrides the clock used for token and credential expiry.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// NewResolver creates a Resolver for the given identity pool.
func NewResolver(client aws.CognitoIdentityClient, poolID string, keychain devicestore.Store, logger *zap.Logger, opts ...Option) *Resolver {
	r := &Resolver{
		client:   client,
		poolID:   poolID,
		keychain: keychain,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.cache = awssdk.NewCredentialsCache(r.CredentialsProvider())
	return r
}

// Resolve produces or reuses a federated identity for p and fetches its
// temporary credentials. The keychain is only written when both calls
// succeed.
func (r *Resolver) Resolve(ctx context.Context, p Provider, opts ResolveOptions) (Identity, error) {
	logins, err := Logins(p, r.now())
	if err != nil {
		return Identity{}, err
	}

	cached, err := r.loadKeychain(ctx)
	if err != nil {
		return Identity{}, err
	}

	if cached.IdentityID != "" {
		switch {
		case opts.Fresh:
			r.logger.Info("discarding cached identity for a fresh sign-in",
				zap.String("identity_id", cached.IdentityID),
				zap.String("cached_provider", cached.Provider),
			)
			cached = keychainEntry{}
		case cached.Provider != p.Name():
			r.logger.Info("discarding cached identity from another provider",
				zap.String("identity_id", cached.IdentityID),
				zap.String("cached_provider", cached.Provider),
				zap.String("provider", p.Name()),
			)
			cached = keychainEntry{}
		}
		if cached.IdentityID == "" {
			if err := r.ClearKeychain(ctx); err != nil {
				return Identity{}, err
			}
		}
	}

	identityID := cached.IdentityID
	if identityID == "" {
		identityID, err = r.getID(ctx, logins)
		if err != nil {
			return Identity{}, err
		}
	}

	creds, err := r.credentialsFor(ctx, identityID, logins)
	if err != nil && cached.IdentityID != "" && isStaleIdentity(err) {
		// The cached id no longer exists in the pool; start over with a new one.
		r.logger.Warn("cached identity is stale, requesting a new one",
			zap.String("identity_id", identityID),
			zap.Error(err),
		)
		if err := r.ClearKeychain(ctx); err != nil {
			return Identity{}, err
		}
		identityID, err = r.getID(ctx, logins)
		if err != nil {
			return Identity{}, err
		}
		creds, err = r.credentialsFor(ctx, identityID, logins)
	}
	if err != nil {
		return Identity{}, err
	}

	resolved := Identity{ID: identityID, Provider: p.Name(), Credentials: creds}
	if err := r.saveKeychain(ctx, keychainEntry{IdentityID: identityID, Provider: p.Name()}); err != nil {
		return Identity{}, err
	}

	r.mu.Lock()
	r.current = &resolved
	r.logins = logins
	r.mu.Unlock()
	r.cache.Invalidate()

	r.logger.Debug("identity resolved",
		zap.String("identity_id", identityID),
		zap.String("provider", p.Name()),
		zap.Time("credentials_expire", creds.Expiration),
	)
	return resolved, nil
}

// CachedIdentityID returns the identity id held in the keychain, or "".
func (r *Resolver) CachedIdentityID(ctx context.Context) (string, error) {
	id, _, err := r.CachedIdentity(ctx)
	return id, err
}

// CachedIdentity returns the identity id held in the keychain and the name of
// the provider it was resolved with. Both are empty when nothing is cached.
func (r *Resolver) CachedIdentity(ctx context.Context) (id, provider string, err error) {
	entry, err := r.loadKeychain(ctx)
	if err != nil {
		return "", "", err
	}
	return entry.IdentityID, entry.Provider, nil
}

// ClearKeychain forgets the cached identity and the in-memory credentials.
func (r *Resolver) ClearKeychain(ctx context.Context) error {
	if err := r.keychain.Delete(ctx, devicestore.KeyKeychain); err != nil {
		return fmt.Errorf("failed to clear keychain: %w", err)
	}
	r.mu.Lock()
	r.current = nil
	r.logins = nil
	r.mu.Unlock()
	r.cache.Invalidate()
	return nil
}

// Current returns the identity resolved last, if any.
func (r *Resolver) Current() (Identity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.current == nil {
		return Identity{}, false
	}
	return *r.current, true
}

func (r *Resolver) getID(ctx context.Context, logins map[string]string) (string, error) {
	input := &cognitoidentity.GetIdInput{
		IdentityPoolId: awssdk.String(r.poolID),
		Logins:         logins,
	}
	if r.accountID != "" {
		input.AccountId = awssdk.String(r.accountID)
	}

	out, err := r.client.GetId(ctx, input)
	if err != nil {
		return "", errs.Auth("identity.getId", err)
	}
	if out.IdentityId == nil || *out.IdentityId == "" {
		return "", errs.Authf("identity.getId", "identity pool returned no identity id")
	}
	return *out.IdentityId, nil
}

func (r *Resolver) credentialsFor(ctx context.Context, identityID string, logins map[string]string) (Credentials, error) {
	out, err := r.client.GetCredentialsForIdentity(ctx, &cognitoidentity.GetCredentialsForIdentityInput{
		IdentityId: awssdk.String(identityID),
		Logins:     logins,
	})
	if err != nil {
		return Credentials{}, errs.Auth("identity.getCredentials", err)
	}
	if out.Credentials == nil {
		return Credentials{}, errs.Authf("identity.getCredentials", "no credentials issued for %s", identityID)
	}

	c := out.Credentials
	creds := Credentials{
		AccessKeyID:  awssdk.ToString(c.AccessKeyId),
		SecretKey:    awssdk.ToString(c.SecretKey),
		SessionToken: awssdk.ToString(c.SessionToken),
		Expiration:   awssdk.ToTime(c.Expiration),
	}
	return creds, nil
}

// refresh fetches new credentials for the current identity.
func (r *Resolver) refresh(ctx context.Context) (Identity, error) {
	r.mu.RLock()
	if r.current == nil {
		r.mu.RUnlock()
		return Identity{}, errs.Authf("identity.credentials", "no federated identity resolved")
	}
	current := *r.current
	logins := r.logins
	r.mu.RUnlock()

	exp := current.Credentials.Expiration
	if exp.IsZero() || exp.After(r.now().Add(expiryWindow)) {
		return current, nil
	}

	creds, err := r.credentialsFor(ctx, current.ID, logins)
	if err != nil {
		return Identity{}, err
	}
	current.Credentials = creds

	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case r.current == nil:
		return Identity{}, errs.Authf("identity.credentials", "identity %s was signed out during refresh", current.ID)
	case r.current.ID != current.ID:
		// Resolve replaced the identity while these credentials were in flight.
		return *r.current, nil
	}
	r.current = &current
	r.cache.Invalidate()
	return current, nil
}

func (r *Resolver) loadKeychain(ctx context.Context) (keychainEntry, error) {
	raw, err := r.keychain.Load(ctx, devicestore.KeyKeychain)
	if err != nil {
		return keychainEntry{}, fmt.Errorf("failed to read keychain: %w", err)
	}
	if raw == "" {
		return keychainEntry{}, nil
	}

	var entry keychainEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		// An unreadable entry is treated like residue and replaced.
		r.logger.Warn("ignoring unreadable keychain entry", zap.Error(err))
		return keychainEntry{}, nil
	}
	return entry, nil
}

func (r *Resolver) saveKeychain(ctx context.Context, entry keychainEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode keychain entry: %w", err)
	}
	if err := r.keychain.Save(ctx, devicestore.KeyKeychain, string(data)); err != nil {
		return fmt.Errorf("failed to write keychain: %w", err)
	}
	return nil
}

// isStaleIdentity reports whether Cognito no longer knows the identity id.
func isStaleIdentity(err error) bool {
	var notFound *types.ResourceNotFoundException
	return errors.As(err, &notFound)
}
