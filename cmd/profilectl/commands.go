package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gurre/cognito-profile/aws"
	"github.com/gurre/cognito-profile/config"
	"github.com/gurre/cognito-profile/errs"
	"github.com/gurre/cognito-profile/identity"
	"github.com/gurre/cognito-profile/orchestrator"
	"github.com/gurre/cognito-profile/preflight"
	"github.com/gurre/cognito-profile/profile"
	"go.uber.org/zap"
)

// commands runs one subcommand against a wired Service.
type commands struct {
	svc      *orchestrator.Service
	resolver *identity.Resolver
	opts     *options
	logger   *zap.Logger
}

func (c *commands) dispatch(ctx context.Context, command string) error {
	switch command {
	case "create":
		return c.create(ctx)
	case "fetch":
		return c.fetch(ctx)
	case "update":
		return c.update(ctx)
	case "login":
		return c.login(ctx)
	case "signout":
		return c.signout(ctx)
	}
	return fmt.Errorf("unknown command %q", command)
}

func (c *commands) create(ctx context.Context) error {
	data, err := c.profileData()
	if err != nil {
		return err
	}
	p, err := c.svc.CreateUser(ctx, &data)
	if err != nil {
		return fmt.Errorf("create failed: %w", err)
	}
	return printJSON(viewOf(&p))
}

func (c *commands) fetch(ctx context.Context) error {
	if err := c.restoreSession(ctx); err != nil {
		return err
	}
	p, err := c.svc.FetchUser(ctx)
	if err != nil {
		return fmt.Errorf("fetch failed: %w", err)
	}
	if p == nil {
		fmt.Fprintln(os.Stderr, "No profile for this identity; run create.")
		return printJSON(nil)
	}
	return printJSON(viewOf(p))
}

func (c *commands) update(ctx context.Context) error {
	data, err := c.profileData()
	if err != nil {
		return err
	}
	if err := c.restoreSession(ctx); err != nil {
		return err
	}
	current, err := c.svc.FetchUser(ctx)
	if err != nil {
		return fmt.Errorf("fetch failed: %w", err)
	}
	if current == nil {
		return errors.New("no profile for this identity; run create first")
	}

	p, err := c.svc.UpdateUser(ctx, data)
	if err != nil {
		return fmt.Errorf("update failed: %w", err)
	}
	return printJSON(viewOf(&p))
}

func (c *commands) login(ctx context.Context) error {
	provider, err := identity.ParseProvider(c.opts.provider, c.opts.token)
	if err != nil {
		return err
	}
	outcome, err := c.svc.ProviderLogin(ctx, provider)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	if outcome == orchestrator.NewUser && c.opts.create {
		data, err := c.profileData()
		if err != nil {
			return err
		}
		p, err := c.svc.CreateUser(ctx, &data)
		if err != nil {
			return fmt.Errorf("create failed: %w", err)
		}
		return printJSON(loginView{Outcome: outcome.String(), Profile: viewOf(&p)})
	}
	return printJSON(loginView{Outcome: outcome.String(), Profile: viewOf(c.svc.CurrentUser())})
}

func (c *commands) signout(ctx context.Context) error {
	if err := c.svc.SignOut(ctx); err != nil {
		return fmt.Errorf("sign out failed: %w", err)
	}
	fmt.Fprintln(os.Stderr, "Signed out.")
	return nil
}

// restoreSession resolves the cached identity again so the table and bucket
// clients have credentials. The provider defaults to the one the keychain
// entry was resolved with; provider sessions need their token again.
func (c *commands) restoreSession(ctx context.Context) error {
	has, err := c.svc.HasCurrentUserIdentity(ctx)
	if err != nil {
		return err
	}
	if !has {
		// FetchUser reports the missing identity itself.
		return nil
	}

	name := c.opts.provider
	if name == "" {
		_, cached, err := c.resolver.CachedIdentity(ctx)
		if err != nil {
			return err
		}
		name = cached
	}
	provider, err := identity.ParseProvider(name, c.opts.token)
	if err != nil {
		return err
	}
	if provider.Name() != identity.NameAnonymous && c.opts.token == "" {
		return errs.Authf("cli.restore", "no token for %s session", provider.Name())
	}

	id, err := c.resolver.Resolve(ctx, provider, identity.ResolveOptions{})
	if err != nil {
		return fmt.Errorf("failed to restore session: %w", err)
	}
	c.logger.Debug("session restored",
		zap.String("identity_id", id.ID),
		zap.String("provider", id.Provider),
	)
	return nil
}

func (c *commands) profileData() (profile.Data, error) {
	var data profile.Data
	if c.opts.nameSet {
		name := c.opts.name
		data.Name = &name
	}
	if c.opts.image != "" {
		img, err := os.ReadFile(c.opts.image)
		if err != nil {
			return profile.Data{}, fmt.Errorf("failed to read image: %w", err)
		}
		data.Image = img
	}
	return data, nil
}

func runPreflight(ctx context.Context, cfg *config.Config, client aws.IAMClient) error {
	table := preflight.TableARN(cfg.Region, cfg.AccountID, cfg.TableName)
	result, err := preflight.Check(ctx, client, cfg.RoleARN, table, cfg.AvatarBucket)
	if err != nil {
		return fmt.Errorf("preflight failed: %w", err)
	}
	if err := printJSON(result); err != nil {
		return err
	}
	if !result.OK() {
		return fmt.Errorf("role %s is missing %d permission(s)", cfg.RoleARN, len(result.Denied))
	}
	return nil
}

// profileView is the printed form of a profile. Avatar bytes are reported by
// size only.
type profileView struct {
	IdentityID string    `json:"identityId"`
	Name       *string   `json:"name,omitempty"`
	ImageBytes int       `json:"imageBytes"`
	CreatedAt  time.Time `json:"createdAt,omitempty"`
	UpdatedAt  time.Time `json:"updatedAt,omitempty"`
}

type loginView struct {
	Outcome string       `json:"outcome"`
	Profile *profileView `json:"profile,omitempty"`
}

func viewOf(p *profile.Profile) *profileView {
	if p == nil {
		return nil
	}
	return &profileView{
		IdentityID: p.IdentityID,
		Name:       p.Name,
		ImageBytes: len(p.Image),
		CreatedAt:  p.CreatedAt,
		UpdatedAt:  p.UpdatedAt,
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}
