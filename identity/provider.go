// Package identity resolves Cognito federated identities.
//
// A Provider names how the device signs in. The Resolver exchanges the
// provider's token map for an identity id and temporary AWS credentials, and
// keeps the resolved id in a local keychain so anonymous sessions survive
// restarts.
package identity

import (
	"fmt"
	"strings"
	"time"

	"github.com/gurre/cognito-profile/errs"
)

// Provider names.
const (
	NameAnonymous       = "anonymous"
	NameLoginWithAmazon = "amazon"
	NameFacebook        = "facebook"
)

// Keys of the Cognito identity token map.
const (
	LoginsKeyAmazon   = "www.amazon.com"
	LoginsKeyFacebook = "graph.facebook.com"
)

// Provider is the closed set of sign-in methods. Only the types in this
// package implement it.
type Provider interface {
	Name() string
	isProvider()
}

// Anonymous signs in without a login token.
type Anonymous struct{}

// LoginWithAmazon signs in with a Login with Amazon access token.
type LoginWithAmazon struct {
	Token string
}

// Facebook signs in with a Facebook access token. A zero ExpiresAt means the
// caller does not know when the token expires.
type Facebook struct {
	Token     string
	ExpiresAt time.Time
}

func (Anonymous) Name() string       { return NameAnonymous }
func (LoginWithAmazon) Name() string { return NameLoginWithAmazon }
func (Facebook) Name() string        { return NameFacebook }

func (Anonymous) isProvider()       {}
func (LoginWithAmazon) isProvider() {}
func (Facebook) isProvider()        {}

// Logins builds the identity token map Cognito expects for p.
func Logins(p Provider, now time.Time) (map[string]string, error) {
	switch p := p.(type) {
	case Anonymous:
		return map[string]string{}, nil
	case LoginWithAmazon:
		if strings.TrimSpace(p.Token) == "" {
			return nil, errs.Authf("identity.logins", "no current Amazon access token")
		}
		return map[string]string{LoginsKeyAmazon: p.Token}, nil
	case Facebook:
		if strings.TrimSpace(p.Token) == "" {
			return nil, errs.Authf("identity.logins", "no current Facebook access token")
		}
		if !p.ExpiresAt.IsZero() && !now.Before(p.ExpiresAt) {
			return nil, errs.Authf("identity.logins", "Facebook access token expired at %s", p.ExpiresAt.Format(time.RFC3339))
		}
		return map[string]string{LoginsKeyFacebook: p.Token}, nil
	case nil:
		return nil, errs.Precondition("identity.logins", "no identity provider configured")
	}
	return nil, errs.Precondition("identity.logins", "unsupported identity provider %T", p)
}

// ParseProvider builds a Provider from a provider name and token, as given on
// a command line.
func ParseProvider(name, token string) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", NameAnonymous:
		return Anonymous{}, nil
	case NameLoginWithAmazon, "loginwithamazon", "lwa":
		return LoginWithAmazon{Token: token}, nil
	case NameFacebook, "fb":
		return Facebook{Token: token}, nil
	}
	return nil, fmt.Errorf("unknown identity provider: %s", name)
}
