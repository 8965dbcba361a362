package identity

import (
	"context"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
)

// expiryWindow is how long before expiry credentials are considered stale.
const expiryWindow = time.Minute

// credentialsSource is reported in aws.Credentials.Source.
const credentialsSource = "CognitoIdentity"

// CredentialsProvider signs AWS requests with the temporary credentials of the
// identity the Resolver resolved last. SDK clients should use
// Resolver.CredentialsCache rather than wrapping it themselves.
type CredentialsProvider struct {
	resolver *Resolver
}

// CredentialsProvider returns an aws.CredentialsProvider backed by r.
func (r *Resolver) CredentialsProvider() *CredentialsProvider {
	return &CredentialsProvider{resolver: r}
}

// CredentialsCache returns the cache over r's CredentialsProvider. It is
// invalidated whenever the resolved identity changes, so every client sharing
// it signs with the current identity.
func (r *Resolver) CredentialsCache() *awssdk.CredentialsCache {
	return r.cache
}

// Retrieve implements aws.CredentialsProvider. It fails with an auth error
// until an identity has been resolved.
func (p *CredentialsProvider) Retrieve(ctx context.Context) (awssdk.Credentials, error) {
	id, err := p.resolver.refresh(ctx)
	if err != nil {
		return awssdk.Credentials{}, err
	}

	c := id.Credentials
	return awssdk.Credentials{
		AccessKeyID:     c.AccessKeyID,
		SecretAccessKey: c.SecretKey,
		SessionToken:    c.SessionToken,
		Source:          credentialsSource,
		CanExpire:       !c.Expiration.IsZero(),
		Expires:         c.Expiration,
	}, nil
}

var _ awssdk.CredentialsProvider = (*CredentialsProvider)(nil)
