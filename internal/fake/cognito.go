package fake

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentity"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentity/types"
	"github.com/google/uuid"
)

// CognitoIdentityClient is an in-memory identity pool implementing
// aws.CognitoIdentityClient. Anonymous GetId calls mint a new identity;
// logins map to a stable identity per token.
type CognitoIdentityClient struct {
	Region string
	TTL    time.Duration

	mu         sync.Mutex
	byLogin    map[string]string
	identities map[string]bool
	rejected   map[string]bool
	nextIDs    []string
	getIDCalls int
	credCalls  int

	fail failures
}

// NewCognitoIdentityClient creates an empty pool in region.
func NewCognitoIdentityClient(region string) *CognitoIdentityClient {
	return &CognitoIdentityClient{
		Region:     region,
		TTL:        time.Hour,
		byLogin:    make(map[string]string),
		identities: make(map[string]bool),
		rejected:   make(map[string]bool),
	}
}

// FailNext makes the next call of op ("GetId", "GetCredentialsForIdentity") return err.
func (m *CognitoIdentityClient) FailNext(op string, err error) {
	m.fail.set(op, err)
}

// QueueIDs makes the next minted identities use the given ids, in order.
func (m *CognitoIdentityClient) QueueIDs(ids ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextIDs = append(m.nextIDs, ids...)
}

// Reject makes the pool refuse token with NotAuthorizedException.
func (m *CognitoIdentityClient) Reject(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejected[token] = true
}

// Forget removes an identity from the pool, as if it had been deleted.
func (m *CognitoIdentityClient) Forget(identityID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.identities, identityID)
}

// GetIDCalls returns how many times GetId was called.
func (m *CognitoIdentityClient) GetIDCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getIDCalls
}

// CredentialCalls returns how many times GetCredentialsForIdentity was called.
func (m *CognitoIdentityClient) CredentialCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.credCalls
}

func (m *CognitoIdentityClient) checkLogins(logins map[string]string) error {
	for _, token := range logins {
		if m.rejected[token] {
			return &types.NotAuthorizedException{Message: aws.String("Invalid login token.")}
		}
	}
	return nil
}

func loginKey(logins map[string]string) string {
	parts := make([]string, 0, len(logins))
	for provider, token := range logins {
		parts = append(parts, provider+"="+token)
	}
	sort.Strings(parts)
	return strings.Join(parts, "&")
}

// GetId returns the identity for the logins, minting one when needed.
func (m *CognitoIdentityClient) GetId(ctx context.Context, params *cognitoidentity.GetIdInput, optFns ...func(*cognitoidentity.Options)) (*cognitoidentity.GetIdOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getIDCalls++

	if err := m.fail.take("GetId"); err != nil {
		return nil, err
	}
	if err := m.checkLogins(params.Logins); err != nil {
		return nil, err
	}

	key := loginKey(params.Logins)
	if key != "" {
		if id, ok := m.byLogin[key]; ok && m.identities[id] {
			return &cognitoidentity.GetIdOutput{IdentityId: aws.String(id)}, nil
		}
	}

	id := m.mint()
	m.identities[id] = true
	if key != "" {
		m.byLogin[key] = id
	}
	return &cognitoidentity.GetIdOutput{IdentityId: aws.String(id)}, nil
}

func (m *CognitoIdentityClient) mint() string {
	if len(m.nextIDs) > 0 {
		id := m.nextIDs[0]
		m.nextIDs = m.nextIDs[1:]
		return id
	}
	return m.Region + ":" + uuid.NewString()
}

// GetCredentialsForIdentity issues credentials for a known identity.
func (m *CognitoIdentityClient) GetCredentialsForIdentity(ctx context.Context, params *cognitoidentity.GetCredentialsForIdentityInput, optFns ...func(*cognitoidentity.Options)) (*cognitoidentity.GetCredentialsForIdentityOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.credCalls++

	if err := m.fail.take("GetCredentialsForIdentity"); err != nil {
		return nil, err
	}
	if err := m.checkLogins(params.Logins); err != nil {
		return nil, err
	}

	id := aws.ToString(params.IdentityId)
	if !m.identities[id] {
		return nil, &types.ResourceNotFoundException{Message: aws.String("Identity '" + id + "' not found.")}
	}

	return &cognitoidentity.GetCredentialsForIdentityOutput{
		IdentityId: aws.String(id),
		Credentials: &types.Credentials{
			AccessKeyId:  aws.String("ASIA" + strings.ToUpper(uuid.NewString()[:12])),
			SecretKey:    aws.String(uuid.NewString()),
			SessionToken: aws.String(uuid.NewString()),
			Expiration:   aws.Time(time.Now().Add(m.TTL)),
		},
	}, nil
}
