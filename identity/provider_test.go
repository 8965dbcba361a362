package identity

import (
	"testing"
	"time"

	"github.com/gurre/cognito-profile/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogins(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		provider Provider
		want     map[string]string
		wantErr  error
	}{
		{"anonymous", Anonymous{}, map[string]string{}, nil},
		{"amazon", LoginWithAmazon{Token: "Atza|abc"}, map[string]string{LoginsKeyAmazon: "Atza|abc"}, nil},
		{"facebook", Facebook{Token: "EAAB"}, map[string]string{LoginsKeyFacebook: "EAAB"}, nil},
		{"facebook not yet expired", Facebook{Token: "EAAB", ExpiresAt: now.Add(time.Hour)}, map[string]string{LoginsKeyFacebook: "EAAB"}, nil},
		{"amazon without token", LoginWithAmazon{}, nil, errs.ErrAuth},
		{"facebook blank token", Facebook{Token: "  "}, nil, errs.ErrAuth},
		{"facebook expired", Facebook{Token: "EAAB", ExpiresAt: now.Add(-time.Second)}, nil, errs.ErrAuth},
		{"nil provider", nil, nil, errs.ErrPrecondition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Logins(tt.provider, now)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseProvider(t *testing.T) {
	p, err := ParseProvider("", "")
	require.NoError(t, err)
	assert.Equal(t, Anonymous{}, p)

	p, err = ParseProvider("Amazon", "tok")
	require.NoError(t, err)
	assert.Equal(t, LoginWithAmazon{Token: "tok"}, p)

	p, err = ParseProvider("facebook", "tok")
	require.NoError(t, err)
	assert.Equal(t, Facebook{Token: "tok"}, p)
	assert.Equal(t, NameFacebook, p.Name())

	_, err = ParseProvider("twitter", "tok")
	assert.Error(t, err)
}
