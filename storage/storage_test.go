package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAccessToken_OAuth2Token(t *testing.T) {
	created := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	token := &AccessToken{
		ClientID:     "c1",
		Token:        "t1",
		TokenType:    TokenTypeBearer,
		ExpiresIn:    3600,
		RefreshToken: "r1",
		CreatedAt:    created,
	}

	got := token.OAuth2Token()
	assert.Equal(t, "t1", got.AccessToken)
	assert.Equal(t, TokenTypeBearer, got.TokenType)
	assert.Equal(t, "r1", got.RefreshToken)
	// Expiry derives from issuance time plus lifetime
	assert.Equal(t, created.Add(time.Hour), got.Expiry)
}

func TestAccessToken_OAuth2Token_NeverExpires(t *testing.T) {
	token := &AccessToken{
		ClientID:  "c1",
		Token:     "t1",
		TokenType: TokenTypeBearer,
	}

	got := token.OAuth2Token()
	// A zero lifetime maps to a zero expiry, which x/oauth2 treats as
	// "never expires"
	assert.True(t, got.Expiry.IsZero())
	assert.True(t, got.Valid())
}
