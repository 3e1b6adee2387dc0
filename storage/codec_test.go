package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodec_Key(t *testing.T) {
	assert.Equal(t, "client:c1", ClientCodec.Key("c1"))
	assert.Equal(t, "ticket:c1:a1", TicketCodec.Key("c1", "a1"))
	assert.Equal(t, "token:c1:t1", TokenCodec.Key("c1", "t1"))

	// Empty key fields become wildcards for pattern scans
	assert.Equal(t, "client:*", ClientCodec.Key(""))
	assert.Equal(t, "ticket:c1:*", TicketCodec.Key("c1", ""))
	assert.Equal(t, "token:*:*", TokenCodec.Key("", ""))
}

func TestClientCodec_RoundTrip(t *testing.T) {
	created := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	client := &Client{
		ID:          "c1",
		SecretHash:  "$2a$10$hash",
		Type:        ClientTypeConfidential,
		RedirectURI: "http://example.com/cb",
		CreatedAt:   created,
	}

	hash := ClientCodec.Encode(client)
	got, err := ClientCodec.Decode(hash)
	require.NoError(t, err)
	assert.Equal(t, client, got)
}

func TestClientCodec_OmitsUnsetFields(t *testing.T) {
	client := &Client{
		ID:          "c1",
		Type:        ClientTypePublic,
		RedirectURI: "http://example.com/cb",
	}

	hash := ClientCodec.Encode(client)

	// Unset fields are omitted entirely, not written as empty strings
	_, hasSecret := hash["secret_hash"]
	assert.False(t, hasSecret)
	_, hasCreated := hash["created_at"]
	assert.False(t, hasCreated)

	got, err := ClientCodec.Decode(hash)
	require.NoError(t, err)
	assert.Empty(t, got.SecretHash)
	assert.True(t, got.CreatedAt.IsZero())
}

func TestClientCodec_RejectsUnknownType(t *testing.T) {
	hash := map[string]string{
		"id":   "c1",
		"type": "Confidential", // enum names are case-sensitive
	}

	got, err := ClientCodec.Decode(hash)
	require.Error(t, err)
	assert.Nil(t, got, "a failed decode must not yield a partial entity")
}

func TestTicketCodec_RoundTrip(t *testing.T) {
	now := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	ticket := &AuthorizationTicket{
		Code:        "a1",
		ClientID:    "c1",
		RedirectURI: "http://example.com/cb",
		Scope:       "read write",
		State:       "opaque-state",
		CreatedAt:   now,
		ExpiresAt:   now.Add(10 * time.Minute),
	}

	hash := TicketCodec.Encode(ticket)
	got, err := TicketCodec.Decode(hash)
	require.NoError(t, err)
	assert.Equal(t, ticket, got)
}

func TestTokenCodec_RoundTrip(t *testing.T) {
	now := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	token := &AccessToken{
		ClientID:  "c1",
		Token:     "t1",
		TokenType: TokenTypeBearer,
		ExpiresIn: 3600,
		Scope:     "read",
		State:     "s",
		CreatedAt: now,
	}

	hash := TokenCodec.Encode(token)
	assert.Equal(t, "3600", hash["expires_in"], "numeric fields serialize in decimal")

	got, err := TokenCodec.Decode(hash)
	require.NoError(t, err)
	assert.Equal(t, token, got)
}

func TestTokenCodec_RejectsBadInteger(t *testing.T) {
	hash := map[string]string{
		"client_id":    "c1",
		"access_token": "t1",
		"expires_in":   "not-a-number",
	}

	got, err := TokenCodec.Decode(hash)
	require.Error(t, err)
	assert.Nil(t, got)
}

func TestCodec_IgnoresUnknownFields(t *testing.T) {
	hash := map[string]string{
		"id":            "c1",
		"unknown_field": "whatever",
	}

	got, err := ClientCodec.Decode(hash)
	require.NoError(t, err)
	assert.Equal(t, "c1", got.ID)
}

func TestCodec_EncodeDecodeEncodeStable(t *testing.T) {
	ticket := &AuthorizationTicket{
		Code:      "a1",
		ClientID:  "c1",
		CreatedAt: time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC),
	}

	first := TicketCodec.Encode(ticket)
	decoded, err := TicketCodec.Decode(first)
	require.NoError(t, err)
	second := TicketCodec.Encode(decoded)
	assert.Equal(t, first, second)
}
