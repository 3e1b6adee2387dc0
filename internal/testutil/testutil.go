// Package testutil provides testing fixtures and helpers for the authcore
// library.
package testutil

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/keygrove/authcore/storage"
)

// GenerateRandomString generates a random base64-encoded string of the
// given byte length.
func GenerateRandomString(length int) string {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("crypto/rand.Read failed: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

// NewTestClient creates a public client fixture with a distinct id.
func NewTestClient() *storage.Client {
	return &storage.Client{
		ID:          GenerateRandomString(16),
		Type:        storage.ClientTypePublic,
		RedirectURI: "http://example.com/cb",
		CreatedAt:   time.Now().UTC().Truncate(time.Second),
	}
}

// NewTestTicket creates a ticket fixture bound to the given client.
func NewTestTicket(clientID string) *storage.AuthorizationTicket {
	now := time.Now().UTC().Truncate(time.Second)
	return &storage.AuthorizationTicket{
		Code:        GenerateRandomString(24),
		ClientID:    clientID,
		RedirectURI: "http://example.com/cb",
		CreatedAt:   now,
		ExpiresAt:   now.Add(10 * time.Minute),
	}
}

// NewTestToken creates an access token fixture bound to the given client.
func NewTestToken(clientID string) *storage.AccessToken {
	return &storage.AccessToken{
		ClientID:  clientID,
		Token:     GenerateRandomString(32),
		TokenType: storage.TokenTypeBearer,
		ExpiresIn: 3600,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
}
