// Package storage defines the persistence port for the authorization-server
// core: typed entities, per-entity store interfaces, and the codec that maps
// entities to flat string hashes for key-value backends.
//
// Implementations are provided in subpackages:
//   - storage/memory: in-memory storage for development and testing
//   - storage/redis: Redis/Sentinel-backed distributed storage for production
package storage

import (
	"context"
	"errors"
	"time"

	"golang.org/x/oauth2"
)

// ClientType distinguishes confidential clients (hold a secret) from public
// clients (no secret).
type ClientType string

const (
	// ClientTypeConfidential marks clients that authenticate with a secret.
	ClientTypeConfidential ClientType = "confidential"

	// ClientTypePublic marks clients without a secret (mobile, SPA).
	ClientTypePublic ClientType = "public"
)

// TokenTypeBearer is the only token type this server issues (RFC 6750).
const TokenTypeBearer = "Bearer"

// Sentinel errors returned by store implementations. Absence of a record is
// always one of these; callers translate them into domain errors.
var (
	ErrClientNotFound = errors.New("client not found")
	ErrTicketNotFound = errors.New("authorization ticket not found")
	ErrTicketExpired  = errors.New("authorization ticket expired")
	ErrTokenNotFound  = errors.New("access token not found")
)

// Client is a registered relying-party identity.
// The secret is stored only as a bcrypt hash; the plaintext is returned to
// the caller exactly once, at registration time.
type Client struct {
	ID          string
	SecretHash  string // bcrypt hash, empty for public clients
	Type        ClientType
	RedirectURI string
	CreatedAt   time.Time
}

// IsConfidential reports whether the client holds a secret.
func (c *Client) IsConfidential() bool {
	return c.Type == ClientTypeConfidential
}

// AuthorizationTicket is a short-lived, single-use authorization code bound
// to one client. It is redeemed for an access token via an atomic consume.
type AuthorizationTicket struct {
	Code        string
	ClientID    string
	RedirectURI string // optional, echoes the authorization request
	Scope       string
	State       string
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// AccessToken is an opaque bearer credential bound to one client.
// Tokens issued by the implicit grant carry the client-supplied State;
// tokens issued by the code exchange may carry a RefreshToken.
type AccessToken struct {
	ClientID     string
	Token        string
	TokenType    string // always TokenTypeBearer
	ExpiresIn    int64  // lifetime in seconds at issuance
	RefreshToken string
	Scope        string
	State        string
	CreatedAt    time.Time
}

// OAuth2Token converts the stored token to a golang.org/x/oauth2 token so
// callers can plug it into standard OAuth2 client tooling.
func (t *AccessToken) OAuth2Token() *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken:  t.Token,
		TokenType:    t.TokenType,
		RefreshToken: t.RefreshToken,
	}
	if t.ExpiresIn > 0 && !t.CreatedAt.IsZero() {
		tok.Expiry = t.CreatedAt.Add(time.Duration(t.ExpiresIn) * time.Second)
	}
	return tok
}

// ClientStore manages registered OAuth clients.
// All methods accept context.Context for tracing and cancellation.
type ClientStore interface {
	// SaveClient saves a registered client
	SaveClient(ctx context.Context, client *Client) error

	// GetClient retrieves a client by ID
	GetClient(ctx context.Context, clientID string) (*Client, error)

	// FindClientByRedirectURI retrieves the first client registered with the
	// given redirect URI. Backends without a native secondary index satisfy
	// this with a wildcard key scan.
	FindClientByRedirectURI(ctx context.Context, redirectURI string) (*Client, error)

	// ListClients lists all registered clients (for admin purposes)
	ListClients(ctx context.Context) ([]*Client, error)

	// DeleteClient removes a client
	DeleteClient(ctx context.Context, clientID string) error
}

// TicketStore manages authorization tickets (codes).
type TicketStore interface {
	// SaveTicket saves an issued authorization ticket
	SaveTicket(ctx context.Context, ticket *AuthorizationTicket) error

	// GetTicket retrieves a ticket by client and code without consuming it
	GetTicket(ctx context.Context, clientID, code string) (*AuthorizationTicket, error)

	// ListTickets lists all tickets issued to a client
	ListTickets(ctx context.Context, clientID string) ([]*AuthorizationTicket, error)

	// ConsumeTicket atomically retrieves and deletes a ticket by its code,
	// regardless of which client it was issued to; the caller inspects the
	// returned ticket's ClientID for ownership. Only one concurrent caller
	// can succeed; all others receive ErrTicketNotFound. Expired tickets
	// yield ErrTicketExpired.
	// SECURITY: this operation MUST be atomic so that an authorization
	// code is redeemable at most once.
	ConsumeTicket(ctx context.Context, code string) (*AuthorizationTicket, error)

	// DeleteTicket removes a ticket (explicit revocation)
	DeleteTicket(ctx context.Context, clientID, code string) error
}

// TokenStore manages issued access tokens.
type TokenStore interface {
	// SaveAccessToken saves an issued access token
	SaveAccessToken(ctx context.Context, token *AccessToken) error

	// GetAccessToken retrieves a token by client and token value
	GetAccessToken(ctx context.Context, clientID, token string) (*AccessToken, error)

	// ListAccessTokens lists all tokens issued to a client
	ListAccessTokens(ctx context.Context, clientID string) ([]*AccessToken, error)

	// DeleteAccessToken removes a token (revocation)
	DeleteAccessToken(ctx context.Context, clientID, token string) error
}

// Store bundles the three persistence ports. Both provided backends
// implement all of them on a single value.
type Store interface {
	ClientStore
	TicketStore
	TokenStore
}
