// Package memory provides an in-memory implementation of all storage
// interfaces. It is suitable for development, testing, and single-instance
// deployments.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/keygrove/authcore/instrumentation"
	"github.com/keygrove/authcore/internal/util"
	"github.com/keygrove/authcore/security"
	"github.com/keygrove/authcore/storage"
)

// codeLogLength is the number of characters to include when logging codes
// and tokens. This provides enough uniqueness for debugging while keeping
// logs secure.
const codeLogLength = 8

// Store is an in-memory implementation of all storage interfaces.
// Entries are keyed by the same codec keys the Redis backend uses, so the
// two backends stay behaviorally interchangeable.
type Store struct {
	mu sync.RWMutex

	clients map[string]*storage.Client
	tickets map[string]*storage.AuthorizationTicket
	tokens  map[string]*storage.AccessToken

	// Instrumentation
	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer
	meter           metric.Meter

	// Cleanup
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
	logger          *slog.Logger
}

// Compile-time interface checks to ensure Store implements all storage interfaces
var (
	_ storage.ClientStore = (*Store)(nil)
	_ storage.TicketStore = (*Store)(nil)
	_ storage.TokenStore  = (*Store)(nil)
	_ storage.Store       = (*Store)(nil)
)

// New creates a new in-memory store with default cleanup interval (1 minute).
func New() *Store {
	return NewWithInterval(time.Minute)
}

// NewWithInterval creates a new in-memory store with custom cleanup interval.
// If cleanupInterval is 0 or negative, uses default of 1 minute.
func NewWithInterval(cleanupInterval time.Duration) *Store {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}

	s := &Store{
		clients:         make(map[string]*storage.Client),
		tickets:         make(map[string]*storage.AuthorizationTicket),
		tokens:          make(map[string]*storage.AccessToken),
		cleanupInterval: cleanupInterval,
		stopCleanup:     make(chan struct{}),
		logger:          slog.Default(),
	}

	// Start background cleanup
	go s.cleanupLoop()

	return s
}

// SetLogger sets a custom logger
func (s *Store) SetLogger(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// SetInstrumentation sets OpenTelemetry instrumentation for the store
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instrumentation = inst
	if inst != nil {
		s.tracer = inst.Tracer("storage")
		s.meter = inst.Meter("storage")
	}
}

// Stop gracefully stops the cleanup goroutine
func (s *Store) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCleanup)
	})
}

// ============================================================
// ClientStore Implementation
// ============================================================

// SaveClient saves a registered client
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) error {
	ctx, span := s.startStorageSpan(ctx, "save_client")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "save_client", err, startTime)
	}()

	if client == nil || client.ID == "" {
		err = fmt.Errorf("invalid client")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.clients[storage.ClientCodec.Key(client.ID)] = client
	s.logger.Debug("Saved client", "client_id", client.ID)
	return nil
}

// GetClient retrieves a client by ID
func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	ctx, span := s.startStorageSpan(ctx, "get_client")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "get_client", err, startTime)
	}()

	s.mu.RLock()
	defer s.mu.RUnlock()

	client, ok := s.clients[storage.ClientCodec.Key(clientID)]
	if !ok {
		err = fmt.Errorf("%w: %s", storage.ErrClientNotFound, clientID)
		return nil, err
	}

	// Return a COPY to prevent caller from modifying our stored version
	clientCopy := *client
	return &clientCopy, nil
}

// FindClientByRedirectURI retrieves the first client registered with the
// given redirect URI.
func (s *Store) FindClientByRedirectURI(ctx context.Context, redirectURI string) (*storage.Client, error) {
	ctx, span := s.startStorageSpan(ctx, "find_client_by_redirect_uri")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "find_client_by_redirect_uri", err, startTime)
	}()

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, client := range s.clients {
		if client.RedirectURI == redirectURI {
			clientCopy := *client
			return &clientCopy, nil
		}
	}

	err = fmt.Errorf("%w: redirect URI %s", storage.ErrClientNotFound, redirectURI)
	return nil, err
}

// ListClients lists all registered clients
func (s *Store) ListClients(ctx context.Context) ([]*storage.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clients := make([]*storage.Client, 0, len(s.clients))
	for _, client := range s.clients {
		clientCopy := *client
		clients = append(clients, &clientCopy)
	}

	return clients, nil
}

// DeleteClient removes a client
func (s *Store) DeleteClient(ctx context.Context, clientID string) error {
	ctx, span := s.startStorageSpan(ctx, "delete_client")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "delete_client", err, startTime)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.clients, storage.ClientCodec.Key(clientID))
	s.logger.Debug("Deleted client", "client_id", clientID)
	return nil
}

// ============================================================
// TicketStore Implementation
// ============================================================

// SaveTicket saves an issued authorization ticket
func (s *Store) SaveTicket(ctx context.Context, ticket *storage.AuthorizationTicket) error {
	ctx, span := s.startStorageSpan(ctx, "save_ticket")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "save_ticket", err, startTime)
	}()

	if ticket == nil || ticket.Code == "" || ticket.ClientID == "" {
		err = fmt.Errorf("invalid authorization ticket")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.tickets[storage.TicketCodec.Key(ticket.ClientID, ticket.Code)] = ticket
	s.logger.Debug("Saved authorization ticket",
		"client_id", ticket.ClientID,
		"code_prefix", util.SafeTruncate(ticket.Code, codeLogLength))
	return nil
}

// GetTicket retrieves a ticket by client and code without consuming it
func (s *Store) GetTicket(ctx context.Context, clientID, code string) (*storage.AuthorizationTicket, error) {
	ctx, span := s.startStorageSpan(ctx, "get_ticket")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "get_ticket", err, startTime)
	}()

	s.mu.RLock()
	defer s.mu.RUnlock()

	ticket, ok := s.tickets[storage.TicketCodec.Key(clientID, code)]
	if !ok {
		err = storage.ErrTicketNotFound
		return nil, err
	}

	// Check if expired with clock skew grace period
	if security.IsExpired(ticket.ExpiresAt) {
		err = fmt.Errorf("%w: authorization ticket expired", storage.ErrTicketExpired)
		return nil, err
	}

	// Return a COPY to prevent caller from modifying our stored version
	ticketCopy := *ticket
	return &ticketCopy, nil
}

// ListTickets lists all tickets issued to a client
func (s *Store) ListTickets(ctx context.Context, clientID string) ([]*storage.AuthorizationTicket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tickets := make([]*storage.AuthorizationTicket, 0)
	for _, ticket := range s.tickets {
		if ticket.ClientID == clientID && !security.IsExpired(ticket.ExpiresAt) {
			ticketCopy := *ticket
			tickets = append(tickets, &ticketCopy)
		}
	}

	return tickets, nil
}

// ConsumeTicket atomically retrieves and deletes a ticket by its code. The
// lookup spans all clients so the caller can verify ownership against the
// returned ticket.
//
// SECURITY: This operation is atomic - only ONE concurrent request can
// succeed. All other concurrent requests will receive a "not found" error.
func (s *Store) ConsumeTicket(ctx context.Context, code string) (*storage.AuthorizationTicket, error) {
	ctx, span := s.startStorageSpan(ctx, "consume_ticket")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "consume_ticket", err, startTime)
	}()

	s.mu.Lock() // MUST use write lock for atomic find-and-delete
	defer s.mu.Unlock()

	var key string
	var ticket *storage.AuthorizationTicket
	for k, t := range s.tickets {
		if t.Code == code {
			key, ticket = k, t
			break
		}
	}
	if ticket == nil {
		err = fmt.Errorf("%w: ticket not found or already used", storage.ErrTicketNotFound)
		return nil, err
	}

	// Check if expired with clock skew grace period. The expired entry is
	// removed here rather than waiting for the cleanup loop since the code
	// is spent either way.
	if security.IsExpired(ticket.ExpiresAt) {
		delete(s.tickets, key)
		err = fmt.Errorf("%w: authorization ticket expired", storage.ErrTicketExpired)
		return nil, err
	}

	// ATOMIC DELETE - ensures only one request succeeds
	delete(s.tickets, key)

	s.logger.Debug("Atomically consumed authorization ticket",
		"client_id", ticket.ClientID,
		"code_prefix", util.SafeTruncate(code, codeLogLength))

	return ticket, nil
}

// DeleteTicket removes a ticket (explicit revocation)
func (s *Store) DeleteTicket(ctx context.Context, clientID, code string) error {
	ctx, span := s.startStorageSpan(ctx, "delete_ticket")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "delete_ticket", err, startTime)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.tickets, storage.TicketCodec.Key(clientID, code))
	s.logger.Debug("Deleted authorization ticket",
		"client_id", clientID,
		"code_prefix", util.SafeTruncate(code, codeLogLength))
	return nil
}

// ============================================================
// TokenStore Implementation
// ============================================================

// SaveAccessToken saves an issued access token
func (s *Store) SaveAccessToken(ctx context.Context, token *storage.AccessToken) error {
	ctx, span := s.startStorageSpan(ctx, "save_access_token")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "save_access_token", err, startTime)
	}()

	if token == nil || token.Token == "" || token.ClientID == "" {
		err = fmt.Errorf("invalid access token")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.tokens[storage.TokenCodec.Key(token.ClientID, token.Token)] = token
	s.logger.Debug("Saved access token",
		"client_id", token.ClientID,
		"token_prefix", util.SafeTruncate(token.Token, codeLogLength))
	return nil
}

// GetAccessToken retrieves a token by client and token value
func (s *Store) GetAccessToken(ctx context.Context, clientID, token string) (*storage.AccessToken, error) {
	ctx, span := s.startStorageSpan(ctx, "get_access_token")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "get_access_token", err, startTime)
	}()

	s.mu.RLock()
	defer s.mu.RUnlock()

	tok, ok := s.tokens[storage.TokenCodec.Key(clientID, token)]
	if !ok {
		err = storage.ErrTokenNotFound
		return nil, err
	}

	// Check if expired with clock skew grace period
	if security.IsExpired(tokenExpiry(tok)) {
		err = fmt.Errorf("%w: access token expired", storage.ErrTokenNotFound)
		return nil, err
	}

	tokCopy := *tok
	return &tokCopy, nil
}

// ListAccessTokens lists all tokens issued to a client
func (s *Store) ListAccessTokens(ctx context.Context, clientID string) ([]*storage.AccessToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tokens := make([]*storage.AccessToken, 0)
	for _, tok := range s.tokens {
		if tok.ClientID == clientID && !security.IsExpired(tokenExpiry(tok)) {
			tokCopy := *tok
			tokens = append(tokens, &tokCopy)
		}
	}

	return tokens, nil
}

// DeleteAccessToken removes a token (revocation)
func (s *Store) DeleteAccessToken(ctx context.Context, clientID, token string) error {
	ctx, span := s.startStorageSpan(ctx, "delete_access_token")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "delete_access_token", err, startTime)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.tokens, storage.TokenCodec.Key(clientID, token))
	s.logger.Debug("Deleted access token",
		"client_id", clientID,
		"token_prefix", util.SafeTruncate(token, codeLogLength))
	return nil
}

// tokenExpiry derives the absolute expiry of a token from its issuance time
// and lifetime. Zero means the token never expires.
func tokenExpiry(t *storage.AccessToken) time.Time {
	if t.ExpiresIn <= 0 || t.CreatedAt.IsZero() {
		return time.Time{}
	}
	return t.CreatedAt.Add(time.Duration(t.ExpiresIn) * time.Second)
}

// ============================================================
// Cleanup
// ============================================================

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

func (s *Store) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	cleaned := 0

	// Cleanup expired tickets (with clock skew grace period)
	for key, ticket := range s.tickets {
		if security.IsExpired(ticket.ExpiresAt) {
			delete(s.tickets, key)
			cleaned++
		}
	}

	// Cleanup expired access tokens (with clock skew grace period)
	for key, tok := range s.tokens {
		if security.IsExpired(tokenExpiry(tok)) {
			delete(s.tokens, key)
			cleaned++
		}
	}

	if cleaned > 0 {
		s.logger.Debug("Cleaned up expired entries", "count", cleaned)
	}
}

// ============================================================
// Instrumentation Helpers
// ============================================================

// startStorageSpan starts a new span for a storage operation
// Returns a context with the span attached and the span itself
func (s *Store) startStorageSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}

	ctx, span := s.tracer.Start(ctx, fmt.Sprintf("storage.%s", operation),
		trace.WithAttributes(
			attribute.String("operation", operation),
		))

	return ctx, span
}

// recordStorageOperation records metrics for a storage operation and sets span status
func (s *Store) recordStorageOperation(ctx context.Context, span trace.Span, operation string, err error, startTime time.Time) {
	if s.instrumentation == nil {
		return
	}

	durationMs := float64(time.Since(startTime).Milliseconds())
	result := "success"
	if err != nil {
		result = "error"
		instrumentation.RecordError(span, err)
	} else {
		instrumentation.RecordSuccess(span)
	}

	s.instrumentation.Metrics().RecordStorageOperation(ctx, operation, result, durationMs)
}
