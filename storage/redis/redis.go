// Package redis provides a Redis-backed implementation of all storage
// interfaces with Sentinel failover support. Entities are persisted as Redis
// hashes under codec-derived keys, enabling horizontal scaling across
// multiple server instances sharing one master.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/keygrove/authcore/instrumentation"
	"github.com/keygrove/authcore/internal/util"
	"github.com/keygrove/authcore/security"
	"github.com/keygrove/authcore/storage"
)

// Default timeouts for Redis operations.
const (
	DefaultDialTimeout  = 5 * time.Second
	DefaultReadTimeout  = 3 * time.Second
	DefaultWriteTimeout = 3 * time.Second

	// DefaultKeyPrefix namespaces all keys written by this package.
	DefaultKeyPrefix = "authcore:"
)

// codeLogLength is the number of characters to include when logging codes
// and tokens.
const codeLogLength = 8

// Config holds Redis connection configuration.
type Config struct {
	// MasterName is the Sentinel master set name.
	MasterName string

	// SentinelAddrs is the list of Sentinel addresses to query for the
	// current master. At least one is required.
	SentinelAddrs []string

	// DB selects the logical Redis database.
	DB int

	// Username and Password authenticate against the master (ACL user).
	Username string
	Password string

	// KeyPrefix namespaces keys for multi-tenancy (default "authcore:").
	KeyPrefix string

	// PoolSize bounds the connection pool. When the pool is exhausted,
	// callers block up to PoolTimeout before failing; a zero PoolTimeout
	// uses the client default.
	PoolSize    int
	PoolTimeout time.Duration

	// Timeouts (defaults: Dial=5s, Read=3s, Write=3s).
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Store implements all storage interfaces against a Redis/Sentinel
// deployment.
type Store struct {
	client    goredis.UniversalClient
	keyPrefix string

	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer

	logger *slog.Logger
}

// Compile-time interface checks to ensure Store implements all storage interfaces
var (
	_ storage.ClientStore = (*Store)(nil)
	_ storage.TicketStore = (*Store)(nil)
	_ storage.TokenStore  = (*Store)(nil)
	_ storage.Store       = (*Store)(nil)
)

// New creates Redis-backed storage with Sentinel failover support.
// Returns error if configuration validation fails or connection cannot be
// established.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid redis configuration: %w", err)
	}

	// Apply defaults
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}

	client := goredis.NewFailoverClient(&goredis.FailoverOptions{
		MasterName:    cfg.MasterName,
		SentinelAddrs: cfg.SentinelAddrs,
		DB:            cfg.DB,
		Username:      cfg.Username,
		Password:      cfg.Password,
		DialTimeout:   cfg.DialTimeout,
		ReadTimeout:   cfg.ReadTimeout,
		WriteTimeout:  cfg.WriteTimeout,
		PoolSize:      cfg.PoolSize,
		PoolTimeout:   cfg.PoolTimeout,
	})

	// Test connection
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Store{
		client:    client,
		keyPrefix: cfg.KeyPrefix,
		logger:    slog.Default(),
	}, nil
}

// NewWithClient creates a Store with a pre-configured client.
// This is useful for testing with miniredis.
func NewWithClient(client goredis.UniversalClient, keyPrefix string) *Store {
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	return &Store{
		client:    client,
		keyPrefix: keyPrefix,
		logger:    slog.Default(),
	}
}

func validateConfig(cfg *Config) error {
	if cfg.MasterName == "" {
		return errors.New("sentinel master name is required")
	}
	if len(cfg.SentinelAddrs) == 0 {
		return errors.New("at least one sentinel address is required")
	}
	return nil
}

// SetLogger sets a custom logger
func (s *Store) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

// SetInstrumentation sets OpenTelemetry instrumentation for the store
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.instrumentation = inst
	if inst != nil {
		s.tracer = inst.Tracer("storage")
	}
}

// Close closes the Redis client connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Ping checks Redis connectivity (health check).
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// key prefixes a codec key with the configured namespace.
func (s *Store) key(codecKey string) string {
	return s.keyPrefix + codecKey
}

// -----------------------
// ClientStore
// -----------------------

// SaveClient saves a registered client. Clients do not expire.
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

	key := s.key(storage.ClientCodec.Key(client.ID))
	if err = s.client.HSet(ctx, key, storage.ClientCodec.Encode(client)).Err(); err != nil {
		err = fmt.Errorf("failed to save client: %w", err)
		return err
	}

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

	key := s.key(storage.ClientCodec.Key(clientID))
	hash, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		err = fmt.Errorf("failed to get client: %w", err)
		return nil, err
	}
	// HGETALL returns an empty map for a missing key, not redis.Nil
	if len(hash) == 0 {
		err = fmt.Errorf("%w: %s", storage.ErrClientNotFound, clientID)
		return nil, err
	}

	client, err := storage.ClientCodec.Decode(hash)
	if err != nil {
		err = fmt.Errorf("failed to decode client: %w", err)
		return nil, err
	}
	return client, nil
}

// FindClientByRedirectURI retrieves the first client registered with the
// given redirect URI by scanning the client keyspace.
func (s *Store) FindClientByRedirectURI(ctx context.Context, redirectURI string) (*storage.Client, error) {
	ctx, span := s.startStorageSpan(ctx, "find_client_by_redirect_uri")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "find_client_by_redirect_uri", err, startTime)
	}()

	var found *storage.Client
	err = s.scan(ctx, s.key(storage.ClientCodec.Key("")), func(hash map[string]string) (bool, error) {
		client, decodeErr := storage.ClientCodec.Decode(hash)
		if decodeErr != nil {
			return false, decodeErr
		}
		if client.RedirectURI == redirectURI {
			found = client
			return false, nil
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		err = fmt.Errorf("%w: redirect URI %s", storage.ErrClientNotFound, redirectURI)
		return nil, err
	}
	return found, nil
}

// ListClients lists all registered clients
func (s *Store) ListClients(ctx context.Context) ([]*storage.Client, error) {
	clients := make([]*storage.Client, 0)
	err := s.scan(ctx, s.key(storage.ClientCodec.Key("")), func(hash map[string]string) (bool, error) {
		client, decodeErr := storage.ClientCodec.Decode(hash)
		if decodeErr != nil {
			return false, decodeErr
		}
		clients = append(clients, client)
		return true, nil
	})
	if err != nil {
		return nil, err
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

	if err = s.client.Del(ctx, s.key(storage.ClientCodec.Key(clientID))).Err(); err != nil {
		err = fmt.Errorf("failed to delete client: %w", err)
		return err
	}
	s.logger.Debug("Deleted client", "client_id", clientID)
	return nil
}

// -----------------------
// TicketStore
// -----------------------

// SaveTicket saves an issued authorization ticket. The Redis TTL mirrors the
// ticket's expiry so the server never needs a cleanup pass.
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

	key := s.key(storage.TicketCodec.Key(ticket.ClientID, ticket.Code))
	if err = s.client.HSet(ctx, key, storage.TicketCodec.Encode(ticket)).Err(); err != nil {
		err = fmt.Errorf("failed to save ticket: %w", err)
		return err
	}

	if !ticket.ExpiresAt.IsZero() {
		// Keep the entry slightly past its logical expiry so reads inside
		// the clock skew grace period still resolve.
		ttl := time.Until(ticket.ExpiresAt) + security.DefaultClockSkewGracePeriod
		if ttl > 0 {
			if err = s.client.Expire(ctx, key, ttl).Err(); err != nil {
				err = fmt.Errorf("failed to set ticket TTL: %w", err)
				return err
			}
		}
	}

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

	key := s.key(storage.TicketCodec.Key(clientID, code))
	hash, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		err = fmt.Errorf("failed to get ticket: %w", err)
		return nil, err
	}
	if len(hash) == 0 {
		err = storage.ErrTicketNotFound
		return nil, err
	}

	ticket, err := storage.TicketCodec.Decode(hash)
	if err != nil {
		err = fmt.Errorf("failed to decode ticket: %w", err)
		return nil, err
	}

	// The Redis TTL lags the logical expiry by the grace period, so the
	// expiry still has to be checked here.
	if security.IsExpired(ticket.ExpiresAt) {
		err = fmt.Errorf("%w: authorization ticket expired", storage.ErrTicketExpired)
		return nil, err
	}

	return ticket, nil
}

// ListTickets lists all tickets issued to a client
func (s *Store) ListTickets(ctx context.Context, clientID string) ([]*storage.AuthorizationTicket, error) {
	tickets := make([]*storage.AuthorizationTicket, 0)
	err := s.scan(ctx, s.key(storage.TicketCodec.Key(clientID, "")), func(hash map[string]string) (bool, error) {
		ticket, decodeErr := storage.TicketCodec.Decode(hash)
		if decodeErr != nil {
			return false, decodeErr
		}
		if !security.IsExpired(ticket.ExpiresAt) {
			tickets = append(tickets, ticket)
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return tickets, nil
}

// consumeTicketScript atomically reads and deletes a ticket hash.
// Returns the flat field-value list, or false when the key is missing, which
// go-redis surfaces as redis.Nil. Running it as a script guarantees only one
// concurrent caller observes the ticket.
var consumeTicketScript = goredis.NewScript(`
local data = redis.call('HGETALL', KEYS[1])
if #data == 0 then
	return false
end
redis.call('DEL', KEYS[1])
return data
`)

// ConsumeTicket atomically retrieves and deletes a ticket by its code. The
// key is resolved with a wildcard scan across clients; the delete itself
// runs as a script, so of any number of concurrent callers racing on the
// same code exactly one observes the ticket.
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

	pattern := s.key(storage.TicketCodec.Key("", code))
	iter := s.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		result, runErr := consumeTicketScript.Run(ctx, s.client, []string{iter.Val()}).Result()
		if runErr != nil {
			// A concurrent caller consumed the key between SCAN and the
			// script; keep looking in case of further matches.
			if errors.Is(runErr, goredis.Nil) {
				continue
			}
			err = fmt.Errorf("failed to consume ticket: %w", runErr)
			return nil, err
		}

		hash, hashErr := flatToHash(result)
		if hashErr != nil {
			err = fmt.Errorf("failed to consume ticket: %w", hashErr)
			return nil, err
		}

		ticket, decodeErr := storage.TicketCodec.Decode(hash)
		if decodeErr != nil {
			err = fmt.Errorf("failed to decode ticket: %w", decodeErr)
			return nil, err
		}

		// The entry is already gone either way; an expired ticket just
		// reports a different error.
		if security.IsExpired(ticket.ExpiresAt) {
			err = fmt.Errorf("%w: authorization ticket expired", storage.ErrTicketExpired)
			return nil, err
		}

		s.logger.Debug("Atomically consumed authorization ticket",
			"client_id", ticket.ClientID,
			"code_prefix", util.SafeTruncate(code, codeLogLength))

		return ticket, nil
	}
	if iterErr := iter.Err(); iterErr != nil {
		err = fmt.Errorf("failed to consume ticket: %w", iterErr)
		return nil, err
	}

	err = fmt.Errorf("%w: ticket not found or already used", storage.ErrTicketNotFound)
	return nil, err
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

	if err = s.client.Del(ctx, s.key(storage.TicketCodec.Key(clientID, code))).Err(); err != nil {
		err = fmt.Errorf("failed to delete ticket: %w", err)
		return err
	}
	s.logger.Debug("Deleted authorization ticket",
		"client_id", clientID,
		"code_prefix", util.SafeTruncate(code, codeLogLength))
	return nil
}

// -----------------------
// TokenStore
// -----------------------

// SaveAccessToken saves an issued access token with a TTL derived from its
// lifetime.
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

	key := s.key(storage.TokenCodec.Key(token.ClientID, token.Token))
	if err = s.client.HSet(ctx, key, storage.TokenCodec.Encode(token)).Err(); err != nil {
		err = fmt.Errorf("failed to save access token: %w", err)
		return err
	}

	if exp := tokenExpiry(token); !exp.IsZero() {
		ttl := time.Until(exp) + security.DefaultClockSkewGracePeriod
		if ttl > 0 {
			if err = s.client.Expire(ctx, key, ttl).Err(); err != nil {
				err = fmt.Errorf("failed to set access token TTL: %w", err)
				return err
			}
		}
	}

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

	key := s.key(storage.TokenCodec.Key(clientID, token))
	hash, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		err = fmt.Errorf("failed to get access token: %w", err)
		return nil, err
	}
	if len(hash) == 0 {
		err = storage.ErrTokenNotFound
		return nil, err
	}

	tok, err := storage.TokenCodec.Decode(hash)
	if err != nil {
		err = fmt.Errorf("failed to decode access token: %w", err)
		return nil, err
	}

	if security.IsExpired(tokenExpiry(tok)) {
		err = fmt.Errorf("%w: access token expired", storage.ErrTokenNotFound)
		return nil, err
	}

	return tok, nil
}

// ListAccessTokens lists all tokens issued to a client
func (s *Store) ListAccessTokens(ctx context.Context, clientID string) ([]*storage.AccessToken, error) {
	tokens := make([]*storage.AccessToken, 0)
	err := s.scan(ctx, s.key(storage.TokenCodec.Key(clientID, "")), func(hash map[string]string) (bool, error) {
		tok, decodeErr := storage.TokenCodec.Decode(hash)
		if decodeErr != nil {
			return false, decodeErr
		}
		if !security.IsExpired(tokenExpiry(tok)) {
			tokens = append(tokens, tok)
		}
		return true, nil
	})
	if err != nil {
		return nil, err
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

	if err = s.client.Del(ctx, s.key(storage.TokenCodec.Key(clientID, token))).Err(); err != nil {
		err = fmt.Errorf("failed to delete access token: %w", err)
		return err
	}
	s.logger.Debug("Deleted access token",
		"client_id", clientID,
		"token_prefix", util.SafeTruncate(token, codeLogLength))
	return nil
}

// -----------------------
// Helpers
// -----------------------

// scan iterates all hashes whose keys match the given pattern, invoking fn
// for each. fn returns false to stop early.
func (s *Store) scan(ctx context.Context, pattern string, fn func(hash map[string]string) (bool, error)) error {
	iter := s.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		hash, err := s.client.HGetAll(ctx, iter.Val()).Result()
		if err != nil {
			return fmt.Errorf("failed to scan keys: %w", err)
		}
		// Key may have expired between SCAN and HGETALL
		if len(hash) == 0 {
			continue
		}
		cont, err := fn(hash)
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan keys: %w", err)
	}
	return nil
}

// flatToHash converts the flat field-value list returned by a Lua HGETALL
// into a string map.
func flatToHash(result interface{}) (map[string]string, error) {
	flat, ok := result.([]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected script result type %T", result)
	}
	if len(flat)%2 != 0 {
		return nil, fmt.Errorf("odd-length hash reply")
	}
	hash := make(map[string]string, len(flat)/2)
	for i := 0; i < len(flat); i += 2 {
		field, ok := flat[i].(string)
		if !ok {
			return nil, fmt.Errorf("unexpected hash field type %T", flat[i])
		}
		value, ok := flat[i+1].(string)
		if !ok {
			return nil, fmt.Errorf("unexpected hash value type %T", flat[i+1])
		}
		hash[field] = value
	}
	return hash, nil
}

// tokenExpiry derives the absolute expiry of a token from its issuance time
// and lifetime. Zero means the token never expires.
func tokenExpiry(t *storage.AccessToken) time.Time {
	if t.ExpiresIn <= 0 || t.CreatedAt.IsZero() {
		return time.Time{}
	}
	return t.CreatedAt.Add(time.Duration(t.ExpiresIn) * time.Second)
}

// -----------------------
// Instrumentation Helpers
// -----------------------

// startStorageSpan starts a new span for a storage operation
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
