// Package authcore implements an OAuth2-style authorization server core:
// the Authorization Code and Implicit grant flows plus client lifecycle
// management, backed by a pluggable key-value persistence layer.
//
// The grant engines are stateless; the configured storage backend is the
// only durable state. An external HTTP layer (see Handler) renders their
// results and errors onto the wire.
package authcore

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/keygrove/authcore/generate"
	"github.com/keygrove/authcore/storage"
	"github.com/keygrove/authcore/storage/memory"
	redisstore "github.com/keygrove/authcore/storage/redis"
)

// Server wires the value generators, storage backend, and grant engines
// from a Config.
type Server struct {
	config *Config
	store  storage.Store

	registry *ClientRegistry
	authCode *AuthorizationCodeGrant
	implicit *ImplicitGrant

	logger *slog.Logger
	closer func() error
}

// NewServer builds a fully wired server from the configuration. A
// *ConfigError is returned for unknown generator strategy or storage
// backend names; backend connectivity failures propagate as-is.
func NewServer(ctx context.Context, config *Config) (*Server, error) {
	if config == nil {
		config = &Config{}
	}
	config = applyDefaults(config)

	gens, err := buildGenerators(config.Generators)
	if err != nil {
		return nil, err
	}

	store, closer, err := buildStore(ctx, config)
	if err != nil {
		return nil, err
	}

	s := newServerWithStore(store, gens, config)
	s.closer = closer
	return s, nil
}

// NewServerWithStore builds a server on a caller-provided store. The caller
// keeps ownership of the store's lifecycle. This is the hook for test
// doubles and custom backends.
func NewServerWithStore(store storage.Store, config *Config) (*Server, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if config == nil {
		config = &Config{}
	}
	config = applyDefaults(config)

	gens, err := buildGenerators(config.Generators)
	if err != nil {
		return nil, err
	}

	return newServerWithStore(store, gens, config), nil
}

// generators bundles the four independent generator instances. All may use
// the same strategy, but are wired separately so strategies can later
// differ per purpose.
type generators struct {
	clientID     generate.Generator
	clientSecret generate.Generator
	authCode     generate.Generator
	accessToken  generate.Generator
}

func buildGenerators(cfg GeneratorConfig) (*generators, error) {
	g := &generators{}
	for _, binding := range []struct {
		name string
		dst  *generate.Generator
	}{
		{cfg.ClientID, &g.clientID},
		{cfg.ClientSecret, &g.clientSecret},
		{cfg.AuthorizationCode, &g.authCode},
		{cfg.AccessToken, &g.accessToken},
	} {
		gen, err := generate.New(binding.name)
		if err != nil {
			return nil, &ConfigError{Message: err.Error()}
		}
		*binding.dst = gen
	}
	return g, nil
}

// buildStore resolves the backend selector and constructs the storage
// backend. The selector match is trimmed and case-insensitive.
func buildStore(ctx context.Context, config *Config) (storage.Store, func() error, error) {
	backend := strings.ToLower(strings.TrimSpace(config.StorageBackend))
	switch backend {
	case BackendMemory:
		store := memory.NewWithInterval(config.CleanupInterval)
		store.SetLogger(config.Logger)
		store.SetInstrumentation(config.Instrumentation)
		return store, func() error {
			store.Stop()
			return nil
		}, nil

	case BackendRedis:
		store, err := redisstore.New(ctx, config.Redis)
		if err != nil {
			return nil, nil, err
		}
		store.SetLogger(config.Logger)
		store.SetInstrumentation(config.Instrumentation)
		return store, store.Close, nil

	default:
		return nil, nil, NewConfigError("Unknown storage backend type: %s", config.StorageBackend)
	}
}

func newServerWithStore(store storage.Store, gens *generators, config *Config) *Server {
	registry := NewClientRegistry(store, gens.clientID, gens.clientSecret, config.Logger)
	authCode := NewAuthorizationCodeGrant(store, gens.authCode, gens.accessToken, config.TicketTTL, config.AccessTokenTTL, config.Logger)
	implicit := NewImplicitGrant(store, gens.accessToken, config.AccessTokenTTL, config.Logger)

	if config.Instrumentation != nil {
		registry.SetInstrumentation(config.Instrumentation)
		authCode.SetInstrumentation(config.Instrumentation)
		implicit.SetInstrumentation(config.Instrumentation)
	}

	return &Server{
		config:   config,
		store:    store,
		registry: registry,
		authCode: authCode,
		implicit: implicit,
		logger:   config.Logger,
	}
}

// Registry returns the client registry.
func (s *Server) Registry() *ClientRegistry {
	return s.registry
}

// AuthorizationCode returns the authorization code grant engine.
func (s *Server) AuthorizationCode() *AuthorizationCodeGrant {
	return s.authCode
}

// Implicit returns the implicit grant engine.
func (s *Server) Implicit() *ImplicitGrant {
	return s.implicit
}

// Store returns the underlying storage backend.
func (s *Server) Store() storage.Store {
	return s.store
}

// Close releases the storage backend if the server owns it, and shuts down
// instrumentation when configured.
func (s *Server) Close(ctx context.Context) error {
	var err error
	if s.closer != nil {
		err = s.closer()
	}
	if s.config.Instrumentation != nil {
		if shutdownErr := s.config.Instrumentation.Shutdown(ctx); shutdownErr != nil && err == nil {
			err = shutdownErr
		}
	}
	return err
}
