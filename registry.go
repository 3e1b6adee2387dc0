package authcore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/keygrove/authcore/generate"
	"github.com/keygrove/authcore/instrumentation"
	"github.com/keygrove/authcore/security"
	"github.com/keygrove/authcore/storage"
)

// ClientRegistry manages the client lifecycle: registration and
// unregistration. It is stateless and safe for concurrent use; the store is
// the only durable state.
type ClientRegistry struct {
	clients   storage.ClientStore
	idGen     generate.Generator
	secretGen generate.Generator
	logger    *slog.Logger
	metrics   *instrumentation.Metrics
}

// NewClientRegistry creates a client registry.
func NewClientRegistry(clients storage.ClientStore, idGen, secretGen generate.Generator, logger *slog.Logger) *ClientRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &ClientRegistry{
		clients:   clients,
		idGen:     idGen,
		secretGen: secretGen,
		logger:    logger,
	}
}

// SetInstrumentation enables metric recording for registry operations.
func (r *ClientRegistry) SetInstrumentation(inst *instrumentation.Instrumentation) {
	if inst != nil {
		r.metrics = inst.Metrics()
	}
}

// Register creates a new client for the given redirect URI. A secret is
// generated only for confidential clients and is returned exactly once;
// storage keeps only its bcrypt hash.
//
// A redirect URI may belong to at most one client. Allowing duplicates would
// silently break redirect-URI based client lookup, so registration of an
// already-claimed URI is rejected.
func (r *ClientRegistry) Register(ctx context.Context, clientType storage.ClientType, redirectURI string) (*ClientRegistration, error) {
	if redirectURI == "" {
		return nil, ErrInvalidRequest("Missing redirect URI")
	}
	u, err := url.Parse(redirectURI)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return nil, ErrInvalidRequest(fmt.Sprintf("Invalid redirect URI: %s", redirectURI))
	}
	if clientType != storage.ClientTypeConfidential && clientType != storage.ClientTypePublic {
		return nil, ErrInvalidRequest(fmt.Sprintf("Invalid client type: %s", clientType))
	}

	existing, err := r.clients.FindClientByRedirectURI(ctx, redirectURI)
	if err != nil && !errors.Is(err, storage.ErrClientNotFound) {
		return nil, fmt.Errorf("failed to check redirect URI: %w", err)
	}
	if existing != nil {
		return nil, ErrInvalidRequest(fmt.Sprintf("Client already registered for redirect URI: %s", redirectURI))
	}

	client := &storage.Client{
		ID:          r.idGen.Generate(),
		Type:        clientType,
		RedirectURI: redirectURI,
		CreatedAt:   time.Now().UTC(),
	}

	secret := ""
	if clientType == storage.ClientTypeConfidential {
		secret = r.secretGen.Generate()
		hash, err := security.HashClientSecret(secret)
		if err != nil {
			return nil, fmt.Errorf("failed to hash client secret: %w", err)
		}
		client.SecretHash = hash
	}

	if err := r.clients.SaveClient(ctx, client); err != nil {
		return nil, fmt.Errorf("failed to save client: %w", err)
	}

	r.metrics.RecordClientRegistration(ctx, string(clientType))
	r.logger.Info("Registered client",
		"client_id", client.ID,
		"client_type", clientType,
		"redirect_uri", redirectURI)

	return &ClientRegistration{
		ClientID:     client.ID,
		ClientSecret: secret,
		ClientType:   string(clientType),
		RedirectURI:  redirectURI,
	}, nil
}

// Unregister removes a client. Confidential clients must present their
// secret. Tickets and tokens issued to the client are not cascade-deleted;
// they expire on their own TTLs.
func (r *ClientRegistry) Unregister(ctx context.Context, clientID, suppliedSecret string) error {
	if clientID == "" {
		return ErrInvalidRequest("Missing client ID")
	}

	client, err := r.clients.GetClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			return ErrNotFound(fmt.Sprintf("Client not found: %s", clientID))
		}
		return fmt.Errorf("failed to get client: %w", err)
	}

	if client.IsConfidential() {
		if err := security.VerifyClientSecret(client.SecretHash, suppliedSecret); err != nil {
			r.logger.Warn("Unregister rejected: client secret mismatch", "client_id", clientID)
			return ErrUnauthorizedClient(fmt.Sprintf("Client secret mismatch for client: %s", clientID))
		}
	}

	if err := r.clients.DeleteClient(ctx, clientID); err != nil {
		return fmt.Errorf("failed to delete client: %w", err)
	}

	r.metrics.RecordClientUnregistration(ctx)
	r.logger.Info("Unregistered client", "client_id", clientID)
	return nil
}
