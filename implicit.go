package authcore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/keygrove/authcore/generate"
	"github.com/keygrove/authcore/instrumentation"
	"github.com/keygrove/authcore/internal/util"
	"github.com/keygrove/authcore/security"
	"github.com/keygrove/authcore/storage"
)

// ImplicitGrant implements the Implicit flow: tokens are issued directly,
// with no intermediate authorization code, and echo the client-supplied
// state value.
type ImplicitGrant struct {
	clients  storage.ClientStore
	tokens   storage.TokenStore
	tokenGen generate.Generator

	tokenTTL time.Duration

	logger  *slog.Logger
	metrics *instrumentation.Metrics
}

// NewImplicitGrant creates the implicit grant engine.
func NewImplicitGrant(
	store storage.Store,
	tokenGen generate.Generator,
	tokenTTL time.Duration,
	logger *slog.Logger,
) *ImplicitGrant {
	if logger == nil {
		logger = slog.Default()
	}
	return &ImplicitGrant{
		clients:  store,
		tokens:   store,
		tokenGen: tokenGen,
		tokenTTL: tokenTTL,
		logger:   logger,
	}
}

// SetInstrumentation enables metric recording for grant operations.
func (g *ImplicitGrant) SetInstrumentation(inst *instrumentation.Instrumentation) {
	if inst != nil {
		g.metrics = inst.Metrics()
	}
}

// IssueAccessToken issues a bearer token directly to the client, echoing
// the supplied state back for correlation.
func (g *ImplicitGrant) IssueAccessToken(ctx context.Context, clientID, responseType, scope, state string) (*storage.AccessToken, error) {
	if responseType != ResponseTypeToken {
		return nil, ErrUnsupportedResponseType(fmt.Sprintf("Unsupported response type: %s", responseType))
	}

	if _, err := g.clients.GetClient(ctx, clientID); err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			return nil, ErrNotFound(fmt.Sprintf("Client not found: %s", clientID))
		}
		return nil, fmt.Errorf("failed to get client: %w", err)
	}

	now := time.Now().UTC()
	token := &storage.AccessToken{
		ClientID:  clientID,
		Token:     g.tokenGen.Generate(),
		TokenType: storage.TokenTypeBearer,
		ExpiresIn: int64(g.tokenTTL.Seconds()),
		Scope:     scope,
		State:     state,
		CreatedAt: now,
	}

	if err := g.tokens.SaveAccessToken(ctx, token); err != nil {
		return nil, fmt.Errorf("failed to save access token: %w", err)
	}

	g.metrics.RecordTokenIssued(ctx, clientID, "implicit")
	g.logger.Info("Issued access token via implicit grant",
		"client_id", clientID,
		"token_prefix", util.SafeTruncate(token.Token, codeLogLength))

	return token, nil
}

// ListAccessTokens returns all live tokens issued to the client.
func (g *ImplicitGrant) ListAccessTokens(ctx context.Context, clientID string) ([]*storage.AccessToken, error) {
	if _, err := g.clients.GetClient(ctx, clientID); err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			return nil, ErrNotFound(fmt.Sprintf("Client not found: %s", clientID))
		}
		return nil, fmt.Errorf("failed to get client: %w", err)
	}

	tokens, err := g.tokens.ListAccessTokens(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("failed to list access tokens: %w", err)
	}
	return tokens, nil
}

// GetAccessToken returns a single token. Same not-found cascade as revoke,
// minus the secret check.
func (g *ImplicitGrant) GetAccessToken(ctx context.Context, clientID, accessToken string) (*storage.AccessToken, error) {
	if _, err := g.clients.GetClient(ctx, clientID); err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			return nil, ErrNotFound(fmt.Sprintf("Client not found: %s", clientID))
		}
		return nil, fmt.Errorf("failed to get client: %w", err)
	}

	token, err := g.tokens.GetAccessToken(ctx, clientID, accessToken)
	if err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) {
			return nil, ErrNotFound("Access token not found")
		}
		return nil, fmt.Errorf("failed to get access token: %w", err)
	}
	return token, nil
}

// RevokeAccessToken deletes a token. Confidential clients must present
// their secret; public clients revoke unconditionally.
func (g *ImplicitGrant) RevokeAccessToken(ctx context.Context, clientID, accessToken, suppliedSecret string) error {
	client, err := g.clients.GetClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			return ErrNotFound(fmt.Sprintf("Client not found: %s", clientID))
		}
		return fmt.Errorf("failed to get client: %w", err)
	}

	if err := security.VerifyClientSecret(client.SecretHash, suppliedSecret); err != nil {
		g.logger.Warn("Token revoke rejected: client secret mismatch", "client_id", clientID)
		return ErrUnauthorizedClient(fmt.Sprintf("Client secret mismatch for client: %s", clientID))
	}

	if _, err := g.tokens.GetAccessToken(ctx, clientID, accessToken); err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) {
			return ErrNotFound("Access token not found")
		}
		return fmt.Errorf("failed to get access token: %w", err)
	}

	if err := g.tokens.DeleteAccessToken(ctx, clientID, accessToken); err != nil {
		return fmt.Errorf("failed to delete access token: %w", err)
	}

	g.metrics.RecordTokenRevocation(ctx, clientID)
	g.logger.Info("Revoked access token",
		"client_id", clientID,
		"token_prefix", util.SafeTruncate(accessToken, codeLogLength))
	return nil
}
