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

// codeLogLength is the number of characters to include when logging codes
// and tokens.
const codeLogLength = 8

// AuthorizationCodeGrant implements the Authorization Code flow: authorize
// issues a short-lived single-use code, and IssueAccessToken exchanges it
// for a bearer token.
//
// Validation order is significant: unsupported-type check precedes
// client-existence check precedes ticket-existence check precedes
// redirect-URI check precedes client-match check. Reordering changes which
// error a malformed request surfaces.
type AuthorizationCodeGrant struct {
	clients  storage.ClientStore
	tickets  storage.TicketStore
	tokens   storage.TokenStore
	codeGen  generate.Generator
	tokenGen generate.Generator

	ticketTTL time.Duration
	tokenTTL  time.Duration

	logger  *slog.Logger
	metrics *instrumentation.Metrics
}

// NewAuthorizationCodeGrant creates the authorization code grant engine.
func NewAuthorizationCodeGrant(
	store storage.Store,
	codeGen, tokenGen generate.Generator,
	ticketTTL, tokenTTL time.Duration,
	logger *slog.Logger,
) *AuthorizationCodeGrant {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthorizationCodeGrant{
		clients:   store,
		tickets:   store,
		tokens:    store,
		codeGen:   codeGen,
		tokenGen:  tokenGen,
		ticketTTL: ticketTTL,
		tokenTTL:  tokenTTL,
		logger:    logger,
	}
}

// SetInstrumentation enables metric recording for grant operations.
func (g *AuthorizationCodeGrant) SetInstrumentation(inst *instrumentation.Instrumentation) {
	if inst != nil {
		g.metrics = inst.Metrics()
	}
}

// Authorize issues an authorization ticket for the client. The ticket echoes
// the request's redirect URI, scope, and state, and expires after the
// configured ticket TTL.
func (g *AuthorizationCodeGrant) Authorize(ctx context.Context, clientID, responseType, redirectURI, scope, state string) (*storage.AuthorizationTicket, error) {
	if responseType != ResponseTypeCode {
		return nil, ErrUnsupportedResponseType(fmt.Sprintf("Unsupported response type: %s", responseType))
	}

	if _, err := g.clients.GetClient(ctx, clientID); err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			return nil, ErrNotFound(fmt.Sprintf("Client not found: %s", clientID))
		}
		return nil, fmt.Errorf("failed to get client: %w", err)
	}

	now := time.Now().UTC()
	ticket := &storage.AuthorizationTicket{
		Code:        g.codeGen.Generate(),
		ClientID:    clientID,
		RedirectURI: redirectURI,
		Scope:       scope,
		State:       state,
		CreatedAt:   now,
		ExpiresAt:   now.Add(g.ticketTTL),
	}

	if err := g.tickets.SaveTicket(ctx, ticket); err != nil {
		return nil, fmt.Errorf("failed to save ticket: %w", err)
	}

	g.metrics.RecordTicketIssued(ctx, clientID)
	g.logger.Info("Issued authorization ticket",
		"client_id", clientID,
		"code_prefix", util.SafeTruncate(ticket.Code, codeLogLength),
		"expires_at", ticket.ExpiresAt)

	return ticket, nil
}

// IssueAccessToken exchanges an authorization code for a bearer token. The
// ticket is consumed atomically, so a code is redeemable at most once: of
// any number of concurrent exchanges for the same code, exactly one
// succeeds and the rest observe a missing ticket.
func (g *AuthorizationCodeGrant) IssueAccessToken(ctx context.Context, grantType, code, redirectURI, clientID string) (*storage.AccessToken, error) {
	if grantType != GrantTypeAuthorizationCode {
		return nil, ErrUnsupportedGrantType(fmt.Sprintf("Unsupported grant type: %s", grantType))
	}

	client, err := g.clients.GetClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			return nil, ErrNotFound(fmt.Sprintf("Client not found: %s", clientID))
		}
		return nil, fmt.Errorf("failed to get client: %w", err)
	}

	ticket, err := g.tickets.ConsumeTicket(ctx, code)
	if err != nil {
		if errors.Is(err, storage.ErrTicketNotFound) || errors.Is(err, storage.ErrTicketExpired) {
			return nil, ErrNotFound("Authorization ticket not found")
		}
		return nil, fmt.Errorf("failed to consume ticket: %w", err)
	}

	if ticket.RedirectURI != "" && ticket.RedirectURI != redirectURI {
		g.logger.Warn("Code exchange rejected: redirect URI mismatch",
			"client_id", clientID,
			"code_prefix", util.SafeTruncate(code, codeLogLength))
		return nil, ErrInvalidRequest(fmt.Sprintf("Mismatch of redirect URI: %s", redirectURI))
	}

	// The consume resolves by code alone, so one client presenting another
	// client's code reaches this point; it must not be allowed to redeem it.
	if ticket.ClientID != client.ID {
		g.logger.Warn("Code exchange rejected: ticket owned by another client",
			"client_id", clientID,
			"code_prefix", util.SafeTruncate(code, codeLogLength))
		return nil, ErrInvalidClient(fmt.Sprintf("Authorization ticket does not belong to client: %s", clientID))
	}

	now := time.Now().UTC()
	token := &storage.AccessToken{
		ClientID:  clientID,
		Token:     g.tokenGen.Generate(),
		TokenType: storage.TokenTypeBearer,
		ExpiresIn: int64(g.tokenTTL.Seconds()),
		Scope:     ticket.Scope,
		CreatedAt: now,
	}

	if err := g.tokens.SaveAccessToken(ctx, token); err != nil {
		return nil, fmt.Errorf("failed to save access token: %w", err)
	}

	g.metrics.RecordCodeExchange(ctx, clientID)
	g.metrics.RecordTokenIssued(ctx, clientID, GrantTypeAuthorizationCode)
	g.logger.Info("Issued access token via code exchange",
		"client_id", clientID,
		"token_prefix", util.SafeTruncate(token.Token, codeLogLength))

	return token, nil
}

// ListTickets returns all live tickets issued to the client.
func (g *AuthorizationCodeGrant) ListTickets(ctx context.Context, clientID string) ([]*storage.AuthorizationTicket, error) {
	if _, err := g.clients.GetClient(ctx, clientID); err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			return nil, ErrNotFound(fmt.Sprintf("Client not found: %s", clientID))
		}
		return nil, fmt.Errorf("failed to get client: %w", err)
	}

	tickets, err := g.tickets.ListTickets(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tickets: %w", err)
	}
	return tickets, nil
}

// GetTicket returns a single ticket without consuming it.
func (g *AuthorizationCodeGrant) GetTicket(ctx context.Context, clientID, code string) (*storage.AuthorizationTicket, error) {
	if _, err := g.clients.GetClient(ctx, clientID); err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			return nil, ErrNotFound(fmt.Sprintf("Client not found: %s", clientID))
		}
		return nil, fmt.Errorf("failed to get client: %w", err)
	}

	ticket, err := g.tickets.GetTicket(ctx, clientID, code)
	if err != nil {
		if errors.Is(err, storage.ErrTicketNotFound) || errors.Is(err, storage.ErrTicketExpired) {
			return nil, ErrNotFound("Authorization ticket not found")
		}
		return nil, fmt.Errorf("failed to get ticket: %w", err)
	}
	return ticket, nil
}

// RevokeTicket deletes a ticket before it is exchanged. Confidential clients
// must present their secret.
func (g *AuthorizationCodeGrant) RevokeTicket(ctx context.Context, clientID, code, suppliedSecret string) error {
	client, err := g.clients.GetClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			return ErrNotFound(fmt.Sprintf("Client not found: %s", clientID))
		}
		return fmt.Errorf("failed to get client: %w", err)
	}

	if err := security.VerifyClientSecret(client.SecretHash, suppliedSecret); err != nil {
		g.logger.Warn("Ticket revoke rejected: client secret mismatch", "client_id", clientID)
		return ErrUnauthorizedClient(fmt.Sprintf("Client secret mismatch for client: %s", clientID))
	}

	if _, err := g.tickets.GetTicket(ctx, clientID, code); err != nil {
		if errors.Is(err, storage.ErrTicketNotFound) || errors.Is(err, storage.ErrTicketExpired) {
			return ErrNotFound("Authorization ticket not found")
		}
		return fmt.Errorf("failed to get ticket: %w", err)
	}

	if err := g.tickets.DeleteTicket(ctx, clientID, code); err != nil {
		return fmt.Errorf("failed to delete ticket: %w", err)
	}

	g.logger.Info("Revoked authorization ticket",
		"client_id", clientID,
		"code_prefix", util.SafeTruncate(code, codeLogLength))
	return nil
}
