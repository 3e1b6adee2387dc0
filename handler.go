package authcore

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/keygrove/authcore/instrumentation"
	"github.com/keygrove/authcore/storage"
)

// Handler exposes the grant engines over HTTP. It is deliberately thin: it
// parses transport-level input, delegates to an engine, and renders the
// result or the engine's error onto the wire.
type Handler struct {
	server *Server
	logger *slog.Logger
	tracer trace.Tracer // OpenTelemetry tracer for HTTP layer
}

// NewHandler creates a new HTTP handler
func NewHandler(server *Server, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handler{
		server: server,
		logger: logger,
	}

	if server.config.Instrumentation != nil {
		h.tracer = server.config.Instrumentation.Tracer("http")
	}

	return h
}

// RegisterRoutes registers all endpoints on the mux. Each engine operation
// maps 1:1 to an endpoint.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /clients", h.instrument("/clients", h.handleRegisterClient))
	mux.HandleFunc("DELETE /clients/{id}", h.instrument("/clients/{id}", h.handleUnregisterClient))

	mux.HandleFunc("POST /authorization", h.instrument("/authorization", h.handleAuthorization))
	mux.HandleFunc("POST /token", h.instrument("/token", h.handleToken))

	mux.HandleFunc("GET /clients/{id}/tickets", h.instrument("/clients/{id}/tickets", h.handleListTickets))
	mux.HandleFunc("GET /clients/{id}/tickets/{code}", h.instrument("/clients/{id}/tickets/{code}", h.handleGetTicket))
	mux.HandleFunc("POST /clients/{id}/tickets/{code}/revoke", h.instrument("/clients/{id}/tickets/{code}/revoke", h.handleRevokeTicket))

	mux.HandleFunc("GET /clients/{id}/tokens", h.instrument("/clients/{id}/tokens", h.handleListAccessTokens))
	mux.HandleFunc("GET /clients/{id}/tokens/{token}", h.instrument("/clients/{id}/tokens/{token}", h.handleGetAccessToken))
	mux.HandleFunc("POST /clients/{id}/tokens/{token}/revoke", h.instrument("/clients/{id}/tokens/{token}/revoke", h.handleRevokeAccessToken))
}

// clientRegistrationRequest represents the JSON request for client registration
type clientRegistrationRequest struct {
	ClientType  string `json:"client_type"`
	RedirectURI string `json:"redirect_uri"`
}

func (h *Handler) handleRegisterClient(w http.ResponseWriter, r *http.Request) {
	var req clientRegistrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, ErrInvalidRequest("Invalid request body"))
		return
	}

	reg, err := h.server.Registry().Register(r.Context(), storage.ClientType(req.ClientType), req.RedirectURI)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, reg)
}

func (h *Handler) handleUnregisterClient(w http.ResponseWriter, r *http.Request) {
	clientID := r.PathValue("id")
	secret := r.URL.Query().Get("client_secret")

	if err := h.server.Registry().Unregister(r.Context(), clientID, secret); err != nil {
		h.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleAuthorization dispatches on response_type: "code" issues an
// authorization ticket, "token" issues an access token directly (implicit).
func (h *Handler) handleAuthorization(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.writeError(w, ErrInvalidRequest("Invalid form body"))
		return
	}

	clientID := r.PostForm.Get("client_id")
	responseType := r.PostForm.Get("response_type")
	scope := r.PostForm.Get("scope")
	state := r.PostForm.Get("state")

	switch responseType {
	case ResponseTypeToken:
		token, err := h.server.Implicit().IssueAccessToken(r.Context(), clientID, responseType, scope, state)
		if err != nil {
			h.writeError(w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, tokenResponse(token))

	default:
		// The code engine owns rejection of anything that is not "code",
		// keeping the pinned validation order intact.
		redirectURI := r.PostForm.Get("redirect_uri")
		ticket, err := h.server.AuthorizationCode().Authorize(r.Context(), clientID, responseType, redirectURI, scope, state)
		if err != nil {
			h.writeError(w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, ticketResponse(ticket))
	}
}

func (h *Handler) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.writeError(w, ErrInvalidRequest("Invalid form body"))
		return
	}

	grantType := r.PostForm.Get("grant_type")
	code := r.PostForm.Get("code")
	redirectURI := r.PostForm.Get("redirect_uri")
	clientID := r.PostForm.Get("client_id")

	token, err := h.server.AuthorizationCode().IssueAccessToken(r.Context(), grantType, code, redirectURI, clientID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, tokenResponse(token))
}

func (h *Handler) handleListTickets(w http.ResponseWriter, r *http.Request) {
	tickets, err := h.server.AuthorizationCode().ListTickets(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := make([]*TicketResponse, 0, len(tickets))
	for _, t := range tickets {
		resp = append(resp, ticketResponse(t))
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetTicket(w http.ResponseWriter, r *http.Request) {
	ticket, err := h.server.AuthorizationCode().GetTicket(r.Context(), r.PathValue("id"), r.PathValue("code"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, ticketResponse(ticket))
}

func (h *Handler) handleRevokeTicket(w http.ResponseWriter, r *http.Request) {
	secret := r.URL.Query().Get("client_secret")
	if err := h.server.AuthorizationCode().RevokeTicket(r.Context(), r.PathValue("id"), r.PathValue("code"), secret); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleListAccessTokens(w http.ResponseWriter, r *http.Request) {
	tokens, err := h.server.Implicit().ListAccessTokens(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := make([]*TokenResponse, 0, len(tokens))
	for _, t := range tokens {
		resp = append(resp, tokenResponse(t))
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetAccessToken(w http.ResponseWriter, r *http.Request) {
	token, err := h.server.Implicit().GetAccessToken(r.Context(), r.PathValue("id"), r.PathValue("token"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, tokenResponse(token))
}

func (h *Handler) handleRevokeAccessToken(w http.ResponseWriter, r *http.Request) {
	secret := r.URL.Query().Get("client_secret")
	if err := h.server.Implicit().RevokeAccessToken(r.Context(), r.PathValue("id"), r.PathValue("token"), secret); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ============================================================
// Response Rendering
// ============================================================

func ticketResponse(t *storage.AuthorizationTicket) *TicketResponse {
	expiresIn := int64(0)
	if !t.ExpiresAt.IsZero() {
		expiresIn = int64(time.Until(t.ExpiresAt).Seconds())
	}
	return &TicketResponse{
		Code:        t.Code,
		ClientID:    t.ClientID,
		RedirectURI: t.RedirectURI,
		Scope:       t.Scope,
		State:       t.State,
		ExpiresIn:   expiresIn,
	}
}

func tokenResponse(t *storage.AccessToken) *TokenResponse {
	return &TokenResponse{
		AccessToken:  t.Token,
		TokenType:    t.TokenType,
		ExpiresIn:    t.ExpiresIn,
		RefreshToken: t.RefreshToken,
		Scope:        t.Scope,
		State:        t.State,
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("Failed to encode response", "error", err)
	}
}

// writeError renders a domain error as an OAuth error response. Anything
// that is not a *Error is a backend failure and surfaces as a generic
// server error without leaking detail.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var oauthErr *Error
	if !errors.As(err, &oauthErr) {
		h.logger.Error("Internal error", "error", err)
		oauthErr = ErrServerError("Internal server error")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(oauthErr.Status)
	_ = json.NewEncoder(w).Encode(&ErrorResponse{
		Error:            oauthErr.Code,
		ErrorDescription: oauthErr.Description,
	})
}

// ============================================================
// Instrumentation
// ============================================================

// statusRecorder captures the response status for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// instrument wraps a handler with request metrics and a span.
func (h *Handler) instrument(endpoint string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if h.tracer != nil {
			var span trace.Span
			ctx, span = h.tracer.Start(ctx, r.Method+" "+endpoint,
				trace.WithAttributes(
					attribute.String(instrumentation.AttrHTTPMethod, r.Method),
					attribute.String(instrumentation.AttrHTTPEndpoint, endpoint),
				))
			defer span.End()
			r = r.WithContext(ctx)
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next(rec, r)

		if inst := h.server.config.Instrumentation; inst != nil {
			inst.Metrics().RecordHTTPRequest(ctx, r.Method, endpoint,
				rec.status, float64(time.Since(start).Milliseconds()))
		}
	}
}
