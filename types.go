package authcore

// Response and grant type values accepted by the grant engines. Each engine
// accepts exactly one value; anything else is an unsupported-type error.
const (
	// ResponseTypeCode requests an authorization code (Authorization Code Grant)
	ResponseTypeCode = "code"

	// ResponseTypeToken requests a token directly (Implicit Grant)
	ResponseTypeToken = "token"

	// GrantTypeAuthorizationCode exchanges an authorization code for a token
	GrantTypeAuthorizationCode = "authorization_code"
)

// ClientRegistration is the response to a client registration request.
// Secret is returned exactly once, at registration time; only its hash is
// stored.
type ClientRegistration struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret,omitempty"`
	ClientType   string `json:"client_type"`
	RedirectURI  string `json:"redirect_uri"`
}

// TicketResponse is the wire form of an issued authorization ticket
type TicketResponse struct {
	Code        string `json:"code"`
	ClientID    string `json:"client_id"`
	RedirectURI string `json:"redirect_uri,omitempty"`
	Scope       string `json:"scope,omitempty"`
	State       string `json:"state,omitempty"`
	ExpiresIn   int64  `json:"expires_in"`
}

// TokenResponse is the OAuth 2.0 token endpoint response (RFC 6749 §5.1)
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
	State        string `json:"state,omitempty"`
}

// ErrorResponse is the OAuth 2.0 error response body (RFC 6749 §5.2)
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}
