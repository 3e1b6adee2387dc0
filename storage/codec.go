package storage

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Wildcard is substituted for an unknown key segment, enabling pattern-based
// multi-result lookups against backends that support key scans.
const Wildcard = "*"

// Field describes one persisted field of an entity: its hash name and how to
// read/write it as a string. Only fields listed in a codec's table are
// persisted; everything else on the struct is transient.
type Field[E any] struct {
	// Name is the hash field name.
	Name string

	// Get returns the serialized value, or "" when the field is unset.
	// Unset fields are omitted from the hash entirely rather than written
	// as empty strings, so partial reads never clobber absent data.
	Get func(e *E) string

	// Set parses a serialized value back into the entity. A parse failure
	// aborts the whole decode.
	Set func(e *E, v string) error
}

// Codec converts one entity type to and from a flat string-keyed hash and
// computes its storage key. The field table is an explicit, compile-time
// description of what gets persisted; there is no reflection involved.
type Codec[E any] struct {
	entity string
	fields []Field[E]
}

// NewCodec builds a codec for the named entity type from its field table.
func NewCodec[E any](entity string, fields []Field[E]) *Codec[E] {
	return &Codec[E]{entity: entity, fields: fields}
}

// Entity returns the entity-type name used as the key prefix.
func (c *Codec[E]) Entity() string {
	return c.entity
}

// Key computes the storage key "<entity>:<part>:<part>…". An empty part is
// replaced with Wildcard, which callers use for partial-key scans.
func (c *Codec[E]) Key(parts ...string) string {
	segs := make([]string, 0, len(parts)+1)
	segs = append(segs, c.entity)
	for _, p := range parts {
		if p == "" {
			p = Wildcard
		}
		segs = append(segs, p)
	}
	return strings.Join(segs, ":")
}

// Encode serializes the entity into a flat hash. Unset fields are omitted.
func (c *Codec[E]) Encode(e *E) map[string]string {
	h := make(map[string]string, len(c.fields))
	for _, f := range c.fields {
		if v := f.Get(e); v != "" {
			h[f.Name] = v
		}
	}
	return h
}

// Decode deserializes a hash into a fresh entity. Fields absent from the
// hash are left at their zero value; unknown hash fields are ignored. Any
// parse failure fails the whole decode and yields no entity.
func (c *Codec[E]) Decode(h map[string]string) (*E, error) {
	e := new(E)
	for _, f := range c.fields {
		v, ok := h[f.Name]
		if !ok {
			continue
		}
		if err := f.Set(e, v); err != nil {
			return nil, fmt.Errorf("decode %s field %q: %w", c.entity, f.Name, err)
		}
	}
	return e, nil
}

// stringField maps a plain string field.
func stringField[E any](name string, acc func(*E) *string) Field[E] {
	return Field[E]{
		Name: name,
		Get:  func(e *E) string { return *acc(e) },
		Set: func(e *E, v string) error {
			*acc(e) = v
			return nil
		},
	}
}

// int64Field maps an integer field as its decimal string form.
func int64Field[E any](name string, acc func(*E) *int64) Field[E] {
	return Field[E]{
		Name: name,
		Get: func(e *E) string {
			if n := *acc(e); n != 0 {
				return strconv.FormatInt(n, 10)
			}
			return ""
		},
		Set: func(e *E, v string) error {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return err
			}
			*acc(e) = n
			return nil
		},
	}
}

// timeField maps a timestamp as Unix seconds in decimal form.
func timeField[E any](name string, acc func(*E) *time.Time) Field[E] {
	return Field[E]{
		Name: name,
		Get: func(e *E) string {
			if t := *acc(e); !t.IsZero() {
				return strconv.FormatInt(t.Unix(), 10)
			}
			return ""
		},
		Set: func(e *E, v string) error {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return err
			}
			*acc(e) = time.Unix(n, 0).UTC()
			return nil
		},
	}
}

// clientTypeField maps the ClientType enum by name, case-sensitively.
func clientTypeField[E any](name string, acc func(*E) *ClientType) Field[E] {
	return Field[E]{
		Name: name,
		Get:  func(e *E) string { return string(*acc(e)) },
		Set: func(e *E, v string) error {
			switch ClientType(v) {
			case ClientTypeConfidential, ClientTypePublic:
				*acc(e) = ClientType(v)
				return nil
			default:
				return fmt.Errorf("unknown client type %q", v)
			}
		},
	}
}

// ClientCodec maps Client entities. The key is templated on (clientID).
var ClientCodec = NewCodec("client", []Field[Client]{
	stringField("id", func(c *Client) *string { return &c.ID }),
	stringField("secret_hash", func(c *Client) *string { return &c.SecretHash }),
	clientTypeField("type", func(c *Client) *ClientType { return &c.Type }),
	stringField("redirect_uri", func(c *Client) *string { return &c.RedirectURI }),
	timeField("created_at", func(c *Client) *time.Time { return &c.CreatedAt }),
})

// TicketCodec maps AuthorizationTicket entities. The key is templated on
// (clientID, code).
var TicketCodec = NewCodec("ticket", []Field[AuthorizationTicket]{
	stringField("code", func(t *AuthorizationTicket) *string { return &t.Code }),
	stringField("client_id", func(t *AuthorizationTicket) *string { return &t.ClientID }),
	stringField("redirect_uri", func(t *AuthorizationTicket) *string { return &t.RedirectURI }),
	stringField("scope", func(t *AuthorizationTicket) *string { return &t.Scope }),
	stringField("state", func(t *AuthorizationTicket) *string { return &t.State }),
	timeField("created_at", func(t *AuthorizationTicket) *time.Time { return &t.CreatedAt }),
	timeField("expires_at", func(t *AuthorizationTicket) *time.Time { return &t.ExpiresAt }),
})

// TokenCodec maps AccessToken entities. The key is templated on
// (clientID, token).
var TokenCodec = NewCodec("token", []Field[AccessToken]{
	stringField("client_id", func(t *AccessToken) *string { return &t.ClientID }),
	stringField("access_token", func(t *AccessToken) *string { return &t.Token }),
	stringField("token_type", func(t *AccessToken) *string { return &t.TokenType }),
	int64Field("expires_in", func(t *AccessToken) *int64 { return &t.ExpiresIn }),
	stringField("refresh_token", func(t *AccessToken) *string { return &t.RefreshToken }),
	stringField("scope", func(t *AccessToken) *string { return &t.Scope }),
	stringField("state", func(t *AccessToken) *string { return &t.State }),
	timeField("created_at", func(t *AccessToken) *time.Time { return &t.CreatedAt }),
})
