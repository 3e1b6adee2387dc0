package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keygrove/authcore/internal/testutil"
	"github.com/keygrove/authcore/storage"
)

// newTestStore spins up a miniredis instance and returns a Store backed by it.
func newTestStore(t *testing.T) *Store {
	t.Helper()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewWithClient(client, "test:")
}

func TestNew_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{
			name: "missing master name",
			cfg:  Config{SentinelAddrs: []string{"localhost:26379"}},
		},
		{
			name: "missing sentinel addrs",
			cfg:  Config{MasterName: "mymaster"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(context.Background(), tt.cfg)
			require.Error(t, err)
		})
	}
}

func TestStore_SaveAndGetClient(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	client := testutil.NewTestClient()
	client.Type = storage.ClientTypeConfidential
	client.SecretHash = "$2a$10$abcdefghijklmnopqrstuv"

	require.NoError(t, store.SaveClient(ctx, client))

	got, err := store.GetClient(ctx, client.ID)
	require.NoError(t, err)
	assert.Equal(t, client.ID, got.ID)
	assert.Equal(t, client.SecretHash, got.SecretHash)
	assert.Equal(t, storage.ClientTypeConfidential, got.Type)
	assert.Equal(t, client.RedirectURI, got.RedirectURI)
	assert.Equal(t, client.CreatedAt.Unix(), got.CreatedAt.Unix())
}

func TestStore_GetClient_NotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetClient(context.Background(), "nonexistent")
	require.ErrorIs(t, err, storage.ErrClientNotFound)
}

func TestStore_FindClientByRedirectURI(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	client := testutil.NewTestClient()
	client.RedirectURI = "http://example.com/unique"
	require.NoError(t, store.SaveClient(ctx, client))

	other := testutil.NewTestClient()
	other.RedirectURI = "http://example.com/other"
	require.NoError(t, store.SaveClient(ctx, other))

	got, err := store.FindClientByRedirectURI(ctx, "http://example.com/unique")
	require.NoError(t, err)
	assert.Equal(t, client.ID, got.ID)

	_, err = store.FindClientByRedirectURI(ctx, "http://example.com/missing")
	require.ErrorIs(t, err, storage.ErrClientNotFound)
}

func TestStore_ListClients(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, store.SaveClient(ctx, testutil.NewTestClient()))
	}

	clients, err := store.ListClients(ctx)
	require.NoError(t, err)
	assert.Len(t, clients, 3)
}

func TestStore_DeleteClient(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	client := testutil.NewTestClient()
	require.NoError(t, store.SaveClient(ctx, client))
	require.NoError(t, store.DeleteClient(ctx, client.ID))

	_, err := store.GetClient(ctx, client.ID)
	require.ErrorIs(t, err, storage.ErrClientNotFound)
}

func TestStore_SaveAndGetTicket(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ticket := testutil.NewTestTicket("client-1")
	ticket.Scope = "read write"
	ticket.State = "xyz"
	require.NoError(t, store.SaveTicket(ctx, ticket))

	got, err := store.GetTicket(ctx, ticket.ClientID, ticket.Code)
	require.NoError(t, err)
	assert.Equal(t, ticket.Code, got.Code)
	assert.Equal(t, ticket.ClientID, got.ClientID)
	assert.Equal(t, "read write", got.Scope)
	assert.Equal(t, "xyz", got.State)
	assert.Equal(t, ticket.ExpiresAt.Unix(), got.ExpiresAt.Unix())
}

func TestStore_GetTicket_NotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetTicket(context.Background(), "client-1", "nonexistent")
	require.ErrorIs(t, err, storage.ErrTicketNotFound)
}

func TestStore_GetTicket_Expired(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ticket := testutil.NewTestTicket("client-1")
	ticket.ExpiresAt = time.Now().Add(-time.Hour)
	// Write the hash directly: SaveTicket would refuse a TTL in the past
	key := store.key(storage.TicketCodec.Key(ticket.ClientID, ticket.Code))
	require.NoError(t, store.client.HSet(ctx, key, storage.TicketCodec.Encode(ticket)).Err())

	_, err := store.GetTicket(ctx, ticket.ClientID, ticket.Code)
	require.ErrorIs(t, err, storage.ErrTicketExpired)
}

func TestStore_ConsumeTicket(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ticket := testutil.NewTestTicket("client-1")
	require.NoError(t, store.SaveTicket(ctx, ticket))

	got, err := store.ConsumeTicket(ctx, ticket.Code)
	require.NoError(t, err)
	assert.Equal(t, ticket.Code, got.Code)
	// The consume is keyed by code alone; the owner rides on the ticket
	assert.Equal(t, "client-1", got.ClientID)

	// Second consume must fail: the code is single-use
	_, err = store.ConsumeTicket(ctx, ticket.Code)
	require.ErrorIs(t, err, storage.ErrTicketNotFound)
}

func TestStore_ConsumeTicket_AcrossClients(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveTicket(ctx, testutil.NewTestTicket("client-1")))
	target := testutil.NewTestTicket("client-2")
	require.NoError(t, store.SaveTicket(ctx, target))

	got, err := store.ConsumeTicket(ctx, target.Code)
	require.NoError(t, err)
	assert.Equal(t, "client-2", got.ClientID)

	// Only the consumed ticket is gone
	_, err = store.GetTicket(ctx, target.ClientID, target.Code)
	require.ErrorIs(t, err, storage.ErrTicketNotFound)
}

func TestStore_ConsumeTicket_Unknown(t *testing.T) {
	store := newTestStore(t)

	_, err := store.ConsumeTicket(context.Background(), "no-such-code")
	require.ErrorIs(t, err, storage.ErrTicketNotFound)
}

func TestStore_ListTickets(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		require.NoError(t, store.SaveTicket(ctx, testutil.NewTestTicket("client-1")))
	}
	require.NoError(t, store.SaveTicket(ctx, testutil.NewTestTicket("client-2")))

	tickets, err := store.ListTickets(ctx, "client-1")
	require.NoError(t, err)
	assert.Len(t, tickets, 2)
}

func TestStore_DeleteTicket(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ticket := testutil.NewTestTicket("client-1")
	require.NoError(t, store.SaveTicket(ctx, ticket))
	require.NoError(t, store.DeleteTicket(ctx, ticket.ClientID, ticket.Code))

	_, err := store.GetTicket(ctx, ticket.ClientID, ticket.Code)
	require.ErrorIs(t, err, storage.ErrTicketNotFound)
}

func TestStore_SaveAndGetAccessToken(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	token := testutil.NewTestToken("client-1")
	token.RefreshToken = "refresh-value"
	token.Scope = "read"
	require.NoError(t, store.SaveAccessToken(ctx, token))

	got, err := store.GetAccessToken(ctx, token.ClientID, token.Token)
	require.NoError(t, err)
	assert.Equal(t, token.Token, got.Token)
	assert.Equal(t, storage.TokenTypeBearer, got.TokenType)
	assert.Equal(t, int64(3600), got.ExpiresIn)
	assert.Equal(t, "refresh-value", got.RefreshToken)
	assert.Equal(t, "read", got.Scope)
}

func TestStore_GetAccessToken_NotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetAccessToken(context.Background(), "client-1", "nonexistent")
	require.ErrorIs(t, err, storage.ErrTokenNotFound)
}

func TestStore_ListAccessTokens(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, store.SaveAccessToken(ctx, testutil.NewTestToken("client-1")))
	}

	tokens, err := store.ListAccessTokens(ctx, "client-1")
	require.NoError(t, err)
	assert.Len(t, tokens, 3)
}

func TestStore_DeleteAccessToken(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	token := testutil.NewTestToken("client-1")
	require.NoError(t, store.SaveAccessToken(ctx, token))
	require.NoError(t, store.DeleteAccessToken(ctx, token.ClientID, token.Token))

	_, err := store.GetAccessToken(ctx, token.ClientID, token.Token)
	require.ErrorIs(t, err, storage.ErrTokenNotFound)
}

func TestStore_TicketTTLTracksExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := NewWithClient(client, "test:")
	ctx := context.Background()

	ticket := testutil.NewTestTicket("client-1")
	require.NoError(t, store.SaveTicket(ctx, ticket))

	// Advance miniredis past the ticket TTL; the entry should be evicted
	mr.FastForward(11*time.Minute + time.Minute)

	_, err := store.GetTicket(ctx, ticket.ClientID, ticket.Code)
	require.ErrorIs(t, err, storage.ErrTicketNotFound)
}
