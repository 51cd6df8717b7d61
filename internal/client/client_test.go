package client_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/javelin/internal/auth"
	"github.com/Tyrowin/javelin/internal/client"
	"github.com/Tyrowin/javelin/internal/directory"
	"github.com/Tyrowin/javelin/internal/envelope"
	"github.com/Tyrowin/javelin/internal/logger"
	"github.com/Tyrowin/javelin/internal/server"
)

const secret = "client-test-secret"

type fixture struct {
	url    string
	relay  *server.Relay
	tokens map[string]string
}

func newFixture(t *testing.T, peers map[string][]string) *fixture {
	t.Helper()

	signer, err := auth.NewSigner("HS256", []byte(secret))
	require.NoError(t, err)
	verifier, err := auth.NewJWTVerifier("HS256", []byte(secret))
	require.NoError(t, err)

	dir := directory.NewMemory()
	tokens := make(map[string]string)
	for name, endpoints := range peers {
		token, err := signer.Sign(name, time.Hour)
		require.NoError(t, err)
		tokens[name] = token
		dir.Put(directory.NewPeer(name, token, endpoints...))
	}

	relay, err := server.New(server.Config{Path: "/relay"}, verifier, dir, server.WithLogger(logger.Discard()))
	require.NoError(t, err)
	srv := httptest.NewServer(relay.Handler())
	t.Cleanup(func() {
		_ = relay.Stop(time.Second)
		srv.Close()
	})

	return &fixture{
		url:    "ws" + strings.TrimPrefix(srv.URL, "http") + "/relay",
		relay:  relay,
		tokens: tokens,
	}
}

func (f *fixture) dial(t *testing.T, name string, opts ...client.Option) *client.Client {
	t.Helper()
	opts = append([]client.Option{client.WithLogger(logger.Discard())}, opts...)
	c, err := client.Dial(context.Background(), f.url, f.tokens[name], opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func next(t *testing.T, c *client.Client) envelope.Envelope {
	t.Helper()
	select {
	case env, ok := <-c.Messages():
		require.True(t, ok, "messages channel closed")
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
		return envelope.Envelope{}
	}
}

func TestClientsExchangeEnvelopes(t *testing.T) {
	f := newFixture(t, map[string][]string{"lobby": {"chat"}, "pvp": {"chat"}})
	lobby := f.dial(t, "lobby")
	pvp := f.dial(t, "pvp")

	env, err := envelope.Directed("chat", "pvp", map[string]string{"text": "gg"})
	require.NoError(t, err)
	require.NoError(t, lobby.Send(env))

	got := next(t, pvp)
	assert.Equal(t, "pvp", got.ReceiverName())
	var payload map[string]string
	require.NoError(t, got.DecodePayload(&payload))
	assert.Equal(t, "gg", payload["text"])
}

func TestDialReportsRejection(t *testing.T) {
	f := newFixture(t, map[string][]string{"lobby": {"chat"}})
	f.dial(t, "lobby")

	_, err := client.Dial(context.Background(), f.url, f.tokens["lobby"],
		client.WithLogger(logger.Discard()), client.WithHandshakeWait(2*time.Second))
	assert.ErrorIs(t, err, client.ErrRejected)

	_, err = client.Dial(context.Background(), f.url, "bogus",
		client.WithLogger(logger.Discard()), client.WithHandshakeWait(2*time.Second))
	assert.ErrorIs(t, err, client.ErrRejected)
}

func TestCloseEndsConnection(t *testing.T) {
	f := newFixture(t, map[string][]string{"lobby": {"chat"}})
	c := f.dial(t, "lobby")

	require.NoError(t, c.Close())
	<-c.Done()
	assert.NoError(t, c.Err())

	_, open := <-c.Messages()
	assert.False(t, open)

	env, err := envelope.Broadcast("chat", "late")
	require.NoError(t, err)
	assert.ErrorIs(t, c.Send(env), client.ErrClosed)

	require.Eventually(t, func() bool { return !f.relay.IsConnected("lobby") }, 2*time.Second, 10*time.Millisecond)
	f.dial(t, "lobby")
}

func TestRelayShutdownEndsClient(t *testing.T) {
	f := newFixture(t, map[string][]string{"lobby": {"chat"}})
	c := f.dial(t, "lobby")

	require.NoError(t, f.relay.Stop(time.Second))

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("client did not notice shutdown")
	}
	assert.Error(t, c.Err())
	assert.NotErrorIs(t, c.Err(), client.ErrRejected)
}

func TestSendRejectsInvalidEnvelope(t *testing.T) {
	f := newFixture(t, map[string][]string{"lobby": {"chat"}})
	c := f.dial(t, "lobby")

	assert.ErrorIs(t, c.Send(envelope.Envelope{}), envelope.ErrMalformed)
}
