package envelope

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	broadcast, err := Broadcast("chat", "hello")
	require.NoError(t, err)
	directed, err := Directed("chat", "B", map[string]string{"text": "hi"})
	require.NoError(t, err)

	for name, original := range map[string]Envelope{"broadcast": broadcast, "directed": directed} {
		t.Run(name, func(t *testing.T) {
			data, err := Encode(original)
			require.NoError(t, err)

			decoded, err := Decode(data)
			require.NoError(t, err)
			assert.Equal(t, original, decoded)
		})
	}
}

func TestEncodeWritesNullReceiverForBroadcast(t *testing.T) {
	env, err := Broadcast("chat", "hello")
	require.NoError(t, err)

	data, err := Encode(env)
	require.NoError(t, err)
	assert.JSONEq(t, `{"endpoint":"chat","receiver":null,"payload":"hello"}`, string(data))
}

func TestDecodeReceiverVariants(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		broadcast bool
		receiver  string
	}{
		{"null receiver", `{"endpoint":"x","receiver":null,"payload":1}`, true, ""},
		{"absent receiver", `{"endpoint":"x","payload":1}`, true, ""},
		{"named receiver", `{"endpoint":"x","receiver":"B","payload":1}`, false, "B"},
		{"surrounding whitespace", "  {\"endpoint\":\"x\"}\n", true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := Decode([]byte(tt.input))
			require.NoError(t, err)
			assert.Equal(t, "x", env.Endpoint)
			assert.Equal(t, tt.broadcast, env.IsBroadcast())
			assert.Equal(t, tt.receiver, env.ReceiverName())
		})
	}
}

func TestDecodeRejectsMalformedFrames(t *testing.T) {
	inputs := map[string]string{
		"empty":            "",
		"not json":         "hello",
		"array":            `[{"endpoint":"x"}]`,
		"string":           `"x"`,
		"missing endpoint": `{"receiver":"B","payload":1}`,
		"empty endpoint":   `{"endpoint":"","payload":1}`,
		"wrong type":       `{"endpoint":5}`,
		"truncated":        `{"endpoint":"x"`,
	}

	for name, input := range inputs {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(input))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformed), "got %v", err)
		})
	}
}

func TestDecodePayload(t *testing.T) {
	env, err := Decode([]byte(`{"endpoint":"chat","payload":{"text":"hi"}}`))
	require.NoError(t, err)

	var body struct {
		Text string `json:"text"`
	}
	require.NoError(t, env.DecodePayload(&body))
	assert.Equal(t, "hi", body.Text)

	empty := Envelope{Endpoint: "chat"}
	assert.ErrorIs(t, empty.DecodePayload(&body), ErrMalformed)
}

func TestRawPayloadIsKept(t *testing.T) {
	raw := json.RawMessage(`{"a":[1,2]}`)
	env, err := Broadcast("x", raw)
	require.NoError(t, err)
	assert.Equal(t, raw, env.Payload)
}

func TestEncodeRejectsMissingEndpoint(t *testing.T) {
	_, err := Encode(Envelope{Payload: json.RawMessage(`1`)})
	assert.ErrorIs(t, err, ErrMalformed)
}
