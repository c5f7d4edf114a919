package protocol

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/imgfirewall/internal/category"
	"github.com/GriffinCanCode/imgfirewall/internal/policy"
)

func sampleConfig() policy.Config {
	return policy.Config{
		Enabled:            true,
		Categories:         map[string]bool{"weapons": true, "gore": false},
		CategoryThresholds: map[string]float64{"weapons": 0.80},
		GlobalThreshold:    policy.Threshold(0.65),
	}
}

func TestEncodeDecodeVariants(t *testing.T) {
	engine := policy.NewEngine(category.Default())
	preds := []policy.RawPrediction{{ClassID: 764, Confidence: 0.9}, {ClassID: 2, Confidence: 0.05}}
	evals := []policy.Evaluation{
		engine.Evaluate(preds[0], sampleConfig()),
		engine.Evaluate(preds[1], sampleConfig()),
	}

	tests := []struct {
		name string
		msg  Message
	}{
		{name: "sandbox ready", msg: SandboxReady{Instance: "abc"}},
		{name: "model loaded", msg: ModelLoaded{Categories: category.Default().Categories()}},
		{name: "classify", msg: Classify{ID: 7, Payload: "data:image/jpeg;base64,AAAA", Settings: sampleConfig()}},
		{name: "verdict", msg: NewVerdict(7, preds, evals)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Encode(tt.msg)
			require.NoError(t, err)
			assert.Contains(t, string(data), `"type":"`+string(tt.msg.Kind())+`"`)

			got, err := Decode(data)
			require.NoError(t, err)
			assert.Equal(t, tt.msg, got)
		})
	}
}

func TestVerdictWireFields(t *testing.T) {
	v := Verdict{ID: 3, ShouldBlock: true, PrimaryCategory: "nsfw", Confidence: 0.9, Reason: "content matched: nsfw"}
	data, err := Encode(v)
	require.NoError(t, err)

	for _, field := range []string{`"id":3`, `"shouldBlock":true`, `"primaryCategory":"nsfw"`, `"reason":"content matched: nsfw"`} {
		assert.Contains(t, string(data), field)
	}
}

func TestDecodeErrors(t *testing.T) {
	_, err := Decode([]byte(`{"type":"EXPLODE"}`))
	assert.ErrorIs(t, err, ErrUnknownType)

	_, err = Decode([]byte(`{"id":1}`))
	assert.ErrorIs(t, err, ErrMissingType)

	_, err = Decode([]byte(`not json`))
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = Decode([]byte(`{"type":"CLASSIFY","id":"seven"}`))
	assert.ErrorIs(t, err, ErrMalformed)
	assert.True(t, IsProtocolError(err))
	assert.False(t, IsProtocolError(ErrClosed))
}

func TestPolicySurvivesChannelRoundTrip(t *testing.T) {
	engine := policy.NewEngine(category.Default())
	configs := []policy.Config{
		{},
		sampleConfig(),
		{Enabled: true, GlobalThreshold: policy.Threshold(0.1)},
		{Categories: map[string]bool{"violence": false, "weapons": false}},
		{CategoryThresholds: map[string]float64{"nsfw": 0.0, "violence": 1.0}},
	}
	classes := []int{413, 445, 499, 583, 764, 504}

	for _, cfg := range configs {
		data, err := Encode(Classify{ID: 1, Settings: cfg})
		require.NoError(t, err)
		decoded, err := Decode(data)
		require.NoError(t, err)
		wire := decoded.(Classify).Settings

		for _, classID := range classes {
			for _, conf := range []float64{0, 0.5, 0.7, 0.8, 0.95} {
				c := engine.Classify(classID, conf)
				assert.Equal(t, engine.ShouldBlock(c, cfg), engine.ShouldBlock(c, wire))
			}
		}
	}
}

func TestNewVerdictUsesFirstEvaluation(t *testing.T) {
	engine := policy.NewEngine(category.Default())
	evals := []policy.Evaluation{
		engine.Evaluate(policy.RawPrediction{ClassID: 504, Confidence: 0.6}, policy.Config{}),
		engine.Evaluate(policy.RawPrediction{ClassID: 764, Confidence: 0.3}, policy.Config{}),
	}
	v := NewVerdict(9, nil, evals)
	assert.False(t, v.ShouldBlock)
	assert.Empty(t, v.PrimaryCategory)
	assert.InDelta(t, 0.6, v.Confidence, 1e-9)
	assert.Equal(t, policy.ReasonNotMatched, v.Reason)

	empty := NewVerdict(10, nil, nil)
	assert.False(t, empty.ShouldBlock)
}

func TestPipe(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	host, sandbox := NewPipe(2)
	require.NoError(t, host.Send(ctx, Classify{ID: 1}))
	require.NoError(t, host.Send(ctx, Classify{ID: 2}))
	assert.ErrorIs(t, host.Send(ctx, Classify{ID: 3}), ErrDropped)

	msg, err := sandbox.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), msg.(Classify).ID)

	require.NoError(t, sandbox.Send(ctx, SandboxReady{}))
	msg, err = host.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, KindSandboxReady, msg.Kind())

	require.NoError(t, sandbox.Close())
	_, err = host.Receive(ctx)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, host.Send(ctx, Classify{}), ErrClosed)
}

func TestPipeReceiveHonoursContext(t *testing.T) {
	host, _ := NewPipe(0)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := host.Receive(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWSChannel(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ch := NewWSChannel(conn)
		defer ch.Close()

		ctx := context.Background()
		msg, err := ch.Receive(ctx)
		if err != nil {
			return
		}
		req := msg.(Classify)
		_ = ch.Send(ctx, Verdict{ID: req.ID, ShouldBlock: true, PrimaryCategory: "nsfw"})
		_, _ = ch.Receive(ctx)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	client, err := Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"))
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Send(ctx, Classify{ID: 42, Settings: sampleConfig()}))
	msg, err := client.Receive(ctx)
	require.NoError(t, err)

	v, ok := msg.(Verdict)
	require.True(t, ok)
	assert.Equal(t, int64(42), v.ID)
	assert.Equal(t, "nsfw", v.PrimaryCategory)
}
