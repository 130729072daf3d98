package rpc

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrames_EncodeDecodeIsIdentity(t *testing.T) {
	frames := []struct {
		name   string
		target json.Unmarshaler
		frame  string
	}{
		{"request", &Request{}, `["add",[5,3],{}]`},
		{"request with kwargs", &Request{}, `["send_order",[{"symbol":"BTCUSDT"}],{"gateway_name":"MOCK"}]`},
		{"ok response", &Response{}, `[true,8]`},
		{"error response", &Response{}, `[false,"method not found: unknown"]`},
		{"message", &Message{}, `["market_data",{"px":50000,"sym":"BTC"}]`},
		{"heartbeat", &Message{}, `["heartbeat",1700000000.25]`},
	}

	for _, tt := range frames {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, json.Unmarshal([]byte(tt.frame), tt.target))
			out, err := json.Marshal(tt.target)
			require.NoError(t, err)
			assert.Equal(t, tt.frame, string(out))
		})
	}
}

func TestRequest_RejectsMalformedFrames(t *testing.T) {
	for _, frame := range []string{
		`["add",[1]]`,
		`{"method":"add"}`,
		`[1,[],{}]`,
		`["add",{},{}]`,
		`not json`,
	} {
		var req Request
		assert.Error(t, json.Unmarshal([]byte(frame), &req), frame)
	}
}

func TestNewRequest_EncodesNilCollectionsAsEmpty(t *testing.T) {
	req, err := NewRequest("ping", nil, nil)
	require.NoError(t, err)
	out, err := json.Marshal(req)
	require.NoError(t, err)
	assert.Equal(t, `["ping",[],{}]`, string(out))

	_, err = NewRequest("bad", []any{make(chan int)}, nil)
	assert.Error(t, err)
}

func TestArgs_Helpers(t *testing.T) {
	req, err := NewRequest("f", []any{1.5, 7, "x"}, map[string]any{"flag": true})
	require.NoError(t, err)

	f, err := req.Args.Float(0)
	require.NoError(t, err)
	assert.Equal(t, 1.5, f)

	n, err := req.Args.Int(1)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)

	s, err := req.Args.String(2)
	require.NoError(t, err)
	assert.Equal(t, "x", s)

	_, err = req.Args.Int(3)
	assert.ErrorContains(t, err, "missing argument 3")
	_, err = req.Args.Int(2)
	assert.Error(t, err)

	var flag bool
	found, err := req.Kwargs.Decode("flag", &flag)
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, flag)

	found, err = req.Kwargs.Decode("absent", &flag)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestResponse_Constructors(t *testing.T) {
	ok, err := Success(map[string]int{"a": 1})
	require.NoError(t, err)
	assert.True(t, ok.OK)
	assert.JSONEq(t, `{"a":1}`, string(ok.Value))

	raw, err := Success(json.RawMessage(`[1,2]`))
	require.NoError(t, err)
	assert.Equal(t, `[1,2]`, string(raw.Value))

	_, err = Success(json.RawMessage(`{`))
	assert.Error(t, err)

	fail := Failure("boom")
	assert.False(t, fail.OK)
	assert.Equal(t, "boom", fail.ErrorMessage())

	nilValue, err := Success(nil)
	require.NoError(t, err)
	out, err := json.Marshal(nilValue)
	require.NoError(t, err)
	assert.Equal(t, `[true,null]`, string(out))
}

func TestErrors(t *testing.T) {
	req, _ := NewRequest("slow", nil, nil)
	var err error = &TimeoutError{Timeout: 500 * time.Millisecond, Request: req}
	assert.Equal(t, "timeout of 500ms reached for request: slow", err.Error())

	var te *TimeoutError
	assert.True(t, errors.As(err, &te))

	cause := errors.New("connection reset")
	err = &TransportError{Op: "recv", Err: cause}
	assert.ErrorIs(t, err, cause)

	err = &RemoteError{Message: "method not found: unknown"}
	assert.Contains(t, err.Error(), "unknown")
}

func TestListenEndpoint(t *testing.T) {
	assert.Equal(t, "tcp://0.0.0.0:2014", listenEndpoint("tcp://*:2014"))
	assert.Equal(t, "tcp://127.0.0.1:0", listenEndpoint("tcp://127.0.0.1:0"))
}

func TestClientConfig_Defaults(t *testing.T) {
	cfg := ClientConfig{PollInterval: 5 * time.Second}.withDefaults()
	assert.Equal(t, DefaultTimeout, cfg.Timeout)
	assert.Equal(t, DefaultHeartbeatTolerance, cfg.HeartbeatTolerance)
	assert.Equal(t, DefaultPollInterval, cfg.PollInterval)
	assert.Equal(t, DefaultCacheSize, cfg.CacheSize)
	assert.Equal(t, DefaultReqAddress, cfg.ReqAddress)

	scfg := ServerConfig{}.withDefaults()
	assert.Equal(t, DefaultServerConfig(), scfg)
}
