package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"eldritch/internal/config"
	"eldritch/internal/narrative"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOllamaClient_Invoke(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/generate" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}

		var body map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
			return
		}
		assert.Equal(t, "llama3.1", body["model"])
		assert.Equal(t, "Scene: cellar", body["prompt"])
		assert.Equal(t, "You are the keeper.", body["system"])
		assert.Equal(t, false, body["stream"])

		opts := body["options"].(map[string]interface{})
		assert.Equal(t, 0.8, opts["temperature"])
		assert.Equal(t, 0.9, opts["top_p"])
		assert.Equal(t, float64(40), opts["top_k"])
		assert.Equal(t, 1.1, opts["repeat_penalty"])
		assert.Equal(t, float64(1024), opts["num_predict"])

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"model":"llama3.1","response":"  - Light the lamp\n","done":true}`))
	}))
	defer server.Close()

	cfg := DefaultOllamaConfig()
	cfg.BaseURL = server.URL + "/"
	client := NewOllamaClient(cfg)

	out, err := client.Invoke(context.Background(), Prompt{System: "You are the keeper.", User: "Scene: cellar"})
	require.NoError(t, err)
	assert.Equal(t, "- Light the lamp", out)
	assert.Equal(t, "ollama", client.ID())
}

func TestOllamaClient_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   narrative.ErrorKind
	}{
		{"server error", 500, `{"error":"boom"}`, narrative.KindServer},
		{"rate limited", 429, `slow down`, narrative.KindRateLimited},
		{"bad json", 200, `{not json`, narrative.KindInvalidResponse},
		{"empty response", 200, `{"response":"   "}`, narrative.KindInvalidResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			cfg := DefaultOllamaConfig()
			cfg.BaseURL = server.URL
			_, err := NewOllamaClient(cfg).Invoke(context.Background(), Prompt{User: "x"})
			require.Error(t, err)
			assert.Equal(t, tt.want, Classify(err))
		})
	}
}

func TestOllamaClient_Probe(t *testing.T) {
	var healthy atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tags", r.URL.Path)
		if !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"models":[]}`))
	}))
	defer server.Close()

	cfg := DefaultOllamaConfig()
	cfg.BaseURL = server.URL
	client := NewOllamaClient(cfg)

	assert.Error(t, client.Probe(context.Background()))
	healthy.Store(true)
	assert.NoError(t, client.Probe(context.Background()))
}

func TestOllamaClient_DeadlineIsTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	cfg := DefaultOllamaConfig()
	cfg.BaseURL = server.URL
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := NewOllamaClient(cfg).Invoke(ctx, Prompt{User: "x"})
	require.Error(t, err)
	assert.Equal(t, narrative.KindTimeout, Classify(err))
}

func TestOpenAIClient_Invoke(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var body openAIRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || len(body.Messages) != 2 {
			t.Errorf("unexpected request body: %+v (%v)", body, err)
			return
		}
		assert.Equal(t, "system", body.Messages[0].Role)
		assert.Equal(t, "user", body.Messages[1].Role)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"chatcmpl-1","choices":[{"message":{"content":"1. Run"}}]}`))
	}))
	defer server.Close()

	cfg := DefaultOpenAIConfig("test-key")
	cfg.BaseURL = server.URL
	client := NewOpenAIClient(cfg)

	out, err := client.Invoke(context.Background(), Prompt{System: "sys", User: "usr"})
	require.NoError(t, err)
	assert.Equal(t, "1. Run", out)
	assert.Equal(t, int32(1), attempts.Load())
}

func TestOpenAIClient_NoRetryOn429(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	cfg := DefaultOpenAIConfig("test-key")
	cfg.BaseURL = server.URL
	_, err := NewOpenAIClient(cfg).Invoke(context.Background(), Prompt{User: "x"})
	require.Error(t, err)
	assert.Equal(t, narrative.KindRateLimited, Classify(err))
	assert.Equal(t, int32(1), attempts.Load())
}

func TestOpenAIClient_MissingKey(t *testing.T) {
	_, err := NewOpenAIClient(DefaultOpenAIConfig("")).Invoke(context.Background(), Prompt{User: "x"})
	require.Error(t, err)
	assert.Equal(t, narrative.KindAuthentication, Classify(err))
}

func TestOpenAIClient_RequestSpacing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer server.Close()

	cfg := DefaultOpenAIConfig("k")
	cfg.BaseURL = server.URL
	cfg.RequestSpacing = 100 * time.Millisecond
	client := NewOpenAIClient(cfg)

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := client.Invoke(context.Background(), Prompt{User: "x"})
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)

	// Spacing gives up when the context does.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := client.Invoke(ctx, Prompt{User: "x"})
	assert.Error(t, err)
}

type fakeNetError struct{ timeout bool }

func (e fakeNetError) Error() string   { return "net" }
func (e fakeNetError) Timeout() bool   { return e.timeout }
func (e fakeNetError) Temporary() bool { return false }

var _ net.Error = fakeNetError{}

func TestClassify(t *testing.T) {
	var syntaxErr error
	{
		var v map[string]any
		syntaxErr = json.Unmarshal([]byte("{"), &v)
	}

	tests := []struct {
		name string
		err  error
		want narrative.ErrorKind
	}{
		{"nil", nil, ""},
		{"deadline", fmt.Errorf("wrapped: %w", context.DeadlineExceeded), narrative.KindTimeout},
		{"net timeout", fakeNetError{timeout: true}, narrative.KindTimeout},
		{"net error", fakeNetError{}, narrative.KindConnection},
		{"401", &StatusError{Code: 401}, narrative.KindAuthentication},
		{"403", &StatusError{Code: 403}, narrative.KindAuthentication},
		{"429", &StatusError{Code: 429}, narrative.KindRateLimited},
		{"429 quota", &StatusError{Code: 429, Body: "Quota exhausted"}, narrative.KindQuotaExceeded},
		{"503", &StatusError{Code: 503}, narrative.KindServer},
		{"json", fmt.Errorf("failed to parse response: %w", syntaxErr), narrative.KindInvalidResponse},
		{"empty", ErrEmptyResponse, narrative.KindInvalidResponse},
		{"refused", errors.New("dial tcp: connection refused"), narrative.KindConnection},
		{"mystery", errors.New("???"), narrative.KindUnknown},
		{"classified", narrative.NewError(narrative.ClassTransport, narrative.KindServer, "a", errors.New("x")), narrative.KindServer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestWrap(t *testing.T) {
	assert.Nil(t, Wrap("a", nil))

	err := Wrap("primary", &StatusError{Code: 500})
	assert.Equal(t, narrative.ClassTransport, narrative.ClassOf(err))
	assert.Equal(t, narrative.KindServer, narrative.KindOf(err))

	err = Wrap("primary", ErrEmptyResponse)
	assert.Equal(t, narrative.ClassMalformed, narrative.ClassOf(err))
	assert.ErrorIs(t, err, ErrEmptyResponse)

	already := narrative.NewError(narrative.ClassUnavailable, narrative.KindUnknown, "x", errors.New("down"))
	assert.Same(t, already, Wrap("primary", already))
}

func TestScripted(t *testing.T) {
	boom := errors.New("boom")
	s := NewScripted("rules",
		Step{Response: "first"},
		Step{Err: boom},
		Step{Response: "last"},
	)

	ctx := context.Background()
	out, err := s.Invoke(ctx, Prompt{User: "1"})
	require.NoError(t, err)
	assert.Equal(t, "first", out)

	_, err = s.Invoke(ctx, Prompt{User: "2"})
	assert.ErrorIs(t, err, boom)

	for i := 0; i < 2; i++ {
		out, err = s.Invoke(ctx, Prompt{User: "again"})
		require.NoError(t, err)
		assert.Equal(t, "last", out)
	}
	assert.Equal(t, 4, s.Calls())
	assert.Len(t, s.Prompts(), 4)

	s.SetProbeError(boom)
	assert.ErrorIs(t, s.Probe(ctx), boom)
	assert.Equal(t, 1, s.Probes())
}

func TestScripted_DelayHonorsContext(t *testing.T) {
	s := NewScripted("slow", Step{Response: "late", Delay: time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := s.Invoke(ctx, Prompt{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestOfflineReply(t *testing.T) {
	out, err := NewScripted("primary").Invoke(context.Background(), Prompt{User: "Turn: 3\nScene: old_library\n"})
	require.NoError(t, err)
	assert.Contains(t, out, "INVESTIGATION_OPPORTUNITIES:")
	assert.Contains(t, out, "- Examine the old library for anything out of place")
}

func TestMeter(t *testing.T) {
	s := NewScripted("primary", Step{Response: "ok"}, Step{Err: errors.New("nope")})
	a := Meter(s)
	_, isProber := a.(Prober)
	assert.True(t, isProber)
	assert.Equal(t, "primary", a.ID())

	a.Invoke(context.Background(), Prompt{})
	a.Invoke(context.Background(), Prompt{})

	stats := a.(StatsReporter).Stats()
	assert.Equal(t, int64(2), stats.Requests)
	assert.Equal(t, int64(1), stats.Errors)
	assert.Equal(t, "nope", stats.LastError)

	type plain struct{ Agent }
	_, isProber = Meter(plain{s}).(Prober)
	assert.False(t, isProber)
}

func TestNew_Factory(t *testing.T) {
	ctx := context.Background()

	a, err := New(ctx, "primary", config.DefaultAgentConfig())
	require.NoError(t, err)
	assert.Equal(t, "primary", a.ID())
	_, isProber := a.(Prober)
	assert.True(t, isProber)

	a, err = New(ctx, "narrative", config.AgentConfig{Provider: "scripted"})
	require.NoError(t, err)
	assert.Equal(t, "narrative", a.ID())

	a, err = New(ctx, "g", config.AgentConfig{Provider: "gemini", APIKey: "k"})
	require.NoError(t, err)
	_, isProber = a.(Prober)
	assert.False(t, isProber)

	_, err = New(ctx, "g", config.AgentConfig{Provider: "gemini"})
	assert.Error(t, err)

	_, err = New(ctx, "x", config.AgentConfig{Provider: "telepathy"})
	assert.Error(t, err)

	specs, err := NewSpecialists(ctx, []string{"narrative", "rules"}, config.AgentsConfig{
		Primary: config.AgentConfig{Provider: "scripted"},
	})
	require.NoError(t, err)
	assert.Len(t, specs, 2)
	assert.Equal(t, "rules", specs["rules"].ID())
}
