package agentsvc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiammomo/ShuaiTravelAgent/config"
	"github.com/tiammomo/ShuaiTravelAgent/session"
)

// echoLLMServer answers both the streaming and non-streaming chat
// completion shapes, so both the engine's llm_chat tool (unary) and the
// orchestrator's final-answer synthesis (streaming) succeed against the
// same fixture.
func echoLLMServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Stream bool `json:"stream"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)

		if !body.Stream {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{
				"id": "chatcmpl-1", "model": "gpt-4",
				"choices": [{"index": 0, "message": {"role": "assistant", "content": "北京欢迎你"}, "finish_reason": "stop"}]
			}`))
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, tok := range []string{"北京", "欢迎", "你"} {
			_, _ = w.Write([]byte(`data: {"id":"1","model":"gpt-4","choices":[{"index":0,"delta":{"content":"` + tok + `"}}]}` + "\n\n"))
			flusher.Flush()
		}
		_, _ = w.Write([]byte("data: [DONE]\n\n"))
		flusher.Flush()
	}))
}

func newTestAgent(t *testing.T, apiBase string) (*Agent, *session.Store) {
	t.Helper()
	cfg := &config.Config{
		DefaultModel: "test-model",
		Models: map[string]config.ModelConfig{
			"test-model": {Provider: "openai", Model: "gpt-4", APIKey: "test-key", APIBase: apiBase},
		},
	}
	store := session.NewStore(time.Hour, "test-model")
	agent, err := New(cfg, store)
	require.NoError(t, err)
	t.Cleanup(agent.Close)
	return agent, store
}

// collectingSink accumulates every frame emitted, preserving order.
func collectingSink(frames *[]StreamFrame) FrameSink {
	return func(f StreamFrame) error {
		*frames = append(*frames, f)
		return nil
	}
}

func TestStreamMessageEmitsTopologicallyOrderedFramesWithSingleTerminal(t *testing.T) {
	server := echoLLMServer(t)
	defer server.Close()

	agent, store := newTestAgent(t, server.URL)
	sess := store.Create("")

	var frames []StreamFrame
	err := agent.StreamMessage(context.Background(), MessageRequest{SessionID: sess.ID, UserInput: "你好"}, collectingSink(&frames))
	require.NoError(t, err)

	require.NotEmpty(t, frames)
	assert.Equal(t, ChunkThinkingStart, frames[0].ChunkType)

	terminalCount := 0
	sawAnswerStart := false
	for i, f := range frames {
		switch f.ChunkType {
		case ChunkDone, ChunkError:
			terminalCount++
			assert.True(t, f.IsLast)
			assert.Equal(t, len(frames)-1, i, "terminal frame must be the last frame emitted")
		case ChunkAnswerStart:
			sawAnswerStart = true
		case ChunkAnswer:
			assert.True(t, sawAnswerStart, "answer chunk must follow answer_start")
		case ChunkThinkingEnd:
			assert.False(t, sawAnswerStart, "thinking_end must precede answer_start")
		}
	}
	assert.Equal(t, 1, terminalCount, "exactly one terminal frame must be emitted")
}

func TestStreamMessageUnknownSessionReturnsError(t *testing.T) {
	agent, _ := newTestAgent(t, "http://127.0.0.1:0")
	defer agent.Close()

	var frames []StreamFrame
	err := agent.StreamMessage(context.Background(), MessageRequest{SessionID: "does-not-exist", UserInput: "hi"}, collectingSink(&frames))
	assert.Error(t, err)
	assert.Empty(t, frames)
}

func TestStreamMessageUnknownModelReturnsError(t *testing.T) {
	agent, store := newTestAgent(t, "http://127.0.0.1:0")
	defer agent.Close()
	sess := store.Create("")

	var frames []StreamFrame
	err := agent.StreamMessage(context.Background(), MessageRequest{SessionID: sess.ID, UserInput: "hi", ModelID: "nope"}, collectingSink(&frames))
	assert.Error(t, err)
}

func TestProcessMessageReturnsDirectModeAnswer(t *testing.T) {
	server := echoLLMServer(t)
	defer server.Close()

	agent, store := newTestAgent(t, server.URL)
	sess := store.Create("")

	resp, err := agent.ProcessMessage(context.Background(), MessageRequest{SessionID: sess.ID, UserInput: "你好"})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.Answer)
}

func TestHealthCheckReportsServing(t *testing.T) {
	agent, _ := newTestAgent(t, "http://127.0.0.1:0")
	defer agent.Close()

	status := agent.HealthCheck(context.Background())
	assert.True(t, status.Healthy)
	assert.Equal(t, "serving", status.Status)
}

func TestStreamMessageSinkErrorAbortsHandler(t *testing.T) {
	server := echoLLMServer(t)
	defer server.Close()

	agent, store := newTestAgent(t, server.URL)
	sess := store.Create("")

	sinkErr := assertSinkError{}
	count := 0
	err := agent.StreamMessage(context.Background(), MessageRequest{SessionID: sess.ID, UserInput: "你好"}, func(f StreamFrame) error {
		count++
		if count == 1 {
			return sinkErr
		}
		return nil
	})
	assert.ErrorIs(t, err, sinkErr)
	assert.Equal(t, 1, count)
}

type assertSinkError struct{}

func (assertSinkError) Error() string { return "sink closed" }
