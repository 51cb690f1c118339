package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiammomo/ShuaiTravelAgent/agentsvc"
)

// TestChatStreamAgentErrorEmitsCanonicalFiveEventSequence confirms that
// when the upstream Agent reports a transport failure mid stream, the
// Gateway forwards the preceding thinking_start as reasoning_start and
// then recovers with reasoning_chunk -> reasoning_end -> answer_start
// -> chunk -> done rather than propagating a raw error.
func TestChatStreamAgentErrorEmitsCanonicalFiveEventSequence(t *testing.T) {
	agent := &fakeAgent{frames: []agentsvc.StreamFrame{
		{ChunkType: agentsvc.ChunkThinkingStart},
		{ChunkType: agentsvc.ChunkError, Content: "upstream closed the connection", IsLast: true},
	}}
	server, _ := newTestGateway(t, agent)

	body, _ := json.Marshal(chatStreamRequest{Message: "你好"})
	resp, err := http.Post(server.URL+"/api/chat/stream", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	events := readSSEEvents(t, resp)
	require.Len(t, events, 7)
	assert.Equal(t, "session_id", events[0].Type)

	var types []string
	for _, ev := range events[1:] {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []string{"reasoning_start", "reasoning_chunk", "reasoning_end", "answer_start", "chunk", "done"}, types)
	assert.Contains(t, events[2].Content, "连接后端服务失败")
	assert.Equal(t, friendlyFallbackAnswer, events[5].Content)
}

// TestChatStreamAgentReturnedErrorWithoutFrameAlsoRecovers covers the case
// where StreamMessage itself returns a plain Go error (e.g. the RPC
// transport never connected) rather than emitting a ChunkError frame.
func TestChatStreamAgentReturnedErrorWithoutFrameAlsoRecovers(t *testing.T) {
	agent := &fakeAgent{
		frames: []agentsvc.StreamFrame{{ChunkType: agentsvc.ChunkThinkingStart}},
		err:    errors.New("dial tcp: connection refused"),
	}
	server, _ := newTestGateway(t, agent)

	body, _ := json.Marshal(chatStreamRequest{Message: "你好"})
	resp, err := http.Post(server.URL+"/api/chat/stream", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	events := readSSEEvents(t, resp)
	require.NotEmpty(t, events)
	assert.Equal(t, "done", events[len(events)-1].Type)

	var sawFallback bool
	for _, ev := range events {
		if ev.Type == "chunk" && ev.Content == friendlyFallbackAnswer {
			sawFallback = true
		}
	}
	assert.True(t, sawFallback, "expected the canonical fallback answer chunk")
}

// TestReframerEmitsHeartbeatWhenIdle confirms heartbeat liveness
// directly against the reframer, since the production heartbeatInterval
// (30s) is too long to exercise end-to-end in a unit test.
func TestReframerEmitsHeartbeatWhenIdle(t *testing.T) {
	rec := httptest.NewRecorder()
	rf := newReframer(rec, rec, context.Background())
	rf.lastEmit = time.Now().Add(-2 * heartbeatInterval)

	rf.pollDisconnect()

	events := readRecordedSSE(t, rec.Body.String())
	require.Len(t, events, 1)
	assert.Equal(t, "heartbeat", events[0].Type)
	assert.NotEmpty(t, events[0].Timestamp)
	assert.False(t, rf.terminalSeen)
}

// TestReframerStopsEmittingAfterDisconnect confirms that once the
// request context is cancelled, translate stops emitting further SSE
// events.
func TestReframerStopsEmittingAfterDisconnect(t *testing.T) {
	rec := httptest.NewRecorder()
	ctx, cancel := context.WithCancel(context.Background())
	rf := newReframer(rec, rec, ctx)

	require.NoError(t, rf.translate(agentsvc.StreamFrame{ChunkType: agentsvc.ChunkThinkingStart}))
	cancel()

	err := rf.translate(agentsvc.StreamFrame{ChunkType: agentsvc.ChunkAnswer, Content: "should not appear"})
	assert.ErrorIs(t, err, errDisconnected)
	assert.True(t, rf.disconnected)

	events := readRecordedSSE(t, rec.Body.String())
	require.Len(t, events, 1)
	assert.Equal(t, "reasoning_start", events[0].Type)
}

// TestReframerNeverEmitsAfterTerminal confirms that once a terminal
// ("done") event has been written, further emit calls are no-ops.
func TestReframerNeverEmitsAfterTerminal(t *testing.T) {
	rec := httptest.NewRecorder()
	rf := newReframer(rec, rec, context.Background())

	rf.emit(sseEvent{Type: "done"})
	require.True(t, rf.terminalSeen)

	rf.emit(sseEvent{Type: "chunk", Content: "too late"})

	events := readRecordedSSE(t, rec.Body.String())
	require.Len(t, events, 1)
	assert.Equal(t, "done", events[0].Type)
}

func readRecordedSSE(t *testing.T, body string) []sseEvent {
	t.Helper()
	var events []sseEvent
	for _, line := range splitSSELines(body) {
		var ev sseEvent
		require.NoError(t, json.Unmarshal([]byte(line), &ev))
		events = append(events, ev)
	}
	return events
}

func splitSSELines(body string) []string {
	var out []string
	for _, raw := range bytes.Split([]byte(body), []byte("\n")) {
		line := string(raw)
		if len(line) > len("data: ") && line[:6] == "data: " {
			out = append(out, line[6:])
		}
	}
	return out
}
