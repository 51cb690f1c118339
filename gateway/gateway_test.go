package gateway

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiammomo/ShuaiTravelAgent/agentsvc"
	"github.com/tiammomo/ShuaiTravelAgent/config"
	"github.com/tiammomo/ShuaiTravelAgent/session"
)

// fakeAgent is a scripted AgentClient double: it replays a fixed frame
// sequence into whatever sink handleChatStream hands it, regardless of the
// request contents.
type fakeAgent struct {
	frames []agentsvc.StreamFrame
	err    error
}

func (f *fakeAgent) StreamMessage(req agentsvc.MessageRequest, sink agentsvc.FrameSink) error {
	for _, frame := range f.frames {
		if err := sink(frame); err != nil {
			return err
		}
	}
	return f.err
}

func newTestGateway(t *testing.T, agent AgentClient) (*httptest.Server, *config.Config) {
	t.Helper()
	cfg := &config.Config{
		DefaultModel: "visible-model",
		Models: map[string]config.ModelConfig{
			"visible-model": {Provider: "openai", Model: "gpt-4", APIKey: "sk-real", Name: "Visible"},
			"hidden-model":  {Provider: "openai", Model: "gpt-3.5", APIKey: "", Name: "Hidden"},
		},
	}
	store := session.NewStore(time.Hour, cfg.DefaultModel)
	gw := New(agent, store, cfg)
	server := httptest.NewServer(gw.Handler())
	t.Cleanup(server.Close)
	return server, cfg
}

// readSSEEvents parses every `data: {...}` line out of an SSE response body.
func readSSEEvents(t *testing.T, body *http.Response) []sseEvent {
	t.Helper()
	defer body.Body.Close()
	var events []sseEvent
	scanner := bufio.NewScanner(body.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev sseEvent
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
		events = append(events, ev)
	}
	return events
}

func TestChatStreamHappyPathEmitsCanonicalOrdering(t *testing.T) {
	agent := &fakeAgent{frames: []agentsvc.StreamFrame{
		{ChunkType: agentsvc.ChunkThinkingStart},
		{ChunkType: agentsvc.ChunkThinkingChunk, Content: "considering options"},
		{ChunkType: agentsvc.ChunkThinkingEnd},
		{ChunkType: agentsvc.ChunkAnswerStart},
		{ChunkType: agentsvc.ChunkAnswer, Content: "北京"},
		{ChunkType: agentsvc.ChunkAnswer, Content: "欢迎你"},
		{ChunkType: agentsvc.ChunkDone, IsLast: true},
	}}
	server, _ := newTestGateway(t, agent)

	body, _ := json.Marshal(chatStreamRequest{Message: "你好"})
	resp, err := http.Post(server.URL+"/api/chat/stream", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))
	assert.Equal(t, "no", resp.Header.Get("X-Accel-Buffering"))

	events := readSSEEvents(t, resp)
	require.NotEmpty(t, events)
	assert.Equal(t, "session_id", events[0].Type)
	assert.NotEmpty(t, events[0].SessionID)

	var types []string
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []string{
		"session_id", "reasoning_start", "reasoning_chunk", "reasoning_end",
		"answer_start", "chunk", "chunk", "done",
	}, types)
	assert.Equal(t, "done", events[len(events)-1].Type)
}

func TestChatStreamEmptyMessageReturns422(t *testing.T) {
	server, _ := newTestGateway(t, &fakeAgent{})

	body, _ := json.Marshal(chatStreamRequest{Message: ""})
	resp, err := http.Post(server.URL+"/api/chat/stream", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	var detail map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&detail))
	assert.Equal(t, "消息不能为空", detail["detail"])
}

func TestChatStreamOversizedMessageReturns422(t *testing.T) {
	server, _ := newTestGateway(t, &fakeAgent{})

	body, _ := json.Marshal(chatStreamRequest{Message: strings.Repeat("a", maxMessageLength+1)})
	resp, err := http.Post(server.URL+"/api/chat/stream", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	var detail map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&detail))
	assert.Equal(t, "消息过长", detail["detail"])
}

func TestSessionLifecycleRoundTrips(t *testing.T) {
	server, _ := newTestGateway(t, &fakeAgent{})

	resp, err := http.Post(server.URL+"/api/session/new", "application/json", nil)
	require.NoError(t, err)
	var created map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	resp.Body.Close()
	sessionID, _ := created["session_id"].(string)
	require.NotEmpty(t, sessionID)

	setModelBody, _ := json.Marshal(map[string]string{"model_id": "visible-model"})
	req, _ := http.NewRequest(http.MethodPut, server.URL+"/api/session/"+sessionID+"/model", bytes.NewReader(setModelBody))
	setResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, setResp.StatusCode)
	setResp.Body.Close()

	getResp, err := http.Get(server.URL + "/api/session/" + sessionID + "/model")
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, json.NewDecoder(getResp.Body).Decode(&got))
	getResp.Body.Close()
	assert.Equal(t, "visible-model", got["model_id"])

	delReq, _ := http.NewRequest(http.MethodDelete, server.URL+"/api/session/"+sessionID, nil)
	delResp, err := http.DefaultClient.Do(delReq)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, delResp.StatusCode)
	delResp.Body.Close()
}

func TestSetModelUnknownIDReturns400(t *testing.T) {
	server, _ := newTestGateway(t, &fakeAgent{})

	resp, _ := http.Post(server.URL+"/api/session/new", "application/json", nil)
	var created map[string]any
	json.NewDecoder(resp.Body).Decode(&created)
	resp.Body.Close()
	sessionID := created["session_id"].(string)

	body, _ := json.Marshal(map[string]string{"model_id": "does-not-exist"})
	req, _ := http.NewRequest(http.MethodPut, server.URL+"/api/session/"+sessionID+"/model", bytes.NewReader(body))
	setResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, setResp.StatusCode)
	setResp.Body.Close()
}

func TestListModelsHidesModelsWithUnresolvedAPIKey(t *testing.T) {
	server, _ := newTestGateway(t, &fakeAgent{})

	resp, err := http.Get(server.URL + "/api/models")
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	models, _ := out["models"].([]any)
	require.Len(t, models, 1)
	entry := models[0].(map[string]any)
	assert.Equal(t, "visible-model", entry["model_id"])
}

func TestGetModelInfoForHiddenModelReturns404(t *testing.T) {
	server, _ := newTestGateway(t, &fakeAgent{})

	resp, err := http.Get(server.URL + "/api/models/hidden-model")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthReadyLiveEndpoints(t *testing.T) {
	server, _ := newTestGateway(t, &fakeAgent{})

	for _, path := range []string{"/health", "/ready", "/live"} {
		resp, err := http.Get(server.URL + path)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()
	}
}
