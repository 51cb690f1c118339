// Package gateway implements the public HTTP surface that translates an
// Agent RPC stream into Server-Sent Events, plus the session/model
// management and health REST endpoints consumed by client applications.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/tiammomo/ShuaiTravelAgent/agentsvc"
	"github.com/tiammomo/ShuaiTravelAgent/config"
	"github.com/tiammomo/ShuaiTravelAgent/log"
	"github.com/tiammomo/ShuaiTravelAgent/session"
)

// maxMessageLength bounds an accepted chat message.
const maxMessageLength = 5000

// heartbeatInterval is how long the re-framer waits without an emission
// before it synthesises a heartbeat.
const heartbeatInterval = 30 * time.Second

// heartbeatTickInterval is how often the independent heartbeat ticker
// goroutine wakes up to check whether heartbeatInterval has elapsed; it
// must be well under heartbeatInterval so the "within T+ε" guarantee
// holds even when no StreamFrame ever arrives to trigger a check.
const heartbeatTickInterval = 5 * time.Second

// interFrameDelay is the fairness yield after translating each RPC frame
// into an SSE event.
const interFrameDelay = 10 * time.Millisecond

// requestTimeout bounds one end-to-end /api/chat/stream request.
const requestTimeout = 120 * time.Second

// friendlyFallbackAnswer is emitted as the final `chunk` of the canonical
// error-recovery sequence.
const friendlyFallbackAnswer = "抱歉，连接后端服务失败，请稍后重试。"

// connectionFailedMessage seeds the reasoning_chunk of the canonical
// error sequence.
const connectionFailedMessage = "连接后端服务失败"

// AgentClient is the subset of the Agent RPC surface the Gateway consumes.
// Satisfied by *transporthttp.Client (over the network). *agentsvc.Agent
// does not satisfy it directly: its StreamMessage also takes a context.
type AgentClient interface {
	StreamMessage(req agentsvc.MessageRequest, sink agentsvc.FrameSink) error
}

// Gateway wires the Session Store, the configured model catalog, and an
// AgentClient into the public HTTP surface.
type Gateway struct {
	router  *mux.Router
	agent   AgentClient
	stores  *session.Store
	cfg     *config.Config
	version string
}

// New builds a Gateway and registers its routes.
func New(agent AgentClient, stores *session.Store, cfg *config.Config) *Gateway {
	g := &Gateway{
		router:  mux.NewRouter(),
		agent:   agent,
		stores:  stores,
		cfg:     cfg,
		version: "1.0.0",
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowCredentials: true,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
	})
	g.router.Use(c.Handler)
	g.registerRoutes()
	return g
}

// Handler returns the http.Handler serving the Gateway's surface.
func (g *Gateway) Handler() http.Handler { return g.router }

func (g *Gateway) registerRoutes() {
	g.router.HandleFunc("/api/chat/stream", g.handleChatStream).Methods(http.MethodPost)
	g.router.HandleFunc("/api/session/new", g.handleSessionNew).Methods(http.MethodPost)
	g.router.HandleFunc("/api/sessions", g.handleListSessions).Methods(http.MethodGet)
	g.router.HandleFunc("/api/session/{id}", g.handleDeleteSession).Methods(http.MethodDelete)
	g.router.HandleFunc("/api/session/{id}/name", g.handleSetName).Methods(http.MethodPut)
	g.router.HandleFunc("/api/session/{id}/model", g.handleSetModel).Methods(http.MethodPut)
	g.router.HandleFunc("/api/session/{id}/model", g.handleGetModel).Methods(http.MethodGet)
	g.router.HandleFunc("/api/clear/{id}", g.handleClear).Methods(http.MethodPost)
	g.router.HandleFunc("/api/models", g.handleListModels).Methods(http.MethodGet)
	g.router.HandleFunc("/api/models/{id}", g.handleGetModelInfo).Methods(http.MethodGet)
	g.router.HandleFunc("/health", g.handleHealth).Methods(http.MethodGet)
	g.router.HandleFunc("/ready", g.handleReady).Methods(http.MethodGet)
	g.router.HandleFunc("/live", g.handleLive).Methods(http.MethodGet)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// --- session/model management -----------------------------------------

func (g *Gateway) handleSessionNew(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	sess := g.stores.Create(name)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "session_id": sess.ID, "name": sess.Name})
}

func (g *Gateway) handleListSessions(w http.ResponseWriter, r *http.Request) {
	includeEmpty, _ := strconv.ParseBool(r.URL.Query().Get("include_empty"))
	summaries := g.stores.List(includeEmpty)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "sessions": summaries, "total": len(summaries)})
}

func (g *Gateway) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !g.stores.Delete(id) {
		writeDetail(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (g *Gateway) handleSetName(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := g.stores.SetName(id, body.Name); err != nil {
		writeDetail(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "name": body.Name})
}

func (g *Gateway) handleSetModel(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var body struct {
		ModelID string `json:"model_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if _, ok := g.cfg.Models[body.ModelID]; !ok {
		writeDetail(w, http.StatusBadRequest, "unknown model id")
		return
	}
	if err := g.stores.SetModel(id, body.ModelID); err != nil {
		writeDetail(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "model_id": body.ModelID})
}

func (g *Gateway) handleGetModel(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	modelID, err := g.stores.GetModel(id)
	if err != nil {
		writeDetail(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "model_id": modelID})
}

func (g *Gateway) handleClear(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := g.stores.ClearMessages(id); err != nil {
		writeDetail(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (g *Gateway) handleListModels(w http.ResponseWriter, r *http.Request) {
	var models []map[string]any
	for id, m := range g.cfg.VisibleModels() {
		models = append(models, map[string]any{
			"model_id": id,
			"name":     m.Name,
			"provider": m.Provider,
			"model":    m.Model,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "models": models})
}

func (g *Gateway) handleGetModelInfo(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	m, ok := g.cfg.Models[id]
	if !ok || m.Hidden() {
		writeDetail(w, http.StatusNotFound, "model not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true, "model_id": id, "name": m.Name, "provider": m.Provider, "model": m.Model,
	})
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "healthy"})
}

func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (g *Gateway) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "alive"})
}

// --- chat streaming ------------------------------------------------------

type chatStreamRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

// sseEvent is one `data: {...}` line of the chat SSE surface.
type sseEvent struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Content   string `json:"content,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

func (g *Gateway) handleChatStream(w http.ResponseWriter, r *http.Request) {
	var req chatStreamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "消息不能为空")
		return
	}
	if req.Message == "" {
		writeDetail(w, http.StatusUnprocessableEntity, "消息不能为空")
		return
	}
	if len(req.Message) > maxMessageLength {
		writeDetail(w, http.StatusUnprocessableEntity, "消息过长")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.WriteHeader(http.StatusOK)

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = g.stores.Create("").ID
	} else if _, ok := g.stores.Get(sessionID); !ok {
		sessionID = g.stores.Create("").ID
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	reframer := newReframer(w, flusher, ctx)
	reframer.emit(sseEvent{Type: "session_id", SessionID: sessionID})

	heartbeatDone := make(chan struct{})
	go reframer.runHeartbeatTicker(heartbeatDone)
	defer close(heartbeatDone)

	err := g.agent.StreamMessage(agentsvc.MessageRequest{
		SessionID: sessionID,
		UserInput: req.Message,
		Stream:    true,
	}, func(frame agentsvc.StreamFrame) error {
		return reframer.translate(frame)
	})

	if reframer.isDisconnected() {
		log.Infof("gateway: chat stream %s client disconnected", sessionID)
		return
	}
	if reframer.isTerminal() {
		return
	}
	if err != nil {
		log.Warnf("gateway: chat stream %s failed: %v", sessionID, err)
		reframer.emitErrorSequence(err.Error())
		return
	}
	if ctx.Err() != nil {
		log.Warnf("gateway: chat stream %s request timeout", sessionID)
		reframer.emitErrorSequence("request timeout")
	}
}
