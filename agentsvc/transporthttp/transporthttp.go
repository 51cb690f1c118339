// Package transporthttp is the concrete network transport for the
// Agent<->Gateway RPC boundary: newline-delimited JSON frames over
// chunked HTTP, dispatched with net/http and gorilla/mux.
package transporthttp

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/tiammomo/ShuaiTravelAgent/agentsvc"
	"github.com/tiammomo/ShuaiTravelAgent/apperr"
	"github.com/tiammomo/ShuaiTravelAgent/log"
)

// Handler adapts an agentsvc.Service onto HTTP. Three routes:
//   - POST /rpc/process  -> ProcessMessage, one JSON response body.
//   - POST /rpc/stream   -> StreamMessage, one NDJSON StreamFrame per line,
//     flushed as each frame is produced.
//   - GET  /rpc/health   -> HealthCheck.
type Handler struct {
	svc agentsvc.Service
}

// NewHandler wraps svc for HTTP dispatch.
func NewHandler(svc agentsvc.Service) *Handler {
	return &Handler{svc: svc}
}

// Register installs the three RPC routes onto r.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/rpc/process", h.handleProcess).Methods(http.MethodPost)
	r.HandleFunc("/rpc/stream", h.handleStream).Methods(http.MethodPost)
	r.HandleFunc("/rpc/health", h.handleHealth).Methods(http.MethodGet)
}

func (h *Handler) handleProcess(w http.ResponseWriter, r *http.Request) {
	var req agentsvc.MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("transporthttp: decode request: %v", err), http.StatusBadRequest)
		return
	}

	resp, err := h.svc.ProcessMessage(r.Context(), req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// handleStream streams StreamFrame values, one JSON object per line, as
// a chunked response body; the client reads it with a bufio.Scanner.
// Each write is flushed immediately so frame latency reaches the client
// without buffering delay, matching the RPC handler's own pacing.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	var req agentsvc.MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("transporthttp: decode request: %v", err), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	flusher, canFlush := w.(http.Flusher)
	encoder := json.NewEncoder(w)

	err := h.svc.StreamMessage(r.Context(), req, func(frame agentsvc.StreamFrame) error {
		if encErr := encoder.Encode(frame); encErr != nil {
			return encErr
		}
		if canFlush {
			flusher.Flush()
		}
		return nil
	})
	if err != nil {
		log.Warnf("transporthttp: stream %s ended with error: %v", req.SessionID, err)
	}
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := h.svc.HealthCheck(r.Context())
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(status)
}

// Client is the Gateway-side consumer of transporthttp: it calls a remote
// Agent process's RPC routes and decodes the response.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a Client pointed at baseURL (e.g. "http://localhost:9000").
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{baseURL: baseURL, http: &http.Client{Timeout: timeout}}
}

// ProcessMessage calls the remote /rpc/process route.
func (c *Client) ProcessMessage(req agentsvc.MessageRequest) (agentsvc.MessageResponse, error) {
	var resp agentsvc.MessageResponse
	body, err := jsonBody(req)
	if err != nil {
		return resp, err
	}
	httpResp, err := c.http.Post(c.baseURL+"/rpc/process", "application/json", body)
	if err != nil {
		return resp, fmt.Errorf("transporthttp: process request: %w", err)
	}
	defer httpResp.Body.Close()
	if httpResp.StatusCode != http.StatusOK {
		return resp, fmt.Errorf("transporthttp: process request returned status %d", httpResp.StatusCode)
	}
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return resp, fmt.Errorf("transporthttp: decode process response: %w", err)
	}
	return resp, nil
}

// StreamMessage calls the remote /rpc/stream route and invokes sink once
// per NDJSON line, in order, until the body is exhausted or sink errors.
func (c *Client) StreamMessage(req agentsvc.MessageRequest, sink agentsvc.FrameSink) error {
	body, err := jsonBody(req)
	if err != nil {
		return err
	}
	httpResp, err := c.http.Post(c.baseURL+"/rpc/stream", "application/json", body)
	if err != nil {
		return fmt.Errorf("transporthttp: %w", wrapTransportError(err))
	}
	defer httpResp.Body.Close()
	if httpResp.StatusCode != http.StatusOK {
		return fmt.Errorf("transporthttp: stream request returned status %d", httpResp.StatusCode)
	}

	scanner := bufio.NewScanner(httpResp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var frame agentsvc.StreamFrame
		if err := json.Unmarshal(scanner.Bytes(), &frame); err != nil {
			return fmt.Errorf("transporthttp: decode frame: %w", err)
		}
		if err := sink(frame); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func jsonBody(req agentsvc.MessageRequest) (io.Reader, error) {
	encoded, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("transporthttp: encode request: %w", err)
	}
	return bytes.NewReader(encoded), nil
}

// wrapTransportError marks a network-level failure as an upstream
// transport error so the Gateway's canonical error sequence can
// recognise it with errors.Is.
func wrapTransportError(err error) error {
	return fmt.Errorf("%w: %v", apperr.ErrTransportUpstream, err)
}

// HealthCheck calls the remote /rpc/health route.
func (c *Client) HealthCheck() (agentsvc.HealthStatus, error) {
	var status agentsvc.HealthStatus
	httpResp, err := c.http.Get(c.baseURL + "/rpc/health")
	if err != nil {
		return status, fmt.Errorf("transporthttp: health check: %w", err)
	}
	defer httpResp.Body.Close()
	if err := json.NewDecoder(httpResp.Body).Decode(&status); err != nil {
		return status, fmt.Errorf("transporthttp: decode health response: %w", err)
	}
	return status, nil
}
