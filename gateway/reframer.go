package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/tiammomo/ShuaiTravelAgent/agentsvc"
)

// reframer owns one chat SSE response: it translates incoming RPC
// StreamFrame values into sseEvent values, polls for client disconnect
// before each translation, and maintains the heartbeat timer that fires
// when no frame has been emitted for heartbeatInterval. Its state is
// guarded by mu because both the main translate loop and an independent
// heartbeat ticker goroutine (runHeartbeatTicker) write to w.
type reframer struct {
	w       http.ResponseWriter
	flusher http.Flusher
	ctx     context.Context

	mu           sync.Mutex
	lastEmit     time.Time
	disconnected bool
	terminalSeen bool
}

func newReframer(w http.ResponseWriter, flusher http.Flusher, ctx context.Context) *reframer {
	return &reframer{w: w, flusher: flusher, ctx: ctx, lastEmit: time.Now()}
}

// emit writes one SSE event and resets the heartbeat clock. It is a
// no-op once the client has disconnected or a terminal event was already
// written.
func (rf *reframer) emit(ev sseEvent) {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	if rf.disconnected || rf.terminalSeen {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	fmt.Fprintf(rf.w, "data: %s\n\n", data)
	rf.flusher.Flush()
	rf.lastEmit = time.Now()

	if ev.Type == "done" {
		rf.terminalSeen = true
	}
}

// isDisconnected reports whether the client has gone away.
func (rf *reframer) isDisconnected() bool {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	return rf.disconnected
}

// isTerminal reports whether a terminal ("done") event has been written.
func (rf *reframer) isTerminal() bool {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	return rf.terminalSeen
}

// pollDisconnect checks the request context and marks the reframer
// disconnected if the client has gone away. It also emits a heartbeat if
// the idle interval has elapsed.
func (rf *reframer) pollDisconnect() {
	select {
	case <-rf.ctx.Done():
		rf.mu.Lock()
		rf.disconnected = true
		rf.mu.Unlock()
		return
	default:
	}

	rf.mu.Lock()
	idle := time.Since(rf.lastEmit) >= heartbeatInterval
	rf.mu.Unlock()
	if idle {
		rf.emit(sseEvent{Type: "heartbeat", Timestamp: time.Now().UTC().Format(time.RFC3339)})
	}
}

// runHeartbeatTicker independently emits heartbeats on a fixed cadence
// for as long as the chat stream is open, stopping when done is closed.
// This is the heartbeat timer's own suspension point: the main translate
// loop only calls pollDisconnect when a StreamFrame actually arrives, so
// a slow tool call or slow LLM generation that leaves both the Agent's
// thinking and answer queues silent past heartbeatInterval would
// otherwise never produce a heartbeat at all.
func (rf *reframer) runHeartbeatTicker(done <-chan struct{}) {
	ticker := time.NewTicker(heartbeatTickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rf.pollDisconnect()
		case <-done:
			return
		}
	}
}

// translate converts one Agent StreamFrame into its SSE counterpart(s),
// then sleeps the inter-frame fairness yield.
func (rf *reframer) translate(frame agentsvc.StreamFrame) error {
	rf.pollDisconnect()
	if rf.isDisconnected() {
		return errDisconnected
	}

	switch frame.ChunkType {
	case agentsvc.ChunkThinkingStart:
		rf.emit(sseEvent{Type: "reasoning_start"})
	case agentsvc.ChunkThinkingChunk:
		rf.emit(sseEvent{Type: "reasoning_chunk", Content: frame.Content})
	case agentsvc.ChunkThinkingEnd:
		rf.emit(sseEvent{Type: "reasoning_end"})
	case agentsvc.ChunkAnswerStart:
		rf.emit(sseEvent{Type: "answer_start"})
	case agentsvc.ChunkAnswer:
		rf.emit(sseEvent{Type: "chunk", Content: frame.Content})
	case agentsvc.ChunkDone:
		rf.emit(sseEvent{Type: "done"})
	case agentsvc.ChunkError:
		rf.emitErrorSequence(frame.Content)
	}

	time.Sleep(interFrameDelay)
	return nil
}

// errDisconnected signals translate's caller (the agentsvc FrameSink) to
// stop producing further frames; the Agent's own run is not cancelled by
// this — its frames are simply discarded from this point on.
var errDisconnected = fmt.Errorf("gateway: client disconnected")

// emitErrorSequence writes the canonical five-event error-recovery
// sequence and marks the stream terminal.
func (rf *reframer) emitErrorSequence(detail string) {
	rf.emit(sseEvent{Type: "reasoning_chunk", Content: fmt.Sprintf("处理出错: %s (%s)", connectionFailedMessage, detail)})
	rf.emit(sseEvent{Type: "reasoning_end"})
	rf.emit(sseEvent{Type: "answer_start"})
	rf.emit(sseEvent{Type: "chunk", Content: friendlyFallbackAnswer})
	rf.emit(sseEvent{Type: "done"})
}
