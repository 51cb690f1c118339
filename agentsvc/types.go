// Package agentsvc implements the Agent RPC handler: a bi-queue fan-in
// that drives one ReAct/orchestrator run per request and re-serialises
// its concurrent Thinking/Answer/Done callbacks into a single
// topologically-ordered stream of frames.
package agentsvc

import "context"

// ChunkType names one frame's position in the topological order the
// handler enforces.
type ChunkType string

const (
	ChunkThinkingStart ChunkType = "thinking_start"
	ChunkThinkingChunk ChunkType = "thinking_chunk"
	ChunkThinkingEnd   ChunkType = "thinking_end"
	ChunkAnswerStart   ChunkType = "answer_start"
	ChunkAnswer        ChunkType = "answer"
	ChunkDone          ChunkType = "done"
	ChunkError         ChunkType = "error"
)

// MessageRequest is the Agent RPC surface's request shape.
type MessageRequest struct {
	SessionID string `json:"session_id"`
	UserInput string `json:"user_input"`
	ModelID   string `json:"model_id,omitempty"`
	Stream    bool   `json:"stream"`
}

// StreamFrame is one emission of the StreamMessage RPC.
type StreamFrame struct {
	ChunkType ChunkType `json:"chunk_type"`
	Content   string    `json:"content,omitempty"`
	IsLast    bool      `json:"is_last"`
}

// MessageResponse is ProcessMessage's unary result.
type MessageResponse struct {
	Success bool   `json:"success"`
	Answer  string `json:"answer"`
	Error   string `json:"error,omitempty"`
}

// HealthStatus is HealthCheck's result.
type HealthStatus struct {
	Healthy bool   `json:"healthy"`
	Version string `json:"version"`
	Status  string `json:"status"`
}

// FrameSink receives one StreamFrame at a time, in emission order. It
// models the server-streaming RPC's `stream.Send` without committing to
// gRPC or any other concrete transport; transporthttp adapts one onto
// chunked HTTP, and tests adapt one onto a plain slice.
type FrameSink func(frame StreamFrame) error

// Service is the Agent RPC surface.
type Service interface {
	ProcessMessage(ctx context.Context, req MessageRequest) (MessageResponse, error)
	StreamMessage(ctx context.Context, req MessageRequest, sink FrameSink) error
	HealthCheck(ctx context.Context) HealthStatus
}
