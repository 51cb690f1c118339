package agentsvc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/tiammomo/ShuaiTravelAgent/apperr"
	"github.com/tiammomo/ShuaiTravelAgent/config"
	"github.com/tiammomo/ShuaiTravelAgent/llm"
	"github.com/tiammomo/ShuaiTravelAgent/log"
	"github.com/tiammomo/ShuaiTravelAgent/memory"
	"github.com/tiammomo/ShuaiTravelAgent/orchestrator"
	"github.com/tiammomo/ShuaiTravelAgent/react"
	"github.com/tiammomo/ShuaiTravelAgent/session"
	"github.com/tiammomo/ShuaiTravelAgent/tool"
	"github.com/tiammomo/ShuaiTravelAgent/tool/tools"
)

const (
	// queueCapacity is the bounded FIFO depth for both thinking_q and
	// answer_q.
	queueCapacity = 256
	// pollInterval is how long the frame-emission loop waits on an empty
	// queue before re-checking the other queue and the done signal.
	pollInterval = 50 * time.Millisecond
	// pacingInterval is the sleep after every emitted answer chunk.
	pacingInterval = 20 * time.Millisecond
	// workerPoolSize bounds concurrent in-flight orchestrator runs.
	workerPoolSize = 128

	defaultSystemPrompt = "You are a helpful travel-planning assistant. Answer concisely and focus on concrete, actionable travel advice."
	agentVersion        = "1.0.0"
)

// modelRuntime bundles one model configuration's immutable, process-
// lifetime objects: its LLM client and its tool registry (domain fixture
// tools plus an llm_chat tool bound to that same client). Both are safe
// for concurrent use by every session currently selecting this model;
// the registry is immutable after startup and shared per-model rather
// than globally, since the llm_chat tool is inherently model-specific.
type modelRuntime struct {
	client   *llm.Client
	registry *tool.Registry
}

// Agent implements Service: it owns the Session Store, one modelRuntime
// per configured model, and the shared worker pool that runs orchestrator
// invocations off the RPC-serving goroutine.
type Agent struct {
	sessions     *session.Store
	pool         *ants.Pool
	models       map[string]*modelRuntime
	defaultModel string
	knownCities  []string
}

// New builds an Agent from cfg, constructing one modelRuntime per entry
// in cfg.Models (including hidden ones; hiding only affects /api/models
// at the Gateway, not usability here).
func New(cfg *config.Config, sessions *session.Store) (*Agent, error) {
	pool, err := ants.NewPool(workerPoolSize, ants.WithNonblocking(false))
	if err != nil {
		return nil, fmt.Errorf("agentsvc: create worker pool: %w", err)
	}

	a := &Agent{
		sessions:     sessions,
		pool:         pool,
		models:       make(map[string]*modelRuntime, len(cfg.Models)),
		defaultModel: cfg.DefaultModel,
		knownCities:  tools.KnownCities(),
	}

	for id, mc := range cfg.Models {
		reg, err := tool.NewRegistry(0)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("agentsvc: build registry for model %q: %w", id, err)
		}
		tools.Register(reg)

		client := llm.New(mc.Model, mc.APIKey, mc.APIBase,
			llm.WithTemperature(mc.Temperature),
			llm.WithMaxTokens(mc.MaxTokens),
		)
		tools.RegisterLLMChat(reg, client)

		a.models[id] = &modelRuntime{client: client, registry: reg}
	}

	return a, nil
}

// Close releases every per-model worker pool and the request pool.
func (a *Agent) Close() {
	for _, m := range a.models {
		m.registry.Close()
	}
	a.pool.Release()
}

func (a *Agent) resolveModel(sess *session.Session, modelID string) (string, *modelRuntime, error) {
	if modelID == "" {
		modelID = sess.ModelID
	}
	if modelID == "" {
		modelID = a.defaultModel
	}
	rt, ok := a.models[modelID]
	if !ok {
		return "", nil, fmt.Errorf("agentsvc: %w: unknown model %q", apperr.ErrValidation, modelID)
	}
	return modelID, rt, nil
}

// orchestratorFor returns sess's persistent Orchestrator, building it
// (or rebuilding it, if the session's model selection has changed since
// it was last built) against rt's shared, immutable client/registry.
// The caller must already hold sess's run lock: this is not safe to
// call concurrently with itself on the same session.
func (a *Agent) orchestratorFor(sess *session.Session, modelID string, rt *modelRuntime) *orchestrator.Orchestrator {
	if sess.Orchestrator != nil && sess.OrchestratorModelID == modelID {
		return sess.Orchestrator
	}
	engine := react.New(rt.registry,
		react.WithLLMClient(rt.client),
		react.WithKnownCities(a.knownCities),
	)
	sess.Orchestrator = orchestrator.New(engine, rt.client, defaultSystemPrompt)
	sess.OrchestratorModelID = modelID
	return sess.Orchestrator
}

// ProcessMessage runs one Direct-mode turn to completion and returns it
// unary, for callers that do not need token-level streaming.
func (a *Agent) ProcessMessage(ctx context.Context, req MessageRequest) (MessageResponse, error) {
	sess, ok := a.sessions.Get(req.SessionID)
	if !ok {
		return MessageResponse{}, fmt.Errorf("agentsvc: %w: session %q", apperr.ErrSessionNotFound, req.SessionID)
	}
	modelID, rt, err := a.resolveModel(sess, req.ModelID)
	if err != nil {
		return MessageResponse{}, err
	}

	sess.Lock()
	defer sess.Unlock()

	orch := a.orchestratorFor(sess, modelID, rt)
	sess.Memory.AddMessage(memory.RoleUser, req.UserInput)

	var mu sync.Mutex
	var answer, runErr string
	var success bool
	doneCh := make(chan struct{})

	orch.Run(ctx, orchestrator.ModeDirect, req.UserInput, sess.Memory, orchestrator.Callbacks{
		Done: func(r orchestrator.DoneResult) {
			mu.Lock()
			answer, runErr, success = r.Answer, r.Error, r.Success
			mu.Unlock()
			close(doneCh)
		},
	})
	<-doneCh

	if success {
		sess.Memory.AddMessage(memory.RoleAssistant, answer)
	}
	return MessageResponse{Success: success, Answer: answer, Error: runErr}, nil
}

// HealthCheck reports the Agent's liveness.
func (a *Agent) HealthCheck(ctx context.Context) HealthStatus {
	return HealthStatus{Healthy: true, Version: agentVersion, Status: "serving"}
}

// queueItem pairs a thought's content with its elapsed-seconds timestamp,
// the payload thinking_q carries.
type queueItem struct {
	content string
	elapsed float64
}

// StreamMessage implements a bi-queue fan-in: the orchestrator runs on
// a worker-pool goroutine, pushing Thinking and Answer callbacks into
// two bounded queues; this goroutine (the RPC-serving thread) drains
// both on a poll loop and emits frames to sink in a fixed topological
// order (thinking chunks, then thinking_end, then the answer, then
// done).
func (a *Agent) StreamMessage(ctx context.Context, req MessageRequest, sink FrameSink) error {
	requestID := uuid.NewString()
	log.Infof("agentsvc: request %s start session=%s model=%s", requestID, req.SessionID, req.ModelID)
	defer log.Infof("agentsvc: request %s cleanup", requestID)

	sess, ok := a.sessions.Get(req.SessionID)
	if !ok {
		return fmt.Errorf("agentsvc: %w: session %q", apperr.ErrSessionNotFound, req.SessionID)
	}
	modelID, rt, err := a.resolveModel(sess, req.ModelID)
	if err != nil {
		return err
	}

	sess.Lock()
	defer sess.Unlock()

	orch := a.orchestratorFor(sess, modelID, rt)
	sess.Memory.AddMessage(memory.RoleUser, req.UserInput)

	if err := sink(StreamFrame{ChunkType: ChunkThinkingStart}); err != nil {
		return err
	}

	thinkingQ := make(chan queueItem, queueCapacity)
	answerQ := make(chan string, queueCapacity)
	done := make(chan struct{})
	var errMu sync.Mutex
	var runError string
	var finalAnswer string

	var closeDone sync.Once
	submitErr := a.pool.Submit(func() {
		defer func() {
			if r := recover(); r != nil {
				errMu.Lock()
				runError = fmt.Sprintf("%v: %v", apperr.ErrInternal, r)
				errMu.Unlock()
				closeDone.Do(func() { close(done) })
			}
		}()
		orch.Run(ctx, orchestrator.ModeReAct, req.UserInput, sess.Memory, orchestrator.Callbacks{
			Thinking: func(content string, elapsed float64) {
				thinkingQ <- queueItem{content: content, elapsed: elapsed}
			},
			Answer: func(token string) {
				answerQ <- token
			},
			Done: func(r orchestrator.DoneResult) {
				if !r.Success {
					errMu.Lock()
					runError = r.Error
					if runError == "" {
						runError = "orchestrator run did not succeed"
					}
					errMu.Unlock()
				}
				finalAnswer = r.Answer
				closeDone.Do(func() { close(done) })
			},
		})
	})
	if submitErr != nil {
		return fmt.Errorf("agentsvc: %w: submit worker: %v", apperr.ErrInternal, submitErr)
	}

	thinkingSent := false
	answerStarted := false

	emitThinkingChunk := func(item queueItem) error {
		thinkingSent = true
		return sink(StreamFrame{ChunkType: ChunkThinkingChunk, Content: item.content})
	}
	emitAnswerToken := func(token string) error {
		if !answerStarted {
			if thinkingSent {
				if err := sink(StreamFrame{ChunkType: ChunkThinkingEnd}); err != nil {
					return err
				}
			}
			if err := sink(StreamFrame{ChunkType: ChunkAnswerStart}); err != nil {
				return err
			}
			answerStarted = true
		}
		if err := sink(StreamFrame{ChunkType: ChunkAnswer, Content: token}); err != nil {
			return err
		}
		time.Sleep(pacingInterval)
		return nil
	}

loop:
	for {
		select {
		case item := <-thinkingQ:
			if err := emitThinkingChunk(item); err != nil {
				return err
			}
		case <-time.After(pollInterval):
		}

		select {
		case token := <-answerQ:
			if err := emitAnswerToken(token); err != nil {
				return err
			}
		case <-time.After(pollInterval):
		}

		select {
		case <-done:
			drain := true
			for drain {
				select {
				case item := <-thinkingQ:
					if err := emitThinkingChunk(item); err != nil {
						return err
					}
				case token := <-answerQ:
					if err := emitAnswerToken(token); err != nil {
						return err
					}
				default:
					drain = false
				}
			}
			break loop
		default:
		}
	}

	errMu.Lock()
	finalErr := runError
	errMu.Unlock()

	if finalErr != "" {
		if !answerStarted && thinkingSent {
			if err := sink(StreamFrame{ChunkType: ChunkThinkingEnd}); err != nil {
				return err
			}
		}
		return sink(StreamFrame{ChunkType: ChunkError, Content: finalErr, IsLast: true})
	}

	if finalAnswer != "" {
		sess.Memory.AddMessage(memory.RoleAssistant, finalAnswer)
	}
	return sink(StreamFrame{ChunkType: ChunkDone, IsLast: true})
}
