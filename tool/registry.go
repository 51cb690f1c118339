package tool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/panjf2000/ants/v2"

	"github.com/tiammomo/ShuaiTravelAgent/log"
)

const (
	// DefaultTimeoutSeconds is used when Info.Timeout is unset.
	DefaultTimeoutSeconds = 30
	defaultPoolSize       = 64
)

type registration struct {
	info     Info
	executor Executor
}

// Registry holds tool registrations and dispatches invocations against a
// bounded worker pool. Registration is serialised with a mutex; Execute is
// safe for concurrent use across sessions.
type Registry struct {
	mu   sync.RWMutex
	byID map[string]registration
	pool *ants.Pool
}

// NewRegistry creates an empty registry backed by a worker pool of the
// given size (defaultPoolSize, 64, if size <= 0).
func NewRegistry(poolSize int) (*Registry, error) {
	if poolSize <= 0 {
		poolSize = defaultPoolSize
	}
	pool, err := ants.NewPool(poolSize, ants.WithNonblocking(false))
	if err != nil {
		return nil, fmt.Errorf("tool: create worker pool: %w", err)
	}
	return &Registry{
		byID: make(map[string]registration),
		pool: pool,
	}, nil
}

// Close releases the worker pool.
func (r *Registry) Close() {
	r.pool.Release()
}

// Register adds a tool. It returns false if the name is already taken; the
// caller must explicitly call Replace to override an existing tool.
func (r *Registry) Register(info Info, executor Executor) bool {
	if info.Timeout <= 0 {
		info.Timeout = DefaultTimeoutSeconds
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[info.Name]; exists {
		return false
	}
	r.byID[info.Name] = registration{info: info, executor: executor}
	return true
}

// Replace registers a tool unconditionally, overwriting any prior
// registration under the same name.
func (r *Registry) Replace(info Info, executor Executor) {
	if info.Timeout <= 0 {
		info.Timeout = DefaultTimeoutSeconds
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[info.Name] = registration{info: info, executor: executor}
}

// Get returns the Info for name, if registered.
func (r *Registry) Get(name string) (Info, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.byID[name]
	return reg.info, ok
}

// List returns every registered tool's Info.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Info, 0, len(r.byID))
	for _, reg := range r.byID {
		out = append(out, reg.info)
	}
	return out
}

// ListMatching returns registered tools whose name matches a doublestar
// glob pattern, e.g. "search_*" or "**_tool". An admin/debugging
// convenience, not exercised by the ReAct loop itself.
func (r *Registry) ListMatching(pattern string) ([]Info, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Info
	for name, reg := range r.byID {
		ok, err := doublestar.Match(pattern, name)
		if err != nil {
			return nil, fmt.Errorf("tool: bad pattern %q: %w", pattern, err)
		}
		if ok {
			out = append(out, reg.info)
		}
	}
	return out, nil
}

// Execute validates required parameters, dispatches to the named tool's
// executor under its configured timeout, and returns the (wrapped) result.
func (r *Registry) Execute(ctx context.Context, name string, params Params) (Output, error) {
	r.mu.RLock()
	reg, ok := r.byID[name]
	r.mu.RUnlock()
	if !ok {
		return nil, &NotFoundError{Tool: name}
	}

	for _, required := range reg.info.Required {
		if _, present := params[required]; !present {
			return nil, &MissingParameterError{Tool: name, Param: required}
		}
	}

	timeout := time.Duration(reg.info.Timeout) * time.Second
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if reg.executor.Async() {
		return r.runAsync(execCtx, name, reg.executor, params, reg.info.Timeout)
	}
	return r.runSync(execCtx, name, reg.executor, params, reg.info.Timeout)
}

func (r *Registry) runAsync(ctx context.Context, name string, executor Executor, params Params, timeoutSeconds int) (Output, error) {
	out, err := executor.Execute(ctx, params)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &TimeoutError{Tool: name, Seconds: timeoutSeconds}
		}
		return nil, err
	}
	return out, nil
}

// runSync submits the blocking executor onto the worker pool and races its
// completion against the context deadline, so a slow or hung executor
// cannot stall the ReAct loop beyond its configured timeout.
func (r *Registry) runSync(ctx context.Context, name string, executor Executor, params Params, timeoutSeconds int) (Output, error) {
	type result struct {
		out Output
		err error
	}
	done := make(chan result, 1)

	submitErr := r.pool.Submit(func() {
		// Tools run against a background context: the pool goroutine may
		// outlive the caller's deadline, but its result is discarded if
		// nobody is listening by the time it finishes.
		out, err := executor.Execute(context.Background(), params)
		done <- result{out: out, err: err}
	})
	if submitErr != nil {
		return nil, fmt.Errorf("tool %q: submit to worker pool: %w", name, submitErr)
	}

	select {
	case res := <-done:
		return res.out, res.err
	case <-ctx.Done():
		log.Warnf("tool %q exceeded its %ds timeout", name, timeoutSeconds)
		return nil, &TimeoutError{Tool: name, Seconds: timeoutSeconds}
	}
}
