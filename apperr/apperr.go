// Package apperr names the error taxonomy of the core's error-handling
// design: each sentinel marks which recovery policy applies (retry inside
// the component, fall back to a rule-based path, or bubble to the RPC
// handler as a terminal error frame).
package apperr

import "errors"

// Sentinel categories. Wrap these with fmt.Errorf("...: %w", Sentinel) at
// the point of failure; callers branch with errors.Is.
var (
	// ErrValidation marks a request-shape problem caught before it reaches
	// the Agent (empty/oversized input, unknown model id).
	ErrValidation = errors.New("validation error")
	// ErrTransportUpstream marks an RPC/LLM connection or read failure.
	ErrTransportUpstream = errors.New("upstream transport error")
	// ErrToolFailure marks a tool timeout, missing parameter, or executor
	// panic/exception; the ReAct loop continues past this with a
	// Reflection thought.
	ErrToolFailure = errors.New("tool failure")
	// ErrParseFailure marks malformed LLM JSON; recoverable by falling
	// back to the rule-based planner/extractor.
	ErrParseFailure = errors.New("parse failure")
	// ErrSessionNotFound marks a management-endpoint lookup miss.
	ErrSessionNotFound = errors.New("session not found")
	// ErrInternal marks an uncaught worker-thread failure; the RPC
	// handler converts this to a single terminal error frame.
	ErrInternal = errors.New("internal error")
)
