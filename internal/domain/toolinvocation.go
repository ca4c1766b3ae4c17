package domain

import (
	"maps"
	"time"

	"github.com/qmuntal/stateless"
)

// ToolInvocationState is the lifecycle state of a single tool call.
type ToolInvocationState string

const (
	ToolInvocationPending   ToolInvocationState = "pending"
	ToolInvocationExecuting ToolInvocationState = "executing"
	ToolInvocationCompleted ToolInvocationState = "completed"
	ToolInvocationFailed    ToolInvocationState = "failed"
)

const (
	triggerInvocationExecute  = "execute"
	triggerInvocationComplete = "complete"
	triggerInvocationFail     = "fail"
)

// ToolInvocation is a per-call state machine with immutable arguments.
// Transitions are strictly pending→executing→{completed,failed}; no
// transition may be replayed or skipped.
type ToolInvocation struct {
	callID      string
	toolName    string
	args        map[string]any
	fsm         *stateless.StateMachine
	result      any
	errMessage  string
	createdAt   time.Time
	completedAt *time.Time
}

func newInvocationFSM(initial ToolInvocationState) *stateless.StateMachine {
	fsm := stateless.NewStateMachine(initial)
	fsm.Configure(ToolInvocationPending).
		Permit(triggerInvocationExecute, ToolInvocationExecuting)
	fsm.Configure(ToolInvocationExecuting).
		Permit(triggerInvocationComplete, ToolInvocationCompleted).
		Permit(triggerInvocationFail, ToolInvocationFailed)
	return fsm
}

// NewToolInvocation creates a pending invocation. Arguments are copied so the
// caller cannot mutate them afterwards.
func NewToolInvocation(callID, toolName string, args map[string]any) (*ToolInvocation, error) {
	if callID == "" {
		return nil, validationErrorf("tool invocation requires a call id")
	}
	if toolName == "" {
		return nil, validationErrorf("tool invocation requires a tool name")
	}
	return &ToolInvocation{
		callID:    callID,
		toolName:  toolName,
		args:      maps.Clone(args),
		fsm:       newInvocationFSM(ToolInvocationPending),
		createdAt: time.Now().UTC(),
	}, nil
}

func (ti *ToolInvocation) CallID() string       { return ti.callID }
func (ti *ToolInvocation) ToolName() string     { return ti.toolName }
func (ti *ToolInvocation) CreatedAt() time.Time { return ti.createdAt }

// Arguments returns a defensive copy of the frozen argument map.
func (ti *ToolInvocation) Arguments() map[string]any {
	return maps.Clone(ti.args)
}

// State returns the current lifecycle state.
func (ti *ToolInvocation) State() ToolInvocationState {
	return ti.fsm.MustState().(ToolInvocationState)
}

// IsFinished reports whether the invocation reached a terminal state.
func (ti *ToolInvocation) IsFinished() bool {
	s := ti.State()
	return s == ToolInvocationCompleted || s == ToolInvocationFailed
}

// Result returns the execution result once completed.
func (ti *ToolInvocation) Result() (any, bool) {
	if ti.State() != ToolInvocationCompleted {
		return nil, false
	}
	return ti.result, true
}

// ErrMessage returns the failure message once failed, or "".
func (ti *ToolInvocation) ErrMessage() string { return ti.errMessage }

// CompletedAt returns the terminal transition time, if any.
func (ti *ToolInvocation) CompletedAt() *time.Time { return ti.completedAt }

func (ti *ToolInvocation) fire(trigger, action string) error {
	from := ti.State()
	if err := ti.fsm.Fire(trigger); err != nil {
		return &TransitionError{Entity: "tool invocation", ID: ti.callID, From: string(from), Action: action}
	}
	return nil
}

// MarkAsExecuting moves pending→executing.
func (ti *ToolInvocation) MarkAsExecuting() error {
	return ti.fire(triggerInvocationExecute, "execute")
}

// Complete moves executing→completed and records the result.
func (ti *ToolInvocation) Complete(result any) error {
	if err := ti.fire(triggerInvocationComplete, "complete"); err != nil {
		return err
	}
	now := time.Now().UTC()
	ti.result = result
	ti.completedAt = &now
	return nil
}

// Fail moves executing→failed and records the error message.
func (ti *ToolInvocation) Fail(message string) error {
	if err := ti.fire(triggerInvocationFail, "fail"); err != nil {
		return err
	}
	now := time.Now().UTC()
	ti.errMessage = message
	ti.completedAt = &now
	return nil
}
