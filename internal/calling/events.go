package calling

import (
	"context"
	"encoding/json"

	"github.com/callbot/callbot/internal/contracts"
)

// Handlers is the per-call callback table supplied by the consuming bot.
// Each slot holds at most one handler. IncomingCall, the outcome handlers
// and Cleanup are required by the calling contract whenever their event can
// occur; notification handlers are optional and silently skipped if absent.
type Handlers struct {
	// IncomingCall is invoked for each new incoming call. The handler must
	// call Answer or Reject on the event before returning.
	IncomingCall func(ctx context.Context, ev *IncomingCallEvent) error

	// AnswerCompleted is invoked when the platform reports the outcome of a
	// previously returned answer action.
	AnswerCompleted func(ctx context.Context, ev *OutcomeEvent) (*contracts.Workflow, error)

	// JoinCompleted is invoked when the platform reports the outcome of a
	// previously issued join action.
	JoinCompleted func(ctx context.Context, ev *OutcomeEvent) (*contracts.Workflow, error)

	// WorkflowValidationFailed is invoked when the platform rejected a
	// workflow this bot returned earlier.
	WorkflowValidationFailed func(ctx context.Context, ev *OutcomeEvent) (*contracts.Workflow, error)

	// CallStateChanged is invoked for call-state-change notifications.
	// Optional.
	CallStateChanged func(ctx context.Context, n *contracts.CallStateChangeNotification) error

	// RosterUpdated is invoked for roster-update notifications. Optional.
	RosterUpdated func(ctx context.Context, n *contracts.RosterUpdateNotification) error

	// Cleanup releases per-call resources (media sockets, state). Required:
	// every bot must register one.
	Cleanup func(ctx context.Context) error
}

// IncomingCallEvent is handed to the IncomingCall handler. The handler
// decides the call's fate by calling Answer or Reject, which mutate the
// workflow returned to the platform.
type IncomingCallEvent struct {
	// Conversation is the validated incoming-call descriptor.
	Conversation *contracts.Conversation

	workflow *contracts.Workflow
	decided  bool
	rejected bool
}

// Answer accepts the call with the given app-hosted media configuration.
func (ev *IncomingCallEvent) Answer(mediaConfiguration json.RawMessage) {
	ev.workflow.Actions = []contracts.Action{contracts.NewAnswerAppHostedMedia(mediaConfiguration)}
	ev.decided = true
	ev.rejected = false
}

// AnswerWith accepts the call with a caller-built answer action, for bots
// that need to set accept modalities or a specific operation id.
func (ev *IncomingCallEvent) AnswerWith(action *contracts.AnswerAppHostedMedia) {
	ev.workflow.Actions = []contracts.Action{action}
	ev.decided = true
	ev.rejected = false
}

// Reject declines the call. reason may be empty or one of the
// contracts.RejectReason values.
func (ev *IncomingCallEvent) Reject(reason string) {
	ev.workflow.Actions = []contracts.Action{contracts.NewReject(reason)}
	ev.decided = true
	ev.rejected = true
}

// Workflow exposes the in-progress workflow so handlers can adjust
// subscriptions or appState before it is returned.
func (ev *IncomingCallEvent) Workflow() *contracts.Workflow {
	return ev.workflow
}

// OutcomeEvent is handed to the outcome handlers for mid-call callbacks.
type OutcomeEvent struct {
	// Result is the validated callback payload.
	Result *contracts.ConversationResult

	// Workflow is a prepared response workflow (links populated) the
	// handler may adjust and return.
	Workflow *contracts.Workflow
}
