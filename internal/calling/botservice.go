package calling

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/callbot/callbot/internal/client"
	"github.com/callbot/callbot/internal/contracts"
)

// ResponseKind classifies the outcome of processing a webhook request. The
// HTTP layer owns the mapping to status codes.
type ResponseKind int

const (
	// KindAccepted means the request was processed; Body carries the
	// serialized workflow (or echoed content for notifications).
	KindAccepted ResponseKind = iota
	// KindBadRequest means the payload was missing, malformed or invalid.
	KindBadRequest
	// KindNotFound means the referenced call is not registered.
	KindNotFound
)

// Response is the bot service's answer to one webhook request. Fatal
// conditions (bot configuration defects, handler failures) are returned as
// errors instead, so the boundary can distinguish them from request faults.
type Response struct {
	Kind    ResponseKind
	Body    []byte
	Message string
}

func accepted(body []byte) *Response {
	return &Response{Kind: KindAccepted, Body: body}
}

func badRequest(msg string) *Response {
	return &Response{Kind: KindBadRequest, Message: msg}
}

func notFound(msg string) *Response {
	return &Response{Kind: KindNotFound, Message: msg}
}

// Settings configures the bot service's links and timers.
type Settings struct {
	// CallbackURL and NotificationURL are the public https URLs handed to
	// the platform in every workflow.
	CallbackURL     string
	NotificationURL string

	// JoinURL is the platform endpoint bot-initiated join workflows are
	// posted to.
	JoinURL string

	// AnswerTimeout overrides the per-call answer expiry when positive.
	AnswerTimeout time.Duration
}

// CallRecorder persists call lifecycle records. Implementations must be safe
// for concurrent use. A nil recorder disables persistence.
type CallRecorder interface {
	CreateRecord(ctx context.Context, callLegID, correlationID string, started time.Time) error
	CloseRecord(ctx context.Context, callLegID, reason string, ended time.Time) error
}

// BotService owns the call registry and routes the three inbound webhook
// request kinds to the right call service.
type BotService struct {
	settings Settings
	handlers Handlers
	client   *client.Client
	registry *Registry
	recorder CallRecorder
	logger   *slog.Logger

	// Optional process-level lifecycle callbacks.
	callCreated func(svc *CallService)
	callEnded   func(callLegID string, reason string)
}

// NewBotService creates the bot service. handlers is the callback table
// installed on every call service it constructs; recorder may be nil.
func NewBotService(settings Settings, handlers Handlers, c *client.Client, recorder CallRecorder, logger *slog.Logger) *BotService {
	return &BotService{
		settings: settings,
		handlers: handlers,
		client:   c,
		registry: NewRegistry(logger),
		recorder: recorder,
		logger:   logger.With("subsystem", "bot"),
	}
}

// SetCallCreated installs a callback invoked after a call is registered.
func (b *BotService) SetCallCreated(fn func(svc *CallService)) { b.callCreated = fn }

// SetCallEnded installs a callback invoked after a call leaves the registry.
func (b *BotService) SetCallEnded(fn func(callLegID, reason string)) { b.callEnded = fn }

// newCallService builds a call service wired back to this bot service's
// registry for expiry removal.
func (b *BotService) newCallService(callLegID, correlationID string) *CallService {
	svc := NewCallService(Params{
		CallLegID:       callLegID,
		CorrelationID:   correlationID,
		CallbackURL:     b.settings.CallbackURL,
		NotificationURL: b.settings.NotificationURL,
		AnswerTimeout:   b.settings.AnswerTimeout,
	}, b.handlers, b.client, b.logger)

	svc.onExpired = func(expired *CallService) {
		if b.registry.RemoveMatch(expired.callLegID, expired) {
			b.finishCall(expired.callLegID, "answerTimeout")
		}
	}
	return svc
}

// correlationID resolves the cross-service tracing id: the chain id header
// when present, otherwise a freshly generated one.
func correlationID(chainID string) string {
	if chainID != "" {
		return chainID
	}
	return uuid.NewString()
}

// register installs svc in the registry, draining any prior occupant of the
// same call leg id in the background, and records the call start.
func (b *BotService) register(ctx context.Context, svc *CallService) {
	if prev := b.registry.Register(svc.callLegID, svc); prev != nil {
		b.logger.Warn("draining stale call service",
			"call_leg_id", svc.callLegID,
			"stale_correlation_id", prev.CorrelationID(),
		)
		go prev.drain("replaced")
	}

	if b.recorder != nil {
		if err := b.recorder.CreateRecord(ctx, svc.callLegID, svc.correlationID, time.Now()); err != nil {
			b.logger.Warn("recording call start failed", "call_leg_id", svc.callLegID, "error", err)
		}
	}
	if b.callCreated != nil {
		b.callCreated(svc)
	}
}

// finishCall closes out bookkeeping after a call left the registry.
func (b *BotService) finishCall(callLegID, reason string) {
	if b.recorder != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := b.recorder.CloseRecord(ctx, callLegID, reason, time.Now()); err != nil {
			b.logger.Warn("recording call end failed", "call_leg_id", callLegID, "error", err)
		}
	}
	if b.callEnded != nil {
		b.callEnded(callLegID, reason)
	}
}

// ProcessIncomingCall handles an incoming-call webhook. Validation failures
// yield BadRequest; a missing incoming-call handler or an undecided event is
// returned as an error for the boundary to convert to an internal failure.
func (b *BotService) ProcessIncomingCall(ctx context.Context, content []byte, chainID string) (*Response, error) {
	if len(content) == 0 {
		return badRequest("empty request body"), nil
	}
	conv, err := contracts.DecodeConversation(content)
	if err != nil {
		b.logger.Warn("rejecting incoming call payload", "error", err)
		return badRequest(err.Error()), nil
	}

	svc := b.newCallService(conv.ID, correlationID(chainID))

	wf, err := svc.HandleIncomingCall(ctx, conv)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", conv.ID, err)
	}

	body, err := contracts.EncodeWorkflow(wf, false)
	if err != nil {
		// The bot's own handler produced an invalid workflow.
		return nil, fmt.Errorf("call %s: %w", conv.ID, err)
	}

	if workflowRejects(wf) {
		b.logger.Info("incoming call rejected", "call_leg_id", conv.ID)
		return accepted(body), nil
	}

	b.register(ctx, svc)
	return accepted(body), nil
}

// ProcessCallback handles a mid-call outcome webhook. A join outcome is the
// first time the platform-assigned call id is seen, so the call service is
// created and registered here; every other outcome requires an existing
// registration.
func (b *BotService) ProcessCallback(ctx context.Context, content []byte, chainID string) (*Response, error) {
	if len(content) == 0 {
		return badRequest("empty request body"), nil
	}
	result, err := contracts.DecodeConversationResult(content)
	if err != nil {
		b.logger.Warn("rejecting callback payload", "error", err)
		return badRequest(err.Error()), nil
	}

	svc := b.registry.Get(result.ID)
	if svc == nil {
		if result.OperationOutcome.Type != contracts.OutcomeJoinCallAppHostedMedia {
			b.logger.Warn("callback for unknown call", "call_leg_id", result.ID)
			return notFound("unknown call " + result.ID), nil
		}
		// Join requests go out before the platform assigns an id; the join
		// outcome introduces it.
		svc = b.newCallService(result.ID, correlationID(chainID))
		b.register(ctx, svc)
	}

	wf, err := svc.ProcessConversationResult(ctx, result)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", result.ID, err)
	}

	// The workflow was validated by the call service.
	body, err := json.Marshal(wf)
	if err != nil {
		return nil, fmt.Errorf("call %s: encoding workflow: %w", result.ID, err)
	}
	return accepted(body), nil
}

// ProcessNotification handles an asynchronous notification webhook. On a
// terminal call-state transition the call is removed from the registry and
// drained.
func (b *BotService) ProcessNotification(ctx context.Context, content []byte) (*Response, error) {
	if len(content) == 0 {
		return badRequest("empty request body"), nil
	}
	n, err := contracts.DecodeNotification(content)
	if err != nil {
		b.logger.Warn("rejecting notification payload", "error", err)
		return badRequest(err.Error()), nil
	}

	svc := b.registry.Get(n.CallID())
	if svc == nil {
		b.logger.Warn("notification for unknown call", "call_leg_id", n.CallID())
		return notFound("unknown call " + n.CallID()), nil
	}

	if err := svc.ProcessNotification(ctx, n); err != nil {
		return nil, fmt.Errorf("call %s: %w", n.CallID(), err)
	}

	if sc, ok := n.(*contracts.CallStateChangeNotification); ok && sc.CurrentState.Terminal() {
		if b.registry.RemoveMatch(n.CallID(), svc) {
			reason := sc.StateChangeReason
			if reason == "" {
				reason = string(sc.CurrentState)
			}
			go svc.drain("terminal state")
			b.finishCall(n.CallID(), reason)
		}
	}

	return accepted(content), nil
}

// JoinCall initiates a bot-side join of an existing multi-party call. The
// call service is registered eagerly under callLegID (generated when empty)
// and the join workflow is posted to the platform. Returns the call leg id
// the call was registered under.
func (b *BotService) JoinCall(ctx context.Context, action *contracts.JoinCallAppHostedMedia, callLegID string) (string, error) {
	if action == nil {
		return "", fmt.Errorf("join call: action is required")
	}
	if callLegID == "" {
		callLegID = uuid.NewString()
	}

	svc := b.newCallService(callLegID, uuid.NewString())

	wf := svc.newWorkflow()
	wf.Actions = []contracts.Action{action}
	body, err := contracts.EncodeWorkflow(wf, false)
	if err != nil {
		return "", fmt.Errorf("join call %s: %w", callLegID, err)
	}

	b.register(ctx, svc)

	if err := b.client.SendSigned(ctx, http.MethodPost, b.settings.JoinURL, body, svc.correlationID); err != nil {
		if b.registry.RemoveMatch(callLegID, svc) {
			svc.stopExpiry()
			b.finishCall(callLegID, "joinFailed")
		}
		return "", fmt.Errorf("join call %s: %w", callLegID, err)
	}

	b.logger.Info("join issued", "call_leg_id", callLegID, "thread_id", action.ThreadID)
	return callLegID, nil
}

// GetCallForID returns the call service registered for callLegID, or nil.
func (b *BotService) GetCallForID(callLegID string) *CallService {
	return b.registry.Get(callLegID)
}

// Calls returns a snapshot of all live call services.
func (b *BotService) Calls() []*CallService {
	return b.registry.Calls()
}

// CallIDs returns a snapshot of all registered call leg ids.
func (b *BotService) CallIDs() []string {
	return b.registry.CallIDs()
}

// ActiveCallCount returns the number of registered calls. It feeds the
// metrics collector.
func (b *BotService) ActiveCallCount() int {
	return b.registry.ActiveCallCount()
}
