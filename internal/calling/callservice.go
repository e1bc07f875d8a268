// Package calling implements the per-call workflow state machine and the
// process-wide bot service that routes webhook requests to it. A call
// service owns one call's event dispatch, cached platform links and answer
// expiry timer; the bot service owns the registry mapping call leg ids to
// live call services.
package calling

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/callbot/callbot/internal/client"
	"github.com/callbot/callbot/internal/contracts"
)

// DefaultAnswerTimeout is how long a call may sit unanswered before its
// resources are reclaimed.
const DefaultAnswerTimeout = 10 * time.Minute

// cleanupTimeout bounds the background cleanup run when a call is drained
// or expires.
const cleanupTimeout = 30 * time.Second

// Params carries the identity and link configuration for one call service.
type Params struct {
	// CallLegID is the platform-assigned or locally generated call id.
	CallLegID string

	// CorrelationID is the cross-service tracing id for this call.
	CorrelationID string

	// CallbackURL and NotificationURL are the public https links the
	// platform calls back on.
	CallbackURL     string
	NotificationURL string

	// AnswerTimeout overrides DefaultAnswerTimeout when positive.
	AnswerTimeout time.Duration
}

// CallService is the state machine for a single call. All operations for
// one call arrive serialized by the platform's request pattern; the cached
// links are still guarded because the expiry timer runs concurrently.
type CallService struct {
	callLegID     string
	correlationID string
	handlers      Handlers
	client        *client.Client
	logger        *slog.Logger
	links         contracts.CallbackLinks

	mu               sync.Mutex
	subscriptionLink string
	callLink         string
	established      bool

	expiry      *time.Timer
	cleanupOnce sync.Once

	// onExpired is installed by the bot service so registry removal on
	// answer timeout stays the bot service's responsibility.
	onExpired func(svc *CallService)
}

// NewCallService constructs a call service and arms its one-shot answer
// expiry timer.
func NewCallService(p Params, h Handlers, c *client.Client, logger *slog.Logger) *CallService {
	timeout := p.AnswerTimeout
	if timeout <= 0 {
		timeout = DefaultAnswerTimeout
	}

	s := &CallService{
		callLegID:     p.CallLegID,
		correlationID: p.CorrelationID,
		handlers:      h,
		client:        c,
		logger: logger.With(
			"subsystem", "call",
			"call_leg_id", p.CallLegID,
			"correlation_id", p.CorrelationID,
		),
		links: contracts.CallbackLinks{
			Callback:     p.CallbackURL,
			Notification: p.NotificationURL,
		},
	}
	s.expiry = time.AfterFunc(timeout, s.expire)
	return s
}

// CallLegID returns the call's identifier.
func (s *CallService) CallLegID() string { return s.callLegID }

// CorrelationID returns the call's tracing identifier.
func (s *CallService) CorrelationID() string { return s.correlationID }

// Established reports whether a successful answer/join outcome has been
// processed for this call.
func (s *CallService) Established() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.established
}

// newWorkflow builds a response workflow skeleton with this call's links
// and the default call-state-change subscription.
func (s *CallService) newWorkflow() *contracts.Workflow {
	links := s.links
	return &contracts.Workflow{
		Links:                     &links,
		NotificationSubscriptions: []contracts.NotificationType{contracts.NotificationCallStateChange},
	}
}

// HandleIncomingCall runs the incoming-call handler and returns the workflow
// it produced. The handler must call Answer or Reject on the event; a
// missing handler or an undecided event is a bot defect.
func (s *CallService) HandleIncomingCall(ctx context.Context, conv *contracts.Conversation) (*contracts.Workflow, error) {
	if s.handlers.IncomingCall == nil {
		return nil, fmt.Errorf("incoming call: %w", ErrNoHandler)
	}

	ev := &IncomingCallEvent{
		Conversation: conv,
		workflow:     s.newWorkflow(),
	}
	ev.workflow.AppState = conv.AppState

	if err := s.handlers.IncomingCall(ctx, ev); err != nil {
		return nil, fmt.Errorf("incoming call handler: %w", err)
	}
	if !ev.decided {
		return nil, fmt.Errorf("incoming call: %w", ErrNoWorkflow)
	}
	if ev.rejected {
		// A rejected call never gets callbacks; stop the timer now.
		s.stopExpiry()
	}

	s.logger.Info("incoming call handled", "rejected", ev.rejected)
	return ev.workflow, nil
}

// workflowRejects reports whether a workflow declines the call.
func workflowRejects(w *contracts.Workflow) bool {
	return len(w.Actions) == 1 && w.Actions[0].ActionName() == contracts.ActionReject
}

// ProcessConversationResult validates a mid-call callback, dispatches it by
// outcome type and returns the validated workflow produced by the handler.
// Unlike notifications, a missing handler for an outcome type is fatal.
func (s *CallService) ProcessConversationResult(ctx context.Context, r *contracts.ConversationResult) (*contracts.Workflow, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}

	var handler func(ctx context.Context, ev *OutcomeEvent) (*contracts.Workflow, error)
	switch r.OperationOutcome.Type {
	case contracts.OutcomeAnswerAppHostedMedia:
		handler = s.handlers.AnswerCompleted
	case contracts.OutcomeJoinCallAppHostedMedia:
		handler = s.handlers.JoinCompleted
	case contracts.OutcomeWorkflowValidation:
		handler = s.handlers.WorkflowValidationFailed
	}
	if handler == nil {
		return nil, fmt.Errorf("%s: %w", r.OperationOutcome.Type, ErrNoHandler)
	}

	ev := &OutcomeEvent{
		Result:   r,
		Workflow: s.newWorkflow(),
	}
	wf, err := handler(ctx, ev)
	if err != nil {
		return nil, fmt.Errorf("%s handler: %w", r.OperationOutcome.Type, err)
	}
	if wf == nil {
		return nil, fmt.Errorf("%s: %w", r.OperationOutcome.Type, ErrNoWorkflow)
	}

	establishing := r.OperationOutcome.Type == contracts.OutcomeAnswerAppHostedMedia ||
		r.OperationOutcome.Type == contracts.OutcomeJoinCallAppHostedMedia
	if establishing && r.OperationOutcome.Succeeded() {
		s.establish(r.Links)
	}

	// Once established (or when the handler has nothing further to ask) the
	// workflow must carry no actions; otherwise the full action-set rules
	// apply.
	expectEmpty := s.Established() || len(wf.Actions) == 0
	if err := wf.Validate(expectEmpty); err != nil {
		return nil, fmt.Errorf("workflow from %s handler: %w", r.OperationOutcome.Type, err)
	}

	s.logger.Info("conversation result processed",
		"outcome_type", r.OperationOutcome.Type,
		"outcome", r.OperationOutcome.Outcome,
	)
	return wf, nil
}

// establish caches the platform resource links and disarms the answer
// expiry timer. The call is now link-driven and will not be reclaimed by
// timeout.
func (s *CallService) establish(links map[string]string) {
	s.mu.Lock()
	if l := links[contracts.LinkSubscriptions]; l != "" {
		s.subscriptionLink = l
	}
	if l := links[contracts.LinkCall]; l != "" {
		s.callLink = l
	}
	s.established = true
	s.mu.Unlock()

	s.stopExpiry()
	s.logger.Info("call established")
}

// ProcessNotification validates an asynchronous notification and dispatches
// it to the matching handler. Absent notification handlers are tolerated;
// present handlers are awaited before control returns.
func (s *CallService) ProcessNotification(ctx context.Context, n contracts.Notification) error {
	if err := n.Validate(); err != nil {
		return err
	}

	switch v := n.(type) {
	case *contracts.CallStateChangeNotification:
		s.logger.Info("call state changed",
			"state", v.CurrentState,
			"reason", v.StateChangeReason,
		)
		if s.handlers.CallStateChanged != nil {
			if err := s.handlers.CallStateChanged(ctx, v); err != nil {
				return fmt.Errorf("call state change handler: %w", err)
			}
		}
	case *contracts.RosterUpdateNotification:
		s.logger.Info("roster updated", "participants", len(v.Participants))
		if s.handlers.RosterUpdated != nil {
			if err := s.handlers.RosterUpdated(ctx, v); err != nil {
				return fmt.Errorf("roster update handler: %w", err)
			}
		}
	default:
		return fmt.Errorf("unsupported notification type %q", n.NotificationType())
	}
	return nil
}

// Subscribe issues a signed video subscription PUT against the cached
// subscriptions link. The call must be established.
func (s *CallService) Subscribe(ctx context.Context, sub *contracts.VideoSubscription) error {
	s.mu.Lock()
	link := s.subscriptionLink
	s.mu.Unlock()
	if link == "" {
		return fmt.Errorf("subscribe: %w", ErrNotEstablished)
	}

	if err := sub.Validate(); err != nil {
		return err
	}
	body, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("encoding video subscription: %w", err)
	}

	if err := s.client.SendSigned(ctx, http.MethodPut, link, body, s.correlationID); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	s.logger.Info("video subscription sent",
		"socket_id", sub.SocketID,
		"participant", sub.ParticipantIdentity,
	)
	return nil
}

// EndCall issues a signed DELETE against the cached call link. The call
// must be established.
func (s *CallService) EndCall(ctx context.Context) error {
	s.mu.Lock()
	link := s.callLink
	s.mu.Unlock()
	if link == "" {
		return fmt.Errorf("end call: %w", ErrNotEstablished)
	}

	if err := s.client.SendSigned(ctx, http.MethodDelete, link, nil, s.correlationID); err != nil {
		return fmt.Errorf("end call: %w", err)
	}
	s.logger.Info("end call sent")
	return nil
}

// LocalCleanup runs the bot's cleanup handler. A missing cleanup handler is
// a bot defect: every bot must register one.
func (s *CallService) LocalCleanup(ctx context.Context) error {
	if s.handlers.Cleanup == nil {
		return fmt.Errorf("cleanup: %w", ErrNoHandler)
	}
	return s.handlers.Cleanup(ctx)
}

// stopExpiry disarms the answer expiry timer. Safe to call more than once
// and concurrently with the timer firing.
func (s *CallService) stopExpiry() {
	if s.expiry != nil {
		s.expiry.Stop()
	}
}

// expire fires when the answer timeout elapses before the call is
// established. Cleanup runs in the timer goroutine; its errors are logged
// and never propagated.
func (s *CallService) expire() {
	if s.Established() {
		return
	}
	s.logger.Warn("call expired before being established")

	if s.onExpired != nil {
		s.onExpired(s)
	}
	s.drain("answer timeout")
}

// drain runs the cleanup handler exactly once across all teardown paths
// (registry replacement, terminal notification, answer expiry). Errors are
// logged only: drain is always invoked from a context that must not fail.
func (s *CallService) drain(reason string) {
	s.cleanupOnce.Do(func() {
		s.stopExpiry()

		ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer cancel()

		if err := s.LocalCleanup(ctx); err != nil {
			s.logger.Error("call cleanup failed", "reason", reason, "error", err)
			return
		}
		s.logger.Info("call cleaned up", "reason", reason)
	})
}
