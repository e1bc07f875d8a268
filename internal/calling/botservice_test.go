package calling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/callbot/callbot/internal/contracts"
)

func testSettings() Settings {
	return Settings{
		CallbackURL:     "https://bot.example.com/api/calling/callback",
		NotificationURL: "https://bot.example.com/api/calling/notification",
		AnswerTimeout:   time.Hour,
	}
}

func testBot(h Handlers) *BotService {
	return NewBotService(testSettings(), h, testClient(), nil, testLogger())
}

func incomingPayload(id string) []byte {
	return fmt.Appendf(nil, `{"id":%q,"callState":"incoming","participants":[{"identity":"caller","originator":true,"mediaType":"audio"}]}`, id)
}

func TestProcessIncomingCall_Accepted(t *testing.T) {
	bot := testBot(answeringHandlers())

	resp, err := bot.ProcessIncomingCall(context.Background(), incomingPayload("call-x"), "chain-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Kind != KindAccepted {
		t.Fatalf("expected Accepted, got %v (%s)", resp.Kind, resp.Message)
	}

	var wf contracts.Workflow
	if err := json.Unmarshal(resp.Body, &wf); err != nil {
		t.Fatalf("response body is not a workflow: %v", err)
	}
	if len(wf.Actions) != 1 || wf.Actions[0].ActionName() != contracts.ActionAnswerAppHostedMedia {
		t.Errorf("expected answer action in workflow, got %+v", wf.Actions)
	}

	svc := bot.GetCallForID("call-x")
	if svc == nil {
		t.Fatal("call should be registered")
	}
	if svc.CorrelationID() != "chain-1" {
		t.Errorf("expected correlation id from chain header, got %q", svc.CorrelationID())
	}

	// A second call with a different id yields two registrations.
	resp, err = bot.ProcessIncomingCall(context.Background(), incomingPayload("call-y"), "")
	if err != nil || resp.Kind != KindAccepted {
		t.Fatalf("second call failed: %v %v", err, resp)
	}
	if got := bot.ActiveCallCount(); got != 2 {
		t.Errorf("expected 2 registered calls, got %d", got)
	}
	if bot.GetCallForID("call-y").CorrelationID() == "" {
		t.Error("expected a generated correlation id when chain header absent")
	}
}

func TestProcessIncomingCall_BadPayload(t *testing.T) {
	bot := testBot(answeringHandlers())

	resp, err := bot.ProcessIncomingCall(context.Background(), nil, "")
	if err != nil || resp.Kind != KindBadRequest {
		t.Fatalf("expected BadRequest for empty body, got %v %v", resp, err)
	}

	resp, err = bot.ProcessIncomingCall(context.Background(), []byte(`{"id":"","callState":"incoming"}`), "")
	if err != nil || resp.Kind != KindBadRequest {
		t.Fatalf("expected BadRequest for invalid conversation, got %v %v", resp, err)
	}
	if bot.ActiveCallCount() != 0 {
		t.Error("invalid payloads must not register calls")
	}
}

func TestProcessIncomingCall_NoHandlerIsFatal(t *testing.T) {
	bot := testBot(Handlers{Cleanup: func(ctx context.Context) error { return nil }})

	_, err := bot.ProcessIncomingCall(context.Background(), incomingPayload("call-z"), "")
	if !errors.Is(err, ErrNoHandler) {
		t.Fatalf("expected ErrNoHandler, got %v", err)
	}
}

func TestProcessIncomingCall_RejectedNotRegistered(t *testing.T) {
	h := answeringHandlers()
	h.IncomingCall = func(ctx context.Context, ev *IncomingCallEvent) error {
		ev.Reject(contracts.RejectReasonDecline)
		return nil
	}
	bot := testBot(h)

	resp, err := bot.ProcessIncomingCall(context.Background(), incomingPayload("call-r"), "")
	if err != nil || resp.Kind != KindAccepted {
		t.Fatalf("expected Accepted for rejection, got %v %v", resp, err)
	}
	if bot.GetCallForID("call-r") != nil {
		t.Fatal("rejected call must not be registered")
	}
}

func TestProcessIncomingCall_ReplacementDrainsOnce(t *testing.T) {
	var cleanups atomic.Int32
	h := answeringHandlers()
	h.Cleanup = func(ctx context.Context) error {
		cleanups.Add(1)
		return nil
	}
	bot := testBot(h)

	for i := 0; i < 2; i++ {
		resp, err := bot.ProcessIncomingCall(context.Background(), incomingPayload("call-dup"), "")
		if err != nil || resp.Kind != KindAccepted {
			t.Fatalf("request %d failed: %v %v", i, resp, err)
		}
	}

	if got := bot.ActiveCallCount(); got != 1 {
		t.Fatalf("expected 1 registered call after replacement, got %d", got)
	}

	// The stale occupant drains asynchronously, exactly once.
	deadline := time.After(5 * time.Second)
	for cleanups.Load() < 1 {
		select {
		case <-deadline:
			t.Fatal("stale call was never drained")
		case <-time.After(5 * time.Millisecond):
		}
	}
	time.Sleep(20 * time.Millisecond)
	if got := cleanups.Load(); got != 1 {
		t.Fatalf("expected exactly 1 drain, got %d", got)
	}
}

func callbackPayload(id, outcomeType, outcome string) []byte {
	return fmt.Appendf(nil, `{"id":%q,"operationOutcome":{"type":%q,"id":"op-1","outcome":%q},"links":{"call":"https://pma.example.com/calls/%s","subscriptions":"https://pma.example.com/calls/%s/subs"}}`,
		id, outcomeType, outcome, id, id)
}

func TestProcessCallback_UnknownCall(t *testing.T) {
	bot := testBot(answeringHandlers())

	resp, err := bot.ProcessCallback(context.Background(), callbackPayload("ghost", "answerAppHostedMediaOutcome", "success"), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Kind != KindNotFound {
		t.Fatalf("expected NotFound, got %v", resp.Kind)
	}
}

func TestProcessCallback_AnswerSuccess(t *testing.T) {
	bot := testBot(answeringHandlers())
	if _, err := bot.ProcessIncomingCall(context.Background(), incomingPayload("call-cb"), ""); err != nil {
		t.Fatalf("incoming call failed: %v", err)
	}

	resp, err := bot.ProcessCallback(context.Background(), callbackPayload("call-cb", "answerAppHostedMediaOutcome", "success"), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Kind != KindAccepted {
		t.Fatalf("expected Accepted, got %v (%s)", resp.Kind, resp.Message)
	}

	var wf contracts.Workflow
	if err := json.Unmarshal(resp.Body, &wf); err != nil {
		t.Fatalf("response body is not a workflow: %v", err)
	}
	if len(wf.Actions) != 0 {
		t.Errorf("expected no actions after establishment, got %+v", wf.Actions)
	}
	if !bot.GetCallForID("call-cb").Established() {
		t.Error("call should be established")
	}
}

func TestProcessCallback_JoinOutcomeCreatesCall(t *testing.T) {
	h := answeringHandlers()
	h.JoinCompleted = func(ctx context.Context, ev *OutcomeEvent) (*contracts.Workflow, error) {
		return ev.Workflow, nil
	}
	bot := testBot(h)

	resp, err := bot.ProcessCallback(context.Background(), callbackPayload("joined-call", "joinCallAppHostedMediaOutcome", "success"), "chain-j")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Kind != KindAccepted {
		t.Fatalf("expected Accepted, got %v (%s)", resp.Kind, resp.Message)
	}

	svc := bot.GetCallForID("joined-call")
	if svc == nil {
		t.Fatal("join outcome should have registered the call")
	}
	if !svc.Established() {
		t.Error("call should be established after successful join outcome")
	}
}

func TestProcessCallback_MissingHandlerIsFatal(t *testing.T) {
	h := answeringHandlers()
	h.AnswerCompleted = nil
	bot := testBot(h)
	if _, err := bot.ProcessIncomingCall(context.Background(), incomingPayload("call-nh"), ""); err != nil {
		t.Fatalf("incoming call failed: %v", err)
	}

	_, err := bot.ProcessCallback(context.Background(), callbackPayload("call-nh", "answerAppHostedMediaOutcome", "success"), "")
	if !errors.Is(err, ErrNoHandler) {
		t.Fatalf("expected ErrNoHandler, got %v", err)
	}
}

func TestProcessNotification_TerminalRemovesCall(t *testing.T) {
	var cleanups atomic.Int32
	var endedID, endedReason string
	h := answeringHandlers()
	h.Cleanup = func(ctx context.Context) error {
		cleanups.Add(1)
		return nil
	}
	bot := testBot(h)
	bot.SetCallEnded(func(callLegID, reason string) {
		endedID, endedReason = callLegID, reason
	})

	if _, err := bot.ProcessIncomingCall(context.Background(), incomingPayload("call-term"), ""); err != nil {
		t.Fatalf("incoming call failed: %v", err)
	}

	payload := []byte(`{"id":"call-term","type":"callStateChange","currentState":"terminated","stateChangeReason":"remoteHangup"}`)
	resp, err := bot.ProcessNotification(context.Background(), payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Kind != KindAccepted {
		t.Fatalf("expected Accepted, got %v", resp.Kind)
	}

	if bot.GetCallForID("call-term") != nil {
		t.Fatal("terminal notification should remove the call from the registry")
	}
	if endedID != "call-term" || endedReason != "remoteHangup" {
		t.Errorf("call-ended callback got %q/%q", endedID, endedReason)
	}

	deadline := time.After(5 * time.Second)
	for cleanups.Load() < 1 {
		select {
		case <-deadline:
			t.Fatal("terminated call was never drained")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestProcessNotification_UnknownCall(t *testing.T) {
	bot := testBot(answeringHandlers())
	payload := []byte(`{"id":"ghost","type":"callStateChange","currentState":"established"}`)
	resp, err := bot.ProcessNotification(context.Background(), payload)
	if err != nil || resp.Kind != KindNotFound {
		t.Fatalf("expected NotFound, got %v %v", resp, err)
	}
}

func TestProcessNotification_BadPayload(t *testing.T) {
	bot := testBot(answeringHandlers())
	resp, err := bot.ProcessNotification(context.Background(), []byte(`{"id":"x","type":"dtmf"}`))
	if err != nil || resp.Kind != KindBadRequest {
		t.Fatalf("expected BadRequest, got %v %v", resp, err)
	}
}

func TestJoinCall_RegistersAndPosts(t *testing.T) {
	var posts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		posts.Add(1)
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		var wf contracts.Workflow
		if err := json.NewDecoder(r.Body).Decode(&wf); err != nil {
			t.Errorf("join body is not a workflow: %v", err)
		} else if len(wf.Actions) != 1 || wf.Actions[0].ActionName() != contracts.ActionJoinCallAppHostedMedia {
			t.Errorf("expected join action, got %+v", wf.Actions)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	settings := testSettings()
	settings.JoinURL = srv.URL + "/platform/calls"
	bot := NewBotService(settings, answeringHandlers(), testClient(), nil, testLogger())

	action := contracts.NewJoinCallAppHostedMedia("token", "thread-1", json.RawMessage(`{"audioSocket":{"port":5000}}`))
	id, err := bot.JoinCall(context.Background(), action, "")
	if err != nil {
		t.Fatalf("join failed: %v", err)
	}
	if id == "" {
		t.Fatal("expected a generated call leg id")
	}
	if bot.GetCallForID(id) == nil {
		t.Fatal("joined call should be registered")
	}
	if posts.Load() != 1 {
		t.Errorf("expected 1 join POST, got %d", posts.Load())
	}
}

func TestJoinCall_FailureUnregisters(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	settings := testSettings()
	settings.JoinURL = srv.URL + "/platform/calls"
	bot := NewBotService(settings, answeringHandlers(), testClient(), nil, testLogger())

	action := contracts.NewJoinCallAppHostedMedia("token", "thread-1", json.RawMessage(`{}`))
	_, err := bot.JoinCall(context.Background(), action, "join-fail")
	if err == nil {
		t.Fatal("expected join failure")
	}
	if bot.GetCallForID("join-fail") != nil {
		t.Fatal("failed join must not leave a registration behind")
	}
}
