package contracts

import (
	"encoding/json"
	"strings"
	"testing"
)

func testLinks() *CallbackLinks {
	return &CallbackLinks{
		Callback:     "https://bot.example.com/api/calling/callback",
		Notification: "https://bot.example.com/api/calling/notification",
	}
}

func TestWorkflowValidate_RequiresLinks(t *testing.T) {
	w := &Workflow{Actions: []Action{NewAnswerAppHostedMedia(testMediaConfig())}}
	if err := w.Validate(false); err == nil {
		t.Fatal("expected error for missing links")
	}
}

func TestWorkflowValidate_InsecureLink(t *testing.T) {
	w := &Workflow{
		Links: &CallbackLinks{
			Callback:     "http://bot.example.com/callback",
			Notification: "https://bot.example.com/notification",
		},
		Actions: []Action{NewAnswerAppHostedMedia(testMediaConfig())},
	}
	if err := w.Validate(false); err == nil {
		t.Fatal("expected error for http callback link")
	}
}

func TestWorkflowValidate_RelativeLink(t *testing.T) {
	w := &Workflow{
		Links: &CallbackLinks{
			Callback:     "/api/calling/callback",
			Notification: "https://bot.example.com/notification",
		},
		Actions: []Action{NewAnswerAppHostedMedia(testMediaConfig())},
	}
	if err := w.Validate(false); err == nil {
		t.Fatal("expected error for relative callback link")
	}
}

func TestWorkflowValidate_ExpectEmptyActions(t *testing.T) {
	w := &Workflow{
		Links:   testLinks(),
		Actions: []Action{NewVideoSubscription(0, "user-a")},
	}
	if err := w.Validate(true); err == nil {
		t.Fatal("expected error for non-empty actions in empty mode")
	}

	w.Actions = nil
	if err := w.Validate(true); err != nil {
		t.Fatalf("unexpected error for empty actions in empty mode: %v", err)
	}
}

func TestWorkflowValidate_NormalModeRunsActionRules(t *testing.T) {
	w := &Workflow{Links: testLinks()}
	if err := w.Validate(false); err == nil {
		t.Fatal("expected error for empty action set in normal mode")
	}

	w.Actions = []Action{
		NewAnswerAppHostedMedia(testMediaConfig()),
		NewJoinCallAppHostedMedia("token", "thread", testMediaConfig()),
	}
	if err := w.Validate(false); err == nil {
		t.Fatal("expected error for mutually exclusive actions")
	}
}

func TestWorkflowValidate_AppStateCeiling(t *testing.T) {
	w := &Workflow{
		Links:    testLinks(),
		Actions:  []Action{NewAnswerAppHostedMedia(testMediaConfig())},
		AppState: strings.Repeat("s", maxAppStateLen+1),
	}
	if err := w.Validate(false); err == nil {
		t.Fatal("expected error for oversized appState")
	}
}

func TestWorkflowValidate_UnknownSubscription(t *testing.T) {
	w := &Workflow{
		Links:                     testLinks(),
		Actions:                   []Action{NewAnswerAppHostedMedia(testMediaConfig())},
		NotificationSubscriptions: []NotificationType{"participantMuted"},
	}
	if err := w.Validate(false); err == nil {
		t.Fatal("expected error for unknown notification subscription")
	}
}

func TestWorkflowRoundTrip(t *testing.T) {
	answer := NewAnswerAppHostedMedia(testMediaConfig())
	w := &Workflow{
		Links:                     testLinks(),
		Actions:                   []Action{answer},
		NotificationSubscriptions: []NotificationType{NotificationCallStateChange, NotificationRosterUpdate},
		AppState:                  "opaque-state",
	}

	data, err := EncodeWorkflow(w, false)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	var got Workflow
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("decode failed: %v", err)
	}

	if got.Links == nil || got.Links.Callback != w.Links.Callback || got.Links.Notification != w.Links.Notification {
		t.Errorf("links not preserved: %+v", got.Links)
	}
	if got.AppState != "opaque-state" {
		t.Errorf("appState not preserved: %q", got.AppState)
	}
	if len(got.NotificationSubscriptions) != 2 {
		t.Fatalf("expected 2 subscriptions, got %d", len(got.NotificationSubscriptions))
	}
	if len(got.Actions) != 1 {
		t.Fatalf("expected 1 action, got %d", len(got.Actions))
	}
	gotAnswer, ok := got.Actions[0].(*AnswerAppHostedMedia)
	if !ok {
		t.Fatalf("expected *AnswerAppHostedMedia, got %T", got.Actions[0])
	}
	if gotAnswer.OperationID() != answer.OperationID() {
		t.Errorf("operation id not preserved: %q != %q", gotAnswer.OperationID(), answer.OperationID())
	}
	if string(gotAnswer.MediaConfiguration) != string(answer.MediaConfiguration) {
		t.Errorf("media configuration not preserved: %s", gotAnswer.MediaConfiguration)
	}

	if err := got.Validate(false); err != nil {
		t.Fatalf("round-tripped workflow failed validation: %v", err)
	}
}

func TestEncodeWorkflow_ValidatesFirst(t *testing.T) {
	w := &Workflow{Links: testLinks()}
	if _, err := EncodeWorkflow(w, false); err == nil {
		t.Fatal("expected encode to fail validation for empty actions")
	}
}
