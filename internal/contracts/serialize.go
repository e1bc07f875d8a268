package contracts

import (
	"encoding/json"
	"fmt"
)

// DecodeConversation parses and validates an incoming-call payload.
func DecodeConversation(data []byte) (*Conversation, error) {
	var c Conversation
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decoding conversation: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// DecodeConversationResult parses and validates a mid-call callback payload.
func DecodeConversationResult(data []byte) (*ConversationResult, error) {
	var r ConversationResult
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decoding conversation result: %w", err)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// DecodeNotification parses a notification payload, resolving the concrete
// variant by its type discriminator, and validates it.
func DecodeNotification(data []byte) (Notification, error) {
	var probe struct {
		Type NotificationType `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("decoding notification: %w", err)
	}

	var n Notification
	switch probe.Type {
	case NotificationCallStateChange:
		n = &CallStateChangeNotification{}
	case NotificationRosterUpdate:
		n = &RosterUpdateNotification{}
	default:
		return nil, newValidationError("notification.type", "unknown type "+string(probe.Type))
	}

	if err := json.Unmarshal(data, n); err != nil {
		return nil, fmt.Errorf("decoding %s notification: %w", probe.Type, err)
	}
	if err := n.Validate(); err != nil {
		return nil, err
	}
	return n, nil
}

// DecodeAction parses a single workflow action, resolving the concrete
// variant by its action discriminator. The action is not validated; action
// validation is part of the workflow's action-set rules.
func DecodeAction(data []byte) (Action, error) {
	var probe struct {
		Action ActionType `json:"action"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("decoding action: %w", err)
	}

	var a Action
	switch probe.Action {
	case ActionAnswerAppHostedMedia:
		a = &AnswerAppHostedMedia{}
	case ActionJoinCallAppHostedMedia:
		a = &JoinCallAppHostedMedia{}
	case ActionVideoSubscription:
		a = &VideoSubscription{}
	case ActionReject:
		a = &Reject{}
	default:
		return nil, newValidationError("action", "unknown action "+string(probe.Action))
	}

	if err := json.Unmarshal(data, a); err != nil {
		return nil, fmt.Errorf("decoding %s action: %w", probe.Action, err)
	}
	return a, nil
}

// EncodeWorkflow validates and serializes a workflow for the response body.
func EncodeWorkflow(w *Workflow, expectEmptyActions bool) ([]byte, error) {
	if err := w.Validate(expectEmptyActions); err != nil {
		return nil, err
	}
	data, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("encoding workflow: %w", err)
	}
	return data, nil
}
