package contracts

import (
	"encoding/json"
	"unicode/utf8"
)

// CallbackLinks are the URLs the platform calls back on for mid-call
// outcomes and asynchronous notifications.
type CallbackLinks struct {
	// Callback receives conversation results (operation outcomes).
	Callback string `json:"callback"`

	// Notification receives asynchronous notifications.
	Notification string `json:"notification"`
}

// Validate requires both links to be absolute https URLs.
func (l *CallbackLinks) Validate() error {
	if err := validateSecureLink("links.callback", l.Callback); err != nil {
		return err
	}
	return validateSecureLink("links.notification", l.Notification)
}

// Workflow is the response document returned to the platform describing the
// next action to take for a call, plus the notification subscriptions and
// callback links for subsequent events.
type Workflow struct {
	// Links are the callback/notification URLs for this call.
	Links *CallbackLinks `json:"links"`

	// Actions is the next action set. Empty once the call is established
	// and the platform drives it through resource links instead.
	Actions []Action `json:"actions,omitempty"`

	// NotificationSubscriptions lists the notification types the bot wants
	// delivered for this call.
	NotificationSubscriptions []NotificationType `json:"notificationSubscriptions,omitempty"`

	// AppState is an opaque string echoed back by the platform on the next
	// callback.
	AppState string `json:"appState,omitempty"`
}

// Validate checks the workflow before serialization. With expectEmptyActions
// the call has already transitioned to a link-bearing state and any action
// is a defect; otherwise the full action-set rules apply.
func (w *Workflow) Validate(expectEmptyActions bool) error {
	if w.Links == nil {
		return newValidationError("workflow.links", "must not be empty")
	}
	if err := w.Links.Validate(); err != nil {
		return err
	}
	if utf8.RuneCountInString(w.AppState) > maxAppStateLen {
		return newValidationError("workflow.appState", "exceeds maximum length")
	}
	for _, t := range w.NotificationSubscriptions {
		if !knownNotificationTypes[t] {
			return newValidationError("workflow.notificationSubscriptions", "unknown type "+string(t))
		}
	}
	if expectEmptyActions {
		if len(w.Actions) != 0 {
			return newValidationError("workflow.actions", "must be empty once the call is established")
		}
		return nil
	}
	return ValidateActions(w.Actions)
}

// workflowWire mirrors Workflow with raw actions for two-phase decoding.
type workflowWire struct {
	Links                     *CallbackLinks     `json:"links"`
	Actions                   []json.RawMessage  `json:"actions,omitempty"`
	NotificationSubscriptions []NotificationType `json:"notificationSubscriptions,omitempty"`
	AppState                  string             `json:"appState,omitempty"`
}

// UnmarshalJSON decodes the workflow, resolving each action by its
// discriminator.
func (w *Workflow) UnmarshalJSON(data []byte) error {
	var wire workflowWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	w.Links = wire.Links
	w.NotificationSubscriptions = wire.NotificationSubscriptions
	w.AppState = wire.AppState
	w.Actions = nil
	for _, raw := range wire.Actions {
		action, err := DecodeAction(raw)
		if err != nil {
			return err
		}
		w.Actions = append(w.Actions, action)
	}
	return nil
}
