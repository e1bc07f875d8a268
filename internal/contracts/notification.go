package contracts

// NotificationType is the discriminator identifying an asynchronous
// notification variant.
type NotificationType string

const (
	// NotificationCallStateChange reports a transition of the call state.
	NotificationCallStateChange NotificationType = "callStateChange"
	// NotificationRosterUpdate reports a change to the participant roster.
	NotificationRosterUpdate NotificationType = "rosterUpdate"
)

var knownNotificationTypes = map[NotificationType]bool{
	NotificationCallStateChange: true,
	NotificationRosterUpdate:    true,
}

// Notification is an inbound asynchronous event for a call.
type Notification interface {
	// CallID returns the call the notification belongs to.
	CallID() string

	// NotificationType returns the wire discriminator.
	NotificationType() NotificationType

	// Validate checks the notification's fields.
	Validate() error
}

// notificationBase carries the fields shared by every notification variant.
type notificationBase struct {
	ID   string           `json:"id"`
	Type NotificationType `json:"type"`
}

func (n *notificationBase) CallID() string                     { return n.ID }
func (n *notificationBase) NotificationType() NotificationType { return n.Type }

func (n *notificationBase) validate(want NotificationType) error {
	if n.ID == "" {
		return newValidationError("notification.id", "must not be empty")
	}
	if n.Type != want {
		return newValidationError("notification.type", "expected "+string(want)+", got "+string(n.Type))
	}
	return nil
}

// CallStateChangeNotification reports that the platform moved the call to a
// new state, optionally with a reason.
type CallStateChangeNotification struct {
	notificationBase

	// CurrentState is the state the call transitioned into.
	CurrentState CallState `json:"currentState"`

	// StateChangeReason is a platform reason code for the transition.
	StateChangeReason string `json:"stateChangeReason,omitempty"`
}

func (n *CallStateChangeNotification) Validate() error {
	if err := n.validate(NotificationCallStateChange); err != nil {
		return err
	}
	if !knownCallStates[n.CurrentState] {
		return newValidationError("notification.currentState", "unknown state "+string(n.CurrentState))
	}
	return nil
}

// RosterUpdateNotification carries the current participant roster of a
// multi-party call.
type RosterUpdateNotification struct {
	notificationBase

	// Participants is the full roster after the update.
	Participants []Participant `json:"participants"`
}

func (n *RosterUpdateNotification) Validate() error {
	if err := n.validate(NotificationRosterUpdate); err != nil {
		return err
	}
	if len(n.Participants) == 0 {
		return newValidationError("notification.participants", "must not be empty")
	}
	for i := range n.Participants {
		if err := n.Participants[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}
