package contracts

import (
	"encoding/json"

	"github.com/google/uuid"
)

// ActionType is the discriminator value identifying a workflow action.
type ActionType string

const (
	// ActionAnswerAppHostedMedia answers an incoming call with app-hosted media.
	ActionAnswerAppHostedMedia ActionType = "answerAppHostedMedia"
	// ActionJoinCallAppHostedMedia joins an existing multi-party call.
	ActionJoinCallAppHostedMedia ActionType = "joinCallAppHostedMedia"
	// ActionVideoSubscription subscribes a video socket to a participant stream.
	ActionVideoSubscription ActionType = "videoSubscription"
	// ActionReject declines an incoming call.
	ActionReject ActionType = "reject"
)

// RejectReason values accepted on a reject action.
const (
	RejectReasonNone    = "none"
	RejectReasonBusy    = "busy"
	RejectReasonDecline = "decline"
)

// MaxMediaConfigurationLength is the platform ceiling for the opaque media
// configuration blob carried in answer/join actions.
const MaxMediaConfigurationLength = 10 * 1024

// Action is one step the platform is asked to perform in a workflow.
type Action interface {
	// ActionName returns the wire discriminator of this action.
	ActionName() ActionType

	// OperationID correlates the action with a later operation outcome.
	OperationID() string

	// Standalone reports whether the action must appear alone in a workflow.
	Standalone() bool

	// Validate checks the action's own fields.
	Validate() error
}

// actionBase carries the fields shared by every action variant.
type actionBase struct {
	Action      ActionType `json:"action"`
	OperationId string     `json:"operationId"`
}

func (b *actionBase) ActionName() ActionType { return b.Action }
func (b *actionBase) OperationID() string    { return b.OperationId }

// validate checks the shared fields against the expected discriminator.
func (b *actionBase) validate(want ActionType) error {
	if b.Action != want {
		return newValidationError("action", "expected "+string(want)+", got "+string(b.Action))
	}
	if b.OperationId == "" {
		return newValidationError("action.operationId", "must not be empty")
	}
	return nil
}

// validateMediaConfiguration checks the opaque media blob against the
// platform ceiling.
func validateMediaConfiguration(field string, cfg json.RawMessage) error {
	if len(cfg) == 0 {
		return newValidationError(field, "must not be empty")
	}
	if len(cfg) > MaxMediaConfigurationLength {
		return newValidationError(field, "exceeds maximum length")
	}
	return nil
}

// AnswerAppHostedMedia answers an incoming call, handing the platform the
// opaque media configuration produced by the bot's media session.
type AnswerAppHostedMedia struct {
	actionBase

	// MediaConfiguration is the serialized media session configuration.
	MediaConfiguration json.RawMessage `json:"mediaConfiguration"`

	// AcceptModalityTypes lists the modalities the bot accepts. Defaults to
	// audio when empty.
	AcceptModalityTypes []ModalityType `json:"acceptModalityTypes,omitempty"`
}

// NewAnswerAppHostedMedia builds an answer action with a fresh operation id.
func NewAnswerAppHostedMedia(mediaConfiguration json.RawMessage) *AnswerAppHostedMedia {
	return &AnswerAppHostedMedia{
		actionBase:         actionBase{Action: ActionAnswerAppHostedMedia, OperationId: uuid.NewString()},
		MediaConfiguration: mediaConfiguration,
	}
}

func (a *AnswerAppHostedMedia) Standalone() bool { return true }

func (a *AnswerAppHostedMedia) Validate() error {
	if err := a.validate(ActionAnswerAppHostedMedia); err != nil {
		return err
	}
	if err := validateMediaConfiguration("answerAppHostedMedia.mediaConfiguration", a.MediaConfiguration); err != nil {
		return err
	}
	for _, m := range a.AcceptModalityTypes {
		if !knownModalities[m] {
			return newValidationError("answerAppHostedMedia.acceptModalityTypes", "unknown modality "+string(m))
		}
	}
	return nil
}

// JoinCallAppHostedMedia asks the platform to join the bot into an existing
// multi-party call.
type JoinCallAppHostedMedia struct {
	actionBase

	// JoinToken authorizes the join with the platform.
	JoinToken string `json:"joinToken"`

	// ThreadID is the chat thread backing the call.
	ThreadID string `json:"threadId"`

	// TenantID scopes the join to an organization, if required.
	TenantID string `json:"tenantId,omitempty"`

	// OrganizerID identifies the meeting organizer, if required.
	OrganizerID string `json:"organizerId,omitempty"`

	// DisplayName is the roster name the bot joins under.
	DisplayName string `json:"displayName,omitempty"`

	// MediaConfiguration is the serialized media session configuration.
	MediaConfiguration json.RawMessage `json:"mediaConfiguration"`
}

// NewJoinCallAppHostedMedia builds a join action with a fresh operation id.
func NewJoinCallAppHostedMedia(joinToken, threadID string, mediaConfiguration json.RawMessage) *JoinCallAppHostedMedia {
	return &JoinCallAppHostedMedia{
		actionBase:         actionBase{Action: ActionJoinCallAppHostedMedia, OperationId: uuid.NewString()},
		JoinToken:          joinToken,
		ThreadID:           threadID,
		MediaConfiguration: mediaConfiguration,
	}
}

func (a *JoinCallAppHostedMedia) Standalone() bool { return true }

func (a *JoinCallAppHostedMedia) Validate() error {
	if err := a.validate(ActionJoinCallAppHostedMedia); err != nil {
		return err
	}
	if a.JoinToken == "" {
		return newValidationError("joinCallAppHostedMedia.joinToken", "must not be empty")
	}
	if a.ThreadID == "" {
		return newValidationError("joinCallAppHostedMedia.threadId", "must not be empty")
	}
	return validateMediaConfiguration("joinCallAppHostedMedia.mediaConfiguration", a.MediaConfiguration)
}

// VideoSubscription routes a participant's video stream to one of the bot's
// video sockets. It can be combined with other non-standalone actions.
type VideoSubscription struct {
	actionBase

	// SocketID is the index of the bot's video socket to feed.
	SocketID uint32 `json:"socketId"`

	// ParticipantIdentity selects whose stream to subscribe to.
	ParticipantIdentity string `json:"participantIdentity"`

	// VideoModality selects video vs screen sharing. Defaults to video.
	VideoModality ModalityType `json:"videoModality,omitempty"`

	// VideoResolution is the requested resolution (e.g. "1080p", "720p").
	VideoResolution string `json:"videoResolution,omitempty"`
}

// NewVideoSubscription builds a video subscription action with a fresh
// operation id.
func NewVideoSubscription(socketID uint32, participantIdentity string) *VideoSubscription {
	return &VideoSubscription{
		actionBase:          actionBase{Action: ActionVideoSubscription, OperationId: uuid.NewString()},
		SocketID:            socketID,
		ParticipantIdentity: participantIdentity,
	}
}

func (a *VideoSubscription) Standalone() bool { return false }

func (a *VideoSubscription) Validate() error {
	if err := a.validate(ActionVideoSubscription); err != nil {
		return err
	}
	if a.ParticipantIdentity == "" {
		return newValidationError("videoSubscription.participantIdentity", "must not be empty")
	}
	if a.VideoModality != "" && a.VideoModality != ModalityVideo && a.VideoModality != ModalityVideoBasedScreenSharing {
		return newValidationError("videoSubscription.videoModality", "must be video or videoBasedScreenSharing")
	}
	return nil
}

// Reject declines an incoming call instead of answering it.
type Reject struct {
	actionBase

	// Reason tells the platform why the call was declined.
	Reason string `json:"reason,omitempty"`
}

// NewReject builds a reject action with a fresh operation id.
func NewReject(reason string) *Reject {
	return &Reject{
		actionBase: actionBase{Action: ActionReject, OperationId: uuid.NewString()},
		Reason:     reason,
	}
}

func (a *Reject) Standalone() bool { return true }

func (a *Reject) Validate() error {
	if err := a.validate(ActionReject); err != nil {
		return err
	}
	switch a.Reason {
	case "", RejectReasonNone, RejectReasonBusy, RejectReasonDecline:
		return nil
	default:
		return newValidationError("reject.reason", "unknown reason "+a.Reason)
	}
}

// ValidateActions applies the static action-set rules to the actions of a
// workflow: the set must be non-empty, standalone actions must appear alone,
// every action must validate, action names must be unique, and at most one
// member of the answer/join exclusivity group may be present.
func ValidateActions(actions []Action) error {
	if len(actions) == 0 {
		return newValidationError("actions", "must contain at least one action")
	}
	if len(actions) > 1 {
		for _, a := range actions {
			if a.Standalone() {
				return newValidationError("actions", string(a.ActionName())+" must be the only action in a workflow")
			}
		}
	}
	seen := make(map[ActionType]bool, len(actions))
	exclusive := 0
	for _, a := range actions {
		if err := a.Validate(); err != nil {
			return err
		}
		name := a.ActionName()
		if seen[name] {
			return newValidationError("actions", "duplicate action "+string(name))
		}
		seen[name] = true
		if name == ActionAnswerAppHostedMedia || name == ActionJoinCallAppHostedMedia {
			exclusive++
		}
	}
	if exclusive > 1 {
		return newValidationError("actions", "answerAppHostedMedia and joinCallAppHostedMedia are mutually exclusive")
	}
	return nil
}
