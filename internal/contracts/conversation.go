// Package contracts defines the typed wire messages exchanged with the
// calling platform: inbound conversations, callbacks and notifications, and
// the outbound workflow documents that tell the platform what to do next.
// All types validate fail-fast and (de)serialize as JSON with a string
// discriminator field for polymorphic payloads.
package contracts

import (
	"net/url"
	"unicode/utf8"
)

// CallState is the lifecycle state of a call as reported by the platform.
type CallState string

const (
	CallStateIdle         CallState = "idle"
	CallStateIncoming     CallState = "incoming"
	CallStateEstablishing CallState = "establishing"
	CallStateEstablished  CallState = "established"
	CallStateHold         CallState = "hold"
	CallStateUnhold       CallState = "unhold"
	CallStateTransferring CallState = "transferring"
	CallStateRedirecting  CallState = "redirecting"
	CallStateTerminating  CallState = "terminating"
	CallStateTerminated   CallState = "terminated"
)

// knownCallStates is the set of discriminator values accepted on the wire.
var knownCallStates = map[CallState]bool{
	CallStateIdle:         true,
	CallStateIncoming:     true,
	CallStateEstablishing: true,
	CallStateEstablished:  true,
	CallStateHold:         true,
	CallStateUnhold:       true,
	CallStateTransferring: true,
	CallStateRedirecting:  true,
	CallStateTerminating:  true,
	CallStateTerminated:   true,
}

// Terminal reports whether the state means the call is over (or ending) and
// its registry entry should be released.
func (s CallState) Terminal() bool {
	return s == CallStateTerminating || s == CallStateTerminated
}

// ModalityType identifies a media modality on a participant stream.
type ModalityType string

const (
	ModalityAudio                   ModalityType = "audio"
	ModalityVideo                   ModalityType = "video"
	ModalityVideoBasedScreenSharing ModalityType = "videoBasedScreenSharing"
)

var knownModalities = map[ModalityType]bool{
	ModalityAudio:                   true,
	ModalityVideo:                   true,
	ModalityVideoBasedScreenSharing: true,
}

// MediaStreamDirection is the direction of a participant media stream as
// seen from the participant's side.
type MediaStreamDirection string

const (
	StreamSendOnly MediaStreamDirection = "sendonly"
	StreamRecvOnly MediaStreamDirection = "recvonly"
	StreamSendRecv MediaStreamDirection = "sendrecv"
	StreamInactive MediaStreamDirection = "inactive"
)

var knownDirections = map[MediaStreamDirection]bool{
	StreamSendOnly: true,
	StreamRecvOnly: true,
	StreamSendRecv: true,
	StreamInactive: true,
}

// maxAppStateLen caps the opaque appState echo string.
const maxAppStateLen = 4096

// maxLegMetadataLen caps the opaque per-participant leg metadata blob.
const maxLegMetadataLen = 1024

// Participant is one member of a call roster, with its identity and the
// media stream it contributes.
type Participant struct {
	// Identity is the platform identity (MRI) of the participant.
	Identity string `json:"identity"`

	// DisplayName is the human-readable name, if known.
	DisplayName string `json:"displayName,omitempty"`

	// Originator is true for the participant that initiated the call.
	Originator bool `json:"originator"`

	// MediaType is the modality carried by this participant's stream.
	MediaType ModalityType `json:"mediaType"`

	// MediaStreamDirection is the stream direction from the participant's
	// point of view.
	MediaStreamDirection MediaStreamDirection `json:"mediaStreamDirection,omitempty"`

	// MediaStreamID identifies the stream for video subscription requests.
	MediaStreamID uint32 `json:"mediaStreamId,omitempty"`

	// LegMetadata is an opaque blob attached to this participant's leg.
	LegMetadata string `json:"legMetadata,omitempty"`
}

// Validate checks the participant's identity and field ceilings.
func (p *Participant) Validate() error {
	if p.Identity == "" {
		return newValidationError("participant.identity", "must not be empty")
	}
	if p.MediaType != "" && !knownModalities[p.MediaType] {
		return newValidationError("participant.mediaType", "unknown modality "+string(p.MediaType))
	}
	if p.MediaStreamDirection != "" && !knownDirections[p.MediaStreamDirection] {
		return newValidationError("participant.mediaStreamDirection", "unknown direction "+string(p.MediaStreamDirection))
	}
	if utf8.RuneCountInString(p.LegMetadata) > maxLegMetadataLen {
		return newValidationError("participant.legMetadata", "exceeds maximum length")
	}
	return nil
}

// Conversation is the incoming-call descriptor delivered on the first
// request for a new call.
type Conversation struct {
	// ID is the call leg id assigned by the platform.
	ID string `json:"id"`

	// Participants is the initial roster. At least the originator is present.
	Participants []Participant `json:"participants"`

	// CallState is the state of the call at delivery time.
	CallState CallState `json:"callState"`

	// ThreadID is the chat thread backing a multi-party call, if any.
	ThreadID string `json:"threadId,omitempty"`

	// AppState is an opaque string echoed back on subsequent callbacks.
	AppState string `json:"appState,omitempty"`
}

// Validate checks identity, roster and state fields.
func (c *Conversation) Validate() error {
	if c.ID == "" {
		return newValidationError("conversation.id", "must not be empty")
	}
	if len(c.Participants) == 0 {
		return newValidationError("conversation.participants", "must not be empty")
	}
	for i := range c.Participants {
		if err := c.Participants[i].Validate(); err != nil {
			return err
		}
	}
	if !knownCallStates[c.CallState] {
		return newValidationError("conversation.callState", "unknown state "+string(c.CallState))
	}
	if utf8.RuneCountInString(c.AppState) > maxAppStateLen {
		return newValidationError("conversation.appState", "exceeds maximum length")
	}
	return nil
}

// validateSecureLink checks that a link is an absolute URL with a secure
// scheme. Callback and notification links must survive being called back
// from the platform over the public internet.
func validateSecureLink(field, raw string) error {
	if raw == "" {
		return newValidationError(field, "must not be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return newValidationError(field, "is not a valid URL")
	}
	if !u.IsAbs() {
		return newValidationError(field, "must be an absolute URL")
	}
	if u.Scheme != "https" {
		return newValidationError(field, "must use https")
	}
	return nil
}

// validateLink checks that a link is an absolute URL of any scheme. Used for
// platform-provided resource links where the scheme is the platform's call.
func validateLink(field, raw string) error {
	if raw == "" {
		return newValidationError(field, "must not be empty")
	}
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() {
		return newValidationError(field, "must be an absolute URL")
	}
	return nil
}
