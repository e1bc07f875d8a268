package contracts

import "unicode/utf8"

// OutcomeType is the discriminator identifying which requested operation an
// outcome reports on.
type OutcomeType string

const (
	// OutcomeAnswerAppHostedMedia reports on a prior answer action.
	OutcomeAnswerAppHostedMedia OutcomeType = "answerAppHostedMediaOutcome"
	// OutcomeJoinCallAppHostedMedia reports on a prior join action.
	OutcomeJoinCallAppHostedMedia OutcomeType = "joinCallAppHostedMediaOutcome"
	// OutcomeWorkflowValidation reports that the platform rejected a
	// previously returned workflow.
	OutcomeWorkflowValidation OutcomeType = "workflowValidationOutcome"
)

var knownOutcomeTypes = map[OutcomeType]bool{
	OutcomeAnswerAppHostedMedia:   true,
	OutcomeJoinCallAppHostedMedia: true,
	OutcomeWorkflowValidation:     true,
}

// Outcome result values.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Link map keys delivered in a ConversationResult.
const (
	// LinkCall is the resource link for the established call, used for
	// in-call requests such as ending the call.
	LinkCall = "call"
	// LinkSubscriptions is the resource link for video subscription requests.
	LinkSubscriptions = "subscriptions"
)

// OperationOutcome is the platform's report of whether a previously
// requested action succeeded.
type OperationOutcome struct {
	// Type identifies which operation kind this outcome reports on.
	Type OutcomeType `json:"type"`

	// ID is the operation id of the original action.
	ID string `json:"id"`

	// Outcome is "success" or "failure".
	Outcome string `json:"outcome"`

	// FailureReason is the platform reason string on failure.
	FailureReason string `json:"failureReason,omitempty"`

	// FailureCompletionReason is a machine-readable failure code, if any.
	FailureCompletionReason string `json:"failureCompletionReason,omitempty"`
}

// Succeeded reports whether the operation completed successfully.
func (o *OperationOutcome) Succeeded() bool {
	return o.Outcome == OutcomeSuccess
}

// Validate checks the outcome discriminator and result fields.
func (o *OperationOutcome) Validate() error {
	if !knownOutcomeTypes[o.Type] {
		return newValidationError("outcome.type", "unknown type "+string(o.Type))
	}
	if o.ID == "" {
		return newValidationError("outcome.id", "must not be empty")
	}
	if o.Outcome != OutcomeSuccess && o.Outcome != OutcomeFailure {
		return newValidationError("outcome.outcome", "must be success or failure")
	}
	return nil
}

// ConversationResult is the mid-call callback payload correlating an
// operation outcome with a call, carrying platform resource links once the
// call is established.
type ConversationResult struct {
	// ID is the call leg id the outcome belongs to.
	ID string `json:"id"`

	// OperationOutcome reports the fate of the requested action.
	OperationOutcome OperationOutcome `json:"operationOutcome"`

	// AppState echoes the opaque string from the workflow that requested
	// the operation.
	AppState string `json:"appState,omitempty"`

	// Links holds platform resource links ("call", "subscriptions") once
	// they exist.
	Links map[string]string `json:"links,omitempty"`
}

// Validate checks identity, the embedded outcome, and any resource links.
func (r *ConversationResult) Validate() error {
	if r.ID == "" {
		return newValidationError("conversationResult.id", "must not be empty")
	}
	if err := r.OperationOutcome.Validate(); err != nil {
		return err
	}
	if utf8.RuneCountInString(r.AppState) > maxAppStateLen {
		return newValidationError("conversationResult.appState", "exceeds maximum length")
	}
	for name, link := range r.Links {
		if err := validateLink("conversationResult.links."+name, link); err != nil {
			return err
		}
	}
	return nil
}
