package calling

import "errors"

// ErrNoHandler means the consuming bot never registered a handler that the
// calling contract requires. This is a configuration defect in the bot, not
// a malformed request, and surfaces as an internal error upstream.
var ErrNoHandler = errors.New("no handler registered")

// ErrNoWorkflow means a handler completed without producing the workflow the
// platform is waiting on. Like ErrNoHandler it indicates a bot defect.
var ErrNoWorkflow = errors.New("handler produced no workflow")

// ErrNotEstablished means an outbound operation needs a resource link that
// has not been delivered yet (the call has no successful answer/join outcome).
var ErrNotEstablished = errors.New("call not established")
