package generate

import "context"

// Request is the context handed to the generation service for one
// round: a system prompt carrying the project state and a user
// prompt carrying the goal plus the latest feedback digest.
type Request struct {
	System string
	User   string
}

// Kind tags the closed set of generation outcomes. Every response
// shape the service can produce is resolved into exactly one of
// these at this boundary; nothing open-ended leaks into the loop.
type Kind string

const (
	// KindPatch carries a patch body for the patch engine.
	KindPatch Kind = "patch"
	// KindShell carries a command to run in the sandbox.
	KindShell Kind = "shell"
	// KindNoChange is the explicit "no further changes" sentinel.
	KindNoChange Kind = "no-change"
	// KindMalformed covers unparseable or empty responses and
	// generation timeouts. The loop treats it like an empty patch.
	KindMalformed Kind = "malformed"
)

// Proposal is one resolved generation-service response.
type Proposal struct {
	Kind      Kind
	Body      string
	Command   string
	Rationale string
	Reason    string
}

// Generator is the opaque generation service: context and feedback
// in, one proposal out. Implementations must never fail the loop on
// bad model output; they classify it as KindMalformed instead. An
// error return is reserved for infrastructure faults.
type Generator interface {
	Propose(ctx context.Context, req Request) (*Proposal, error)
}
