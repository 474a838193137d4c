package orchestrator

import (
	"errors"
	"runtime"

	"github.com/nidhogg/finsight/internal/ratelimit"
)

// Intent is the coarse classification of an answered request.
type Intent string

const (
	IntentClarify     Intent = "clarify"
	IntentRateLimited Intent = "rate_limited"
	IntentError       Intent = "error"
	IntentMultiStep   Intent = "multi_step"
)

// ErrEmptyMessage is returned by Handle for a blank message.
var ErrEmptyMessage = errors.New("message is empty")

// Canned replies for requests that never reach the aggregator.
const (
	rephraseReply    = "I couldn't work out what you're asking. Could you rephrase it?"
	rateLimitedReply = "I've reached my AI usage limit for the moment, so I can only answer simple questions " +
		"like \"what's my remaining budget?\" or \"how much did I spend on food?\". Please try again in a minute."
	apologyReply = "Sorry, something went wrong while working that out. Please try again."
)

// Request is one inbound chat message.
type Request struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
	// Source names the front-end, e.g. "api", "slack" or "discord".
	Source string `json:"source,omitempty"`
}

// Reply is the steward's answer.
type Reply struct {
	Response  string              `json:"response"`
	Intent    Intent              `json:"intent"`
	SessionID string              `json:"session_id"`
	RateLimit ratelimit.Remaining `json:"rate_limit"`
	TraceID   string              `json:"trace_id,omitempty"`
}

// DefaultWorkers is the per-level parallelism: one worker per CPU, at most 8.
func DefaultWorkers() int {
	return min(runtime.NumCPU(), 8)
}
