package ir

import "time"

// Kind identifies which external confirmation an operation waits for.
type Kind string

const (
	// KindAuth is a third-party identity-provider sign-in.
	KindAuth Kind = "auth"
	// KindPayment is a charge initiated against a payment gateway.
	KindPayment Kind = "payment"
)

// Kinds lists every supported kind in a stable order.
var Kinds = []Kind{KindAuth, KindPayment}

// Valid reports whether k is a supported kind.
func (k Kind) Valid() bool {
	return k == KindAuth || k == KindPayment
}

// Status is the lifecycle state of an Operation.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusPending   Status = "pending"
	StatusVerifying Status = "verifying"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// Terminal reports whether no further transition can occur from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusConfirmed, StatusFailed, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// InFlight reports whether s is Pending or Verifying.
func (s Status) InFlight() bool {
	return s == StatusPending || s == StatusVerifying
}

// Source names the channel a Signal arrived through.
type Source string

const (
	SourceDeepLink   Source = "deep_link"
	SourceBrowserNav Source = "browser_nav"
	SourcePoll       Source = "poll"
)

// SignalOutcome is what a channel claims happened externally.
// Claims are never trusted; success claims are always verified.
type SignalOutcome string

const (
	OutcomeSuccess SignalOutcome = "success"
	OutcomeCancel  SignalOutcome = "cancel"
)

// Seed carries caller-provided data available when an operation starts.
type Seed struct {
	// ExternalReference is set when the reference is known up front
	// (e.g. a checkout session created before the gateway page opens).
	ExternalReference string `json:"external_reference,omitempty"`

	// Metadata is opaque caller context recorded with the operation.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Operation is a confirmable operation correlated by ID.
//
// At most one Pending/Verifying operation exists per Kind.
type Operation struct {
	ID                string            `json:"id"`
	Kind              Kind              `json:"kind"`
	CreatedAt         time.Time         `json:"created_at"`
	Status            Status            `json:"status"`
	ExternalReference string            `json:"external_reference,omitempty"`
	Attempts          int               `json:"attempts"`
	Error             string            `json:"error,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

// Signal is an unverified completion claim from one outcome channel.
// Signals are ephemeral and consumed once by the coordinator.
type Signal struct {
	OperationID       string        `json:"operation_id"`
	Source            Source        `json:"source"`
	Outcome           SignalOutcome `json:"outcome"`
	ExternalReference string        `json:"external_reference,omitempty"`
	RawPayload        string        `json:"raw_payload,omitempty"`
}

// VerifyRequest is the body of an authoritative verification call.
type VerifyRequest struct {
	Kind          Kind   `json:"-"`
	Reference     string `json:"reference"`
	CorrelationID string `json:"correlationId"`
}

// VerificationResult is the backend's idempotent judgment on a reference.
// Repeated calls for the same reference yield equivalent results.
type VerificationResult struct {
	Verified         bool     `json:"verified"`
	AlreadyProcessed bool     `json:"alreadyProcessed"`
	OutcomeData      IRObject `json:"outcomeData,omitempty"`
}

// Confirmed reports whether the result counts as success.
// AlreadyProcessed is success that must not be re-applied.
func (r VerificationResult) Confirmed() bool {
	return r.Verified || r.AlreadyProcessed
}

// Mode selects how the applier treats a confirmed result.
type Mode string

const (
	// ModeApply performs the side effects for a fresh confirmation.
	ModeApply Mode = "applied"
	// ModeAdopt reflects a result the backend already processed without
	// performing a second mutation.
	ModeAdopt Mode = "adopted"
)

// ModeFor returns the applier mode implied by a verification result.
func ModeFor(r VerificationResult) Mode {
	if r.AlreadyProcessed {
		return ModeAdopt
	}
	return ModeApply
}

// AppliedOutcome is the permanent effect of a confirmed operation.
// Created at most once per OperationID.
type AppliedOutcome struct {
	OperationID string   `json:"operation_id"`
	Kind        Kind     `json:"kind"`
	Mode        Mode     `json:"mode"`
	Destination string   `json:"destination"`
	Data        IRObject `json:"data"`
	Seq         int64    `json:"seq"`
}

// Destinations signalled to the UI after an applied outcome.
const (
	DestinationHome           = "home"
	DestinationOnboarding     = "onboarding"
	DestinationPaymentSuccess = "payment_success"
)

// TraceEvent records one coordinator decision.
type TraceEvent struct {
	Seq         int64  `json:"seq"`
	Type        string `json:"type"`
	OperationID string `json:"operation_id"`
	Status      Status `json:"status"`
	Source      Source `json:"source,omitempty"`
	Reference   string `json:"reference,omitempty"`
	Detail      string `json:"detail,omitempty"`
}

// Trace event types.
const (
	TraceStarted      = "started"
	TraceSignal       = "signal"
	TraceIgnored      = "ignored"
	TraceVerification = "verification"
	TraceTerminal     = "terminal"
)
