package authsdk

import (
	"errors"
	"time"
)

// Outcome classifies how a renewal cycle ended.
type Outcome string

const (
	OutcomeSuccess      Outcome = "success"
	OutcomeRejected     Outcome = "rejected"
	OutcomeNoCredential Outcome = "no_credential"
	OutcomeStorage      Outcome = "storage_unavailable"
	OutcomeNetwork      Outcome = "network"
	OutcomeServer       Outcome = "server_error"
	OutcomeError        Outcome = "error"
)

// ClassifyRenewal maps a renewal error to its Outcome.
func ClassifyRenewal(err error) Outcome {
	var (
		netErr *NetworkError
		apiErr *APIError
	)
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, ErrRenewalRejected):
		return OutcomeRejected
	case errors.Is(err, ErrStorageUnavailable):
		return OutcomeStorage
	case errors.Is(err, ErrNoRenewalCredential):
		return OutcomeNoCredential
	case errors.As(err, &netErr):
		return OutcomeNetwork
	case errors.As(err, &apiErr):
		return OutcomeServer
	default:
		return OutcomeError
	}
}

// Observer receives pipeline and renewal events, e.g. for metrics. Calls
// are made synchronously and must not block.
type Observer interface {
	// RenewalStarted fires when a renewal cycle begins (once per cycle,
	// however many callers join it).
	RenewalStarted()

	// RenewalFinished fires when the cycle settles.
	RenewalFinished(outcome Outcome, elapsed time.Duration)

	// AuthorizationFailed fires on every 401 the pipeline sees. retried is
	// true when the 401 answered the single retry and is final.
	AuthorizationFailed(retried bool)
}

// NopObserver ignores every event.
type NopObserver struct{}

func (NopObserver) RenewalStarted()                        {}
func (NopObserver) RenewalFinished(Outcome, time.Duration) {}
func (NopObserver) AuthorizationFailed(bool)               {}
