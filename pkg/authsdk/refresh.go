package authsdk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/aussiebroadwan/swellwatch/pkg/idx"
	"golang.org/x/sync/singleflight"
)

// DefaultRenewTimeout bounds one renewal network call.
const DefaultRenewTimeout = 15 * time.Second

// renewKey is the single singleflight key: there is one renewal slot per
// process, whoever asks.
const renewKey = "renew"

// Renewer performs the network exchange. *Client implements it.
type Renewer interface {
	Refresh(ctx context.Context, renewal string) (*TokenResponse, error)
}

// State is the coordinator's position in the Idle -> Renewing -> Idle cycle.
type State int32

const (
	StateIdle State = iota
	StateRenewing
)

func (s State) String() string {
	if s == StateRenewing {
		return "renewing"
	}
	return "idle"
}

// failedCycle remembers how the last renewal cycle failed, so a caller
// whose 401 was caused by the credential that cycle already tried gets the
// same answer instead of starting another cycle.
type failedCycle struct {
	access string
	epoch  uint64
	err    error
}

// RefreshCoordinator runs at most one renewal at a time across the process.
// Callers that arrive while a renewal is in flight wait for it and receive
// its outcome; they never issue a call of their own.
type RefreshCoordinator struct {
	store    *CredentialStore
	renewer  Renewer
	logger   *slog.Logger
	observer Observer
	timeout  time.Duration

	group    singleflight.Group
	state    atomic.Int32
	renewals atomic.Uint64
	last     atomic.Pointer[failedCycle]
}

// CoordinatorOption configures a RefreshCoordinator.
type CoordinatorOption func(*RefreshCoordinator)

// WithRenewTimeout bounds the renewal network call. The bound is applied to
// the shared call itself, independent of any caller's context.
func WithRenewTimeout(d time.Duration) CoordinatorOption {
	return func(c *RefreshCoordinator) { c.timeout = d }
}

// WithCoordinatorLogger sets the logger for renewal cycles.
func WithCoordinatorLogger(l *slog.Logger) CoordinatorOption {
	return func(c *RefreshCoordinator) { c.logger = l }
}

// WithCoordinatorObserver receives renewal start and finish events.
func WithCoordinatorObserver(o Observer) CoordinatorOption {
	return func(c *RefreshCoordinator) { c.observer = o }
}

// NewRefreshCoordinator renews credentials held in store through renewer.
func NewRefreshCoordinator(store *CredentialStore, renewer Renewer, opts ...CoordinatorOption) *RefreshCoordinator {
	c := &RefreshCoordinator{
		store:    store,
		renewer:  renewer,
		logger:   slog.Default(),
		observer: NopObserver{},
		timeout:  DefaultRenewTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State reports whether a renewal is in flight.
func (c *RefreshCoordinator) State() State { return State(c.state.Load()) }

// Renewals counts renewal network calls made so far.
func (c *RefreshCoordinator) Renewals() uint64 { return c.renewals.Load() }

// Renew returns a fresh access credential, joining the in-flight renewal if
// there is one. If ctx ends first the caller stops waiting with ctx.Err();
// the renewal itself carries on for everyone else.
func (c *RefreshCoordinator) Renew(ctx context.Context) (string, error) {
	return c.join(ctx, "")
}

// RenewAfter is Renew for a caller whose request was refused while carrying
// failed. If the stored credential has already moved on, it is returned
// without a network call; if the cycle that failed credential triggered has
// already failed, that error is returned.
func (c *RefreshCoordinator) RenewAfter(ctx context.Context, failed string) (string, error) {
	if access, ok := c.settled(failed); ok {
		return access, nil
	}
	if err := c.failedFor(failed); err != nil {
		return "", err
	}
	return c.join(ctx, failed)
}

// settled reports a current access credential that differs from failed.
func (c *RefreshCoordinator) settled(failed string) (string, bool) {
	if failed == "" {
		return "", false
	}
	access, ok := c.store.Access()
	if !ok || access == failed {
		return "", false
	}
	return access, true
}

// failedFor returns the error of the last cycle if it was started for the
// same credential and nothing has been written since.
func (c *RefreshCoordinator) failedFor(failed string) error {
	last := c.last.Load()
	if last == nil || failed == "" || last.access != failed {
		return nil
	}
	if last.epoch != c.store.currentEpoch() {
		return nil
	}
	return last.err
}

func (c *RefreshCoordinator) join(ctx context.Context, failed string) (string, error) {
	ch := c.group.DoChan(renewKey, func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()

		access, err := c.renew(rctx, failed)
		return access, err
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// renew is one cycle. It runs inside the flight, so the credential write
// (or clear) completes before any waiter is released.
func (c *RefreshCoordinator) renew(ctx context.Context, failed string) (_ string, err error) {
	c.state.Store(int32(StateRenewing))
	defer c.state.Store(int32(StateIdle))

	// Re-check inside the flight: a cycle may have settled between the
	// caller's fast-path check and its joining.
	if access, ok := c.settled(failed); ok {
		return access, nil
	}
	if err := c.failedFor(failed); err != nil {
		return "", err
	}

	cycle := idx.New().Short()
	log := c.logger.With(slog.String("renewal_id", cycle))
	start := time.Now()

	c.observer.RenewalStarted()
	defer func() {
		c.observer.RenewalFinished(ClassifyRenewal(err), time.Since(start))
	}()

	epoch := c.store.currentEpoch()
	held, _ := c.store.Access()

	renewal, err := c.store.Renewal(ctx)
	if err != nil {
		if !errors.Is(err, ErrNoRenewalCredential) {
			err = fmt.Errorf("%w: %w", ErrNoRenewalCredential, err)
		}
		log.Info("renewal skipped", slog.Any("err", err))
		switch {
		case held == "":
		case errors.Is(err, ErrStorageUnavailable):
			// The persisted value may still be valid once the store is
			// readable again. Only the rejected access credential goes.
			if c.store.dropAccessAt(epoch) {
				c.last.Store(&failedCycle{access: held, epoch: epoch, err: err})
			}
		default:
			c.fail(ctx, epoch, held, err)
		}
		return "", err
	}

	c.renewals.Add(1)
	log.Debug("renewing credentials", fingerprint(renewal))

	tokens, err := c.renewer.Refresh(ctx, renewal)
	if err != nil {
		log.Warn("renewal failed", slog.Any("err", err))
		c.fail(ctx, epoch, held, err)
		return "", err
	}

	err = c.store.setCredentialsAt(ctx, epoch, tokens.AccessToken, tokens.RefreshToken)
	switch {
	case errors.Is(err, errCredentialsChanged):
		// A login or logout landed while we were on the network. Its
		// credentials win; ours were issued against a stale session.
		if access, ok := c.store.Access(); ok {
			log.Info("renewal superseded by newer credentials")
			return access, nil
		}
		return "", ErrNoRenewalCredential
	case err != nil:
		// The old renewal credential is spent server-side and the new one
		// could not be kept: the session cannot survive.
		log.Error("failed to persist renewed credentials", slog.Any("err", err))
		c.fail(ctx, epoch, held, err)
		return "", err
	}

	log.Info("credentials renewed", fingerprint(tokens.RefreshToken))
	return tokens.AccessToken, nil
}

// fail clears credentials (unless a newer write superseded this cycle) and
// records the failure for late callers holding the same credential.
func (c *RefreshCoordinator) fail(ctx context.Context, epoch uint64, held string, err error) {
	if !c.store.clearAt(ctx, epoch) {
		return
	}
	c.last.Store(&failedCycle{access: held, epoch: c.store.currentEpoch(), err: err})
}
