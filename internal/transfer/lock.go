package transfer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

// Locker serializes submissions for the same ticket ahead of the database
// transaction. It narrows the race window; the transactional re-check is
// what guarantees correctness.
type Locker interface {
	Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key, owner string) error
}

var errLockBusy = errors.New("ticket lock busy")

func lockKey(ticketID string) string {
	return "ticket_transfer_lock:" + ticketID
}

// lockTicket waits up to Policy.LockWait for the per-ticket lock. A nil
// Locker disables locking.
func (s *Service) lockTicket(ctx context.Context, ticketID string) (func(), error) {
	if s.Locker == nil {
		return func() {}, nil
	}

	key := lockKey(ticketID)
	owner := uuid.NewString()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 20 * time.Millisecond
	b.MaxInterval = 250 * time.Millisecond
	b.MaxElapsedTime = s.Policy.LockWait
	b.RandomizationFactor = 0.5

	operation := func() error {
		ok, err := s.Locker.Acquire(ctx, key, owner, s.Policy.LockTTL)
		if err != nil {
			return backoff.Permanent(err)
		}
		if !ok {
			return errLockBusy
		}
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		s.Logger.Warn("LOCK", fmt.Sprintf("Could not lock ticket %s: %v", ticketID, err))
		return nil, fmt.Errorf("%w: ticket %s is busy: %v", ErrTransient, ticketID, err)
	}

	return func() {
		// Release on a fresh context so a cancelled request still frees the lock.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.Locker.Release(releaseCtx, key, owner); err != nil {
			s.Logger.Warn("LOCK", fmt.Sprintf("Failed to release lock for ticket %s: %v", ticketID, err))
		}
	}, nil
}
