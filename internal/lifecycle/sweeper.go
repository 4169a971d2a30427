package lifecycle

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// ExpiredDeleter deletes all rows whose expiry has passed and reports
// how many were removed.
type ExpiredDeleter interface {
	DeleteExpired(now time.Time) (int64, error)
}

// Sweeper periodically hard-deletes expired messages. This is the
// authoritative deletion; client-side hiding is a UX optimization only.
type Sweeper struct {
	store    ExpiredDeleter
	clock    Clock
	interval time.Duration
	log      *logrus.Entry
}

func NewSweeper(store ExpiredDeleter, clock Clock, interval time.Duration, log *logrus.Entry) *Sweeper {
	return &Sweeper{
		store:    store,
		clock:    clock,
		interval: interval,
		log:      log,
	}
}

// Run sweeps until ctx is canceled. Sweep failures are logged and the
// loop keeps going; a transient database error must not stop expiry
// enforcement.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Sweep performs one deletion pass.
func (s *Sweeper) Sweep() {
	n, err := s.store.DeleteExpired(s.clock.Now().UTC())
	if err != nil {
		s.log.WithError(err).Error("expiry sweep failed")
		return
	}
	if n > 0 {
		s.log.WithField("deleted", n).Debug("swept expired messages")
	}
}
