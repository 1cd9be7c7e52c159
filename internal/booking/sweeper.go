package booking

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	redisclient "github.com/hackgods/slot-booking-engine/internal/redis"
)

// Locker serialises sweeper passes across processes.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

type Sweeper struct {
	svc        *Service
	interval   time.Duration
	runTimeout time.Duration
	locker     Locker
	log        *zap.Logger
}

// NewSweeper builds the background expiry sweeper. With a nil locker every
// instance sweeps.
func NewSweeper(svc *Service, interval time.Duration, locker Locker, log *zap.Logger) *Sweeper {
	if log == nil {
		log = zap.NewNop()
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Sweeper{
		svc:        svc,
		interval:   interval,
		runTimeout: 20 * time.Second,
		locker:     locker,
		log:        log,
	}
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (sw *Sweeper) Run(ctx context.Context) {
	sw.log.Info("expiry sweeper started", zap.Duration("interval", sw.interval))

	sw.RunOnce(ctx)

	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			sw.log.Info("expiry sweeper stopping")
			return
		case <-ticker.C:
			sw.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single pass and returns how many holds it released.
func (sw *Sweeper) RunOnce(ctx context.Context) int {
	runCtx, cancel := context.WithTimeout(ctx, sw.runTimeout)
	defer cancel()

	start := time.Now()
	var released int
	sweep := func(ctx context.Context) error {
		n, err := sw.svc.SweepExpiredHolds(ctx)
		released = n
		return err
	}

	var err error
	if sw.locker != nil {
		err = sw.locker.WithLock(runCtx, redisclient.SweeperLockKey, sweep)
	} else {
		err = sweep(runCtx)
	}

	switch {
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		sw.log.Debug("another instance holds the sweeper lock, skipping pass")
	case err != nil:
		sw.log.Error("expiry sweep failed", zap.Error(err), zap.Int("released", released))
	default:
		sw.log.Info("expiry sweep complete",
			zap.Int("released", released),
			zap.Duration("took", time.Since(start)),
		)
	}
	return released
}
