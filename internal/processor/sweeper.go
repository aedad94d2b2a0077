package processor

import (
	"context"
	"time"

	"github.com/nimasrn/loyalty-engine/pkg/logger"
)

type ExpiredDealSweeper interface {
	SweepExpired(ctx context.Context) (int64, error)
}

// DealSweeper retires lapsed deals on a fixed interval. Readers already
// treat them as expired, so a missed run changes nothing visible.
type DealSweeper struct {
	deals    ExpiredDealSweeper
	interval time.Duration
}

func NewDealSweeper(deals ExpiredDealSweeper, interval time.Duration) *DealSweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &DealSweeper{deals: deals, interval: interval}
}

// Run sweeps once right away and then on every tick until ctx ends.
func (s *DealSweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.sweep(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *DealSweeper) sweep(ctx context.Context) {
	n, err := s.deals.SweepExpired(ctx)
	if err != nil {
		if ctx.Err() == nil {
			logger.Error("deal sweep failed", "error", err)
		}
		return
	}
	if n > 0 {
		logger.Info("deal sweep retired deals", "count", n)
	}
}
