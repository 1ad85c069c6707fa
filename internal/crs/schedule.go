package crs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule runs RecalculateAll on a cron spec ("@daily", "0 2 * * *").
// Overlapping runs are skipped. The caller starts and stops the returned
// cron.
func (s *Service) Schedule(spec string, workers int, timeout time.Duration) (*cron.Cron, error) {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if _, err := s.RecalculateAll(ctx, workers); err != nil {
			s.logger.ErrorContext(ctx, "scheduled recalculation failed", "err", err)
		}
	})
	if err != nil {
		return nil, invalid("bad recompute schedule %q: %v", spec, err)
	}
	return c, nil
}
