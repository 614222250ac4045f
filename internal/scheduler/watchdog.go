// -----------------------------------------------------------------------
// Watchdog - Periodic sweep for jobs whose clients went silent
// -----------------------------------------------------------------------

package scheduler

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/onero/internal/common"
)

// Watchdog runs the stuck-job sweep on a cron schedule. The scheduler's own
// tick enforces ordinary deadlines; the watchdog catches the cases where a
// stop command never gets an answer.
type Watchdog struct {
	cron      *cron.Cron
	scheduler *Scheduler
	config    *common.Config
	logger    arbor.ILogger
}

// NewWatchdog creates the watchdog with the schedule from configuration.
func NewWatchdog(scheduler *Scheduler, config *common.Config, logger arbor.ILogger) (*Watchdog, error) {
	w := &Watchdog{
		cron:      cron.New(cron.WithSeconds()),
		scheduler: scheduler,
		config:    config,
		logger:    logger,
	}

	if _, err := w.cron.AddFunc(config.Watchdog.Schedule, w.sweep); err != nil {
		return nil, fmt.Errorf("invalid watchdog schedule %q: %w", config.Watchdog.Schedule, err)
	}
	return w, nil
}

// Start begins the sweep schedule.
func (w *Watchdog) Start() {
	w.cron.Start()
	w.logger.Info().Str("schedule", w.config.Watchdog.Schedule).Msg("Watchdog started")
}

// Stop halts the schedule and waits for an in-flight sweep to finish.
func (w *Watchdog) Stop() {
	ctx := w.cron.Stop()
	<-ctx.Done()
	w.logger.Info().Msg("Watchdog stopped")
}

func (w *Watchdog) sweep() {
	reaped := w.scheduler.ReapStuck(context.Background(), w.config.Watchdog.StuckGraceDuration())
	if reaped > 0 {
		w.logger.Warn().Int("reaped", reaped).Msg("Watchdog closed stuck jobs")
	}
}
