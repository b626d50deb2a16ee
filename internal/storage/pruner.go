package storage

import (
	"context"
	"time"
)

// PhaseStarter reports the start of every open phase.
type PhaseStarter interface {
	PhaseStarts(ctx context.Context) (map[PhaseKey]time.Time, error)
}

// RunPruner deletes trigger rows older than retention every interval until
// ctx is done. Rows of a phase still open in phases survive until the phase
// ends. phases may be nil. Call from main or app lifecycle.
func RunPruner(ctx context.Context, log *TriggerLog, phases PhaseStarter, interval, retention time.Duration) {
	if interval <= 0 || retention <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			var keep map[PhaseKey]time.Time
			if phases != nil {
				var err error
				if keep, err = phases.PhaseStarts(ctx); err != nil {
					log.logger.Error().Err(err).Msg("load phase starts, skipping prune")
					continue
				}
			}
			n, err := log.Prune(ctx, now.Add(-retention), keep)
			if err != nil {
				if ctx.Err() == nil {
					log.logger.Error().Err(err).Msg("trigger log prune failed")
				}
				continue
			}
			if n > 0 {
				log.logger.Debug().Int64("rows", n).Msg("trigger log pruned")
			}
		}
	}
}
