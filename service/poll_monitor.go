package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/choices-project/pollcore/log"
	"github.com/choices-project/pollcore/orchestrator"
	"github.com/choices-project/pollcore/types"
)

// PollMonitor represents a service that watches open polls and closes them
// once their configured end time passes, driving the snapshot, tally and
// publication through the orchestrator.
type PollMonitor struct {
	orchestrator *orchestrator.Orchestrator
	interval     time.Duration
	mu           sync.Mutex
	cancel       context.CancelFunc
}

// NewPollMonitor creates a new PollMonitor service.
func NewPollMonitor(o *orchestrator.Orchestrator, interval time.Duration) *PollMonitor {
	return &PollMonitor{
		orchestrator: o,
		interval:     interval,
	}
}

// Start begins monitoring for expired polls. It returns an error if the
// service is already running.
func (pm *PollMonitor) Start(ctx context.Context) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if pm.cancel != nil {
		return fmt.Errorf("service already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	pm.cancel = cancel

	go pm.monitorPolls(ctx)
	return nil
}

// Stop halts the monitoring service.
func (pm *PollMonitor) Stop() {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if pm.cancel != nil {
		pm.cancel()
		pm.cancel = nil
	}
}

func (pm *PollMonitor) monitorPolls(ctx context.Context) {
	ticker := time.NewTicker(pm.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pm.closeExpiredPolls()
		}
	}
}

// closeExpiredPolls closes every open poll whose end time has passed, and
// re-drives polls stranded in an intermediate state by an interrupted close.
func (pm *PollMonitor) closeExpiredPolls() {
	ids, err := pm.orchestrator.ListPolls()
	if err != nil {
		log.Warnw("failed to list polls", "error", err.Error())
		return
	}
	now := time.Now()
	for _, id := range ids {
		pollID := types.HexBytes(id)
		poll, err := pm.orchestrator.Poll(pollID)
		if err != nil {
			log.Warnw("failed to read poll", "pollId", pollID.String(), "error", err.Error())
			continue
		}
		if poll.Status == types.PollStatusPublished {
			continue
		}
		if poll.Status == types.PollStatusOpen && now.Before(poll.Config.EndTime) {
			continue
		}
		log.Infow("closing expired poll", "pollId", pollID.String(), "endTime", poll.Config.EndTime)
		if _, err := pm.orchestrator.ClosePoll(pollID); err != nil {
			// a concurrent manual close is fine, anything else is not
			if errors.Is(err, orchestrator.ErrPollClosed) {
				continue
			}
			log.Warnw("failed to close expired poll", "pollId", pollID.String(), "error", err.Error())
		}
	}
}
