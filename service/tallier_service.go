package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vocdoni/anonvote-node/ledger"
	"github.com/vocdoni/anonvote-node/log"
	"github.com/vocdoni/anonvote-node/tally"
)

// DefaultTallyInterval is how often the tallier looks for new ballots when
// no interval is configured.
const DefaultTallyInterval = 30 * time.Second

// TallierService drives a tally engine in the background: on every tick it
// processes batches until no ballot is left and, if auto finalization is
// enabled, finalizes the tally once the voting window of the poll is over.
type TallierService struct {
	Engine       *tally.Engine
	ledger       ledger.Tally
	interval     time.Duration
	autoFinalize bool
	now          func() time.Time

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	done    chan struct{}
	stopped chan struct{}
}

// NewTallier creates a tallier service for engine. The ledger must be the one
// the engine was built with.
func NewTallier(engine *tally.Engine, l ledger.Tally, interval time.Duration, autoFinalize bool) *TallierService {
	if interval <= 0 {
		interval = DefaultTallyInterval
	}
	return &TallierService{
		Engine:       engine,
		ledger:       l,
		interval:     interval,
		autoFinalize: autoFinalize,
		now:          time.Now,
	}
}

// Start opens the tally if needed and begins the processing loop. It returns
// an error if the service is already running or the tally cannot be opened.
func (ts *TallierService) Start(ctx context.Context) error {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.cancel != nil {
		return fmt.Errorf("service already running")
	}
	status, err := ts.Engine.Status(ctx)
	if err != nil {
		return fmt.Errorf("could not read tally status: %w", err)
	}
	switch status.State {
	case tally.Finalized.String():
		log.Infow("tally already finalized", "poll", status.PollID, "results", status.Results)
		ts.done = make(chan struct{})
		close(ts.done)
		ts.stopped = make(chan struct{})
		return nil
	case tally.Uninitialized.String():
		if _, err := ts.Engine.StartTally(ctx); err != nil {
			return fmt.Errorf("could not start tally: %w", err)
		}
	default:
		log.Infow("resuming tally", "poll", status.PollID, "session", status.Session,
			"processed", status.ProcessedCount, "remaining", status.Remaining)
	}

	ctx, cancel := context.WithCancel(ctx)
	ts.cancel = cancel
	ts.done = make(chan struct{})
	ts.stopped = make(chan struct{})
	ts.wg.Add(1)
	go ts.loop(ctx, ts.done)
	log.Infow("tallier service started", "poll", ts.Engine.PollID(), "interval", ts.interval.String(),
		"autoFinalize", ts.autoFinalize)
	return nil
}

// Stop halts the processing loop, waits for the current step to return and
// closes the Stopped channel.
func (ts *TallierService) Stop() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.stopped != nil {
		select {
		case <-ts.stopped:
		default:
			close(ts.stopped)
		}
	}
	if ts.cancel == nil {
		return
	}
	ts.cancel()
	ts.wg.Wait()
	ts.cancel = nil
	log.Infow("tallier service stopped", "poll", ts.Engine.PollID())
}

// Done is closed once the tally is finalized. It is nil before Start and is
// not closed by Stop: wait on Stopped as well to learn that the loop ended
// without a result.
func (ts *TallierService) Done() <-chan struct{} {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.done
}

// Stopped is closed by Stop. It is nil before Start.
func (ts *TallierService) Stopped() <-chan struct{} {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.stopped
}

func (ts *TallierService) loop(ctx context.Context, done chan struct{}) {
	defer ts.wg.Done()
	ticker := time.NewTicker(ts.interval)
	defer ticker.Stop()
	for {
		if ts.tick(ctx) {
			close(done)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// tick processes every available batch and finalizes when due. It reports
// whether the tally has been finalized.
func (ts *TallierService) tick(ctx context.Context) bool {
	for ctx.Err() == nil {
		res, err := ts.Engine.ProcessNextBatch(ctx)
		if errors.Is(err, tally.ErrNothingToDo) {
			break
		}
		if err != nil {
			if errors.Is(err, tally.ErrBusy) {
				return false
			}
			step, _ := tally.FailedStep(err)
			log.Warnw("batch processing failed", "poll", ts.Engine.PollID(), "step", step, "error", err.Error())
			return false
		}
		log.Infow("batch processed", "poll", ts.Engine.PollID(), "first", res.FirstSequenceID,
			"last", res.LastSequenceID, "admitted", res.Admitted, "excluded", res.Excluded,
			"resubmitted", res.Resubmitted)
	}
	if !ts.autoFinalize || ctx.Err() != nil {
		return false
	}
	poll, err := ts.ledger.Poll(ctx, ts.Engine.PollID())
	if err != nil {
		log.Warnw("could not read poll", "poll", ts.Engine.PollID(), "error", err.Error())
		return false
	}
	if ts.now().Before(poll.VotingEnd) {
		return false
	}
	fin, err := ts.Engine.Finalize(ctx)
	if err != nil {
		if errors.Is(err, tally.ErrPendingBallots) {
			// ballots cast right before the end; the next tick picks them up
			return false
		}
		log.Warnw("finalization failed", "poll", ts.Engine.PollID(), "error", err.Error())
		return false
	}
	log.Infow("tally finalized", "poll", fin.PollID, "results", fin.Counts)
	return true
}
