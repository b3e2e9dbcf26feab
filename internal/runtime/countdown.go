package runtime

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"quiz-live-service/internal/domain"
)

// CountdownController drives the pre-start waiting period and performs the
// one-way Waiting→Live handoff exactly once: either the local countdown
// reaches zero or a start push short-circuits it. Once live, further start
// signals are no-ops.
type CountdownController struct {
	machine *Machine
	clock   clockwork.Clock

	mu        sync.Mutex
	started   bool
	remaining int
	initial   domain.LiveTimer
	cancel    context.CancelFunc
}

func NewCountdownController(machine *Machine, clock clockwork.Clock) *CountdownController {
	return &CountdownController{machine: machine, clock: clock}
}

// Begin applies a load result. EntryWait starts the 1-second-granularity local
// countdown; EntryAwaitPush holds in Waiting with no countdown because the
// local clock is not trusted; start-now and resume entries go live immediately.
func (c *CountdownController) Begin(result LoadResult) {
	switch result.Entry {
	case EntryStartNow, EntryResume:
		c.mu.Lock()
		c.initial = result.InitialTimer
		c.mu.Unlock()
		c.trigger(StartCauseImmediate)
	case EntryAwaitPush:
		c.mu.Lock()
		c.initial = c.defaultInitial(result)
		c.mu.Unlock()
		c.machine.BeginWaiting()
	case EntryWait:
		c.mu.Lock()
		c.initial = c.defaultInitial(result)
		c.remaining = int(result.Wait / time.Second)
		c.mu.Unlock()
		c.machine.BeginWaiting()
		c.startCountdown()
	case EntryEnded:
		// Nothing to drive; the caller reports the terminal state.
	}
}

// OnStartPush handles a pushed start notification (another party reached zero
// first, or a host force-start).
func (c *CountdownController) OnStartPush() {
	c.trigger(StartCausePush)
}

// Remaining returns the countdown display value in whole seconds.
func (c *CountdownController) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining
}

// Stop cancels the countdown on teardown without transitioning.
func (c *CountdownController) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
}

func (c *CountdownController) startCountdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	ticker := c.clock.NewTicker(time.Second)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				c.mu.Lock()
				if c.started {
					c.mu.Unlock()
					return
				}
				c.remaining--
				done := c.remaining <= 0
				c.mu.Unlock()
				if done {
					// Local zero: go live and broadcast force start so
					// every other party converges.
					c.trigger(StartCauseCountdown)
					return
				}
			}
		}
	}()
}

func (c *CountdownController) trigger(cause StartCause) {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.remaining = 0
	c.stopLocked()
	initial := c.initial
	c.mu.Unlock()

	log.Info().Str("session_code", c.machine.Snapshot().Code).Int("cause", int(cause)).Msg("entering live phase")
	c.machine.GoLive(initial, cause)
}

func (c *CountdownController) stopLocked() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

func (c *CountdownController) defaultInitial(result LoadResult) domain.LiveTimer {
	if len(result.Questions) == 0 {
		return domain.LiveTimer{}
	}
	first := result.Questions[0]
	return domain.LiveTimer{QuestionID: first.ID, Remaining: first.TimerSeconds, Total: first.TimerSeconds}
}
