package client

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"quiz-live-service/internal/domain"
	"quiz-live-service/internal/protocol"
	"quiz-live-service/internal/runtime"
)

// RunnerOptions configures a session runner.
type RunnerOptions struct {
	ServerURL   string // websocket endpoint, e.g. ws://host:port/ws
	SessionCode string
	Host        bool
	Kind        runtime.SessionKind
	Loader      runtime.LoaderConfig
	Backoff     Backoff
	Leaderboard runtime.LeaderboardSource // required for hosts with per-question reveal
	Resume      *ResumeStore              // optional
	OnWarning   func(message string)      // optional sink for transient advancement warnings
}

// Runner drives one client's view of a session: it loads the snapshot, owns
// the state machine and countdown, keeps the channel alive, and on the host
// side runs the advancement engine. Participants never run a decrementing
// timer; they only apply pushed values.
type Runner struct {
	opts    RunnerOptions
	query   runtime.SessionQuery
	clock   clockwork.Clock
	machine *runtime.Machine
	loader  *runtime.SnapshotLoader

	countdown *runtime.CountdownController
	engine    *runtime.Engine
	channel   *Channel
}

func NewRunner(opts RunnerOptions, query runtime.SessionQuery, clock clockwork.Clock) *Runner {
	return &Runner{
		opts:   opts,
		query:  query,
		clock:  clock,
		loader: runtime.NewSnapshotLoader(query, opts.Kind, opts.Loader, clock),
	}
}

// Machine exposes the state machine for observation once Start has returned.
func (r *Runner) Machine() *runtime.Machine { return r.machine }

// Channel exposes the live channel for command issuance.
func (r *Runner) Channel() *Channel { return r.channel }

// Start loads the session snapshot, builds the machine, connects the channel,
// and begins the waiting/live flow. It returns once the runner is operating;
// cancellation of ctx tears everything down.
func (r *Runner) Start(ctx context.Context) error {
	result, err := r.loader.Load(ctx, r.opts.SessionCode)
	if err != nil {
		return fmt.Errorf("session snapshot: %w", err)
	}
	if result.Entry == runtime.EntryEnded {
		return domain.ErrSessionEnded
	}

	settings := domain.LeaderboardSettings{DisplayDurationSeconds: domain.MinLeaderboardDisplaySeconds}
	if result.Session.ShowLeaderboardAfterQuestion {
		settings.SetShowAfterEachQuestion(true)
	}
	if result.Session.ShowLeaderboardAtEndOnly {
		settings.SetShowAtEndOnly(true)
	}
	r.machine = runtime.NewMachine(r.opts.SessionCode, result.Questions, settings, r.clock)
	r.countdown = runtime.NewCountdownController(r.machine, r.clock)

	r.channel = NewChannel(r.opts.ServerURL, r.opts.SessionCode, r.opts.Host, r.handlers(), r.opts.Backoff, r.clock)
	r.machine.SetBroadcaster(r.channel)

	if r.opts.Host {
		r.engine = runtime.NewEngine(r.machine, r.opts.Leaderboard, r.channel, r.clock)
		go r.engine.Run(ctx)
		go r.drainWarnings(ctx)
	}

	go r.channel.Run(ctx)
	go func() {
		<-ctx.Done()
		r.countdown.Stop()
		r.machine.Close()
	}()

	if r.opts.Resume != nil {
		state := ResumeState{
			SessionID:   result.Session.ID,
			SessionCode: result.Session.Code,
		}
		if err := r.opts.Resume.Save(state); err != nil {
			log.Debug().Err(err).Msg("resume state not saved")
		}
	}

	r.countdown.Begin(result)
	return nil
}

// drainWarnings forwards engine warnings to the configured sink; without one
// they are logged and dropped.
func (r *Runner) drainWarnings(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-r.engine.Warnings():
			if r.opts.OnWarning != nil {
				r.opts.OnWarning(msg)
			} else {
				log.Warn().Str("session_code", r.opts.SessionCode).Msg(msg)
			}
		}
	}
}

// handlers maps inbound channel events onto machine transitions. All the
// consistency guards (stale progress rejection, idempotent timer application,
// one-way start) live in the machine; this is pure plumbing.
func (r *Runner) handlers() Handlers {
	return Handlers{
		OnConnected: func() {
			// On (re)connect the groups are already re-joined; a host that
			// was the authority confirms nobody claimed pacing meanwhile.
			if r.opts.Host {
				if err := r.channel.CheckHostPresence(); err != nil {
					log.Debug().Err(err).Msg("host presence check failed")
				}
			}
		},
		OnDisconnected: func() {
			log.Warn().Str("session_code", r.opts.SessionCode).Msg("channel down, retrying")
		},
		OnHostPresence: func(p protocol.HostPresencePayload) {
			if r.opts.Host {
				// No senior host present → claim pacing; otherwise stay passive.
				r.machine.SetAuthority(!p.HostPresent)
			}
			// Pacing tracks registered host presence. A claiming host
			// already flipped to manual via SetAuthority.
			if p.HostPresent {
				r.machine.SetPacing(domain.PacingManual)
			} else if !r.opts.Host {
				r.machine.SetPacing(domain.PacingAuto)
			}
		},
		OnHostDeparted: func() {
			if !r.opts.Host {
				return
			}
			// A host dropped; re-check whether anyone still outranks us.
			if err := r.channel.CheckHostPresence(); err != nil {
				log.Debug().Err(err).Msg("host presence re-check failed")
			}
		},
		OnQuizStarted: func(protocol.StartPayload) {
			r.countdown.OnStartPush()
		},
		OnStateSync: func(p protocol.StateSyncPayload) {
			if p.Ended {
				r.machine.End()
				return
			}
			var settings domain.LeaderboardSettings
			settings.SetShowAfterEachQuestion(p.ShowAfterEachQuestion)
			settings.SetShowAtEndOnly(p.ShowAtEndOnly)
			settings.DisplayDurationSeconds = r.machine.Snapshot().Settings.DisplayDurationSeconds
			r.machine.ApplySettings(settings)
			if p.HostPresent && !r.opts.Host {
				r.machine.SetPacing(domain.PacingManual)
			}
			if p.QuestionID != "" {
				r.countdown.OnStartPush()
				r.machine.ApplyTimer(domain.LiveTimer{QuestionID: p.QuestionID, Remaining: p.Remaining, Total: p.Total})
			}
		},
		OnTimer: func(p protocol.TimerPayload) {
			r.machine.ApplyTimer(domain.LiveTimer{QuestionID: p.QuestionID, Remaining: p.Remaining, Total: p.Total})
		},
		OnNavigate: func(p protocol.NavigatePayload) {
			if err := r.machine.ApplyNavigation(p.QuestionID); err != nil {
				log.Warn().Err(err).Str("question_id", p.QuestionID).Msg("pushed navigation rejected")
			}
		},
		OnProgress: func(p protocol.ProgressPayload) {
			r.machine.ApplyProgress(p.QuestionID, p.Submitted, p.Total)
		},
		OnEnded: func() {
			r.machine.End()
			if r.opts.Resume != nil {
				_ = r.opts.Resume.Clear()
			}
		},
		OnReveal: func(protocol.RevealPayload) {
			r.machine.SetLeaderboardVisible(true)
		},
		OnHide: func() {
			r.machine.SetLeaderboardVisible(false)
		},
		OnError: func(p protocol.ErrorPayload) {
			log.Warn().Str("message", p.Message).Msg("server reported error")
		},
	}
}
