package cmdrunner

import (
	"context"
	"fmt"
	"io"
	"math"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/anorb/cmdrunner/correlator"
	"github.com/anorb/cmdrunner/slash"
	"github.com/anorb/cmdrunner/store"
)

// Options are the dependencies of a Runner.
type Options struct {
	Config Config
	Host   Host
	Store  *store.Store
	Log    zerolog.Logger
	// Poster delivers raw interactions. Defaults to an HTTPPoster on
	// Config.APIBase.
	Poster slash.Poster
	// Webhook executes audit webhooks. Nil disables webhook posting.
	Webhook webhookExecutor
	// Console receives audit lines when console logs are enabled.
	Console io.Writer
	// Registerer receives the runner's metrics. Defaults to a private
	// registry.
	Registerer prometheus.Registerer
	// Debug mirrors the persisted debug_mode for the log gate.
	Debug *atomic.Bool
}

// Runner is the command scheduler. It is constructed once and shared by the
// chat handler and the CLI.
type Runner struct {
	cfg        Config
	host       Host
	store      *store.Store
	log        zerolog.Logger
	audit      *auditor
	metrics    *metrics
	pending    *correlator.Table
	waiters    *messageWaiters
	dispatcher *slash.Dispatcher
	locks      *channelLocks
	debug      *atomic.Bool
	now        func() time.Time

	reschedule chan struct{}

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	cron    *cron.Cron
}

// NewRunner wires a stopped Runner.
func NewRunner(o Options) (*Runner, error) {
	if o.Host == nil || o.Store == nil {
		return nil, errors.New("runner needs a host and a store")
	}
	if _, err := cron.ParseStandard(o.Config.CleanupSchedule); err != nil {
		return nil, errors.Wrapf(err, "cleanup schedule %q", o.Config.CleanupSchedule)
	}
	log := o.Log.With().Str("component", "runner").Logger()

	r := &Runner{
		cfg:        o.Config,
		host:       o.Host,
		store:      o.Store,
		log:        log,
		waiters:    newMessageWaiters(),
		locks:      newChannelLocks(),
		debug:      o.Debug,
		now:        time.Now,
		reschedule: make(chan struct{}, 1),
	}
	r.pending = correlator.New(
		o.Log.With().Str("component", "correlator").Logger(),
		correlator.InteractionMatcher(o.Host.SelfID),
		correlator.CooldownReplyMatcher(),
	)

	poster := o.Poster
	if poster == nil {
		poster = slash.NewHTTPPoster(o.Config.APIBase, o.Config.Token)
	}
	slashLog := o.Log.With().Str("component", "slash").Logger()
	r.dispatcher = &slash.Dispatcher{
		Resolver: &slash.Resolver{Catalog: o.Host, Log: slashLog},
		Invoker:  o.Host,
		Poster:   poster,
		Log:      slashLog,
	}

	reg := o.Registerer
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	r.metrics = newMetrics(reg, r.pending.Len)
	r.audit = newAuditor(o.Webhook, o.Store, o.Log, o.Console)

	if r.debug != nil {
		o.Store.View(func(_ *store.Channels, st *store.RunState) {
			r.debug.Store(st.DebugMode)
		})
	}
	return r, nil
}

// Running reports whether the scheduler loop is active.
func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Start launches the scheduler loop and the cleanup job. Starting a running
// Runner does nothing.
func (r *Runner) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(r.cfg.CleanupSchedule, r.cleanup); err != nil {
		return errors.Wrap(err, "schedule cleanup")
	}
	c.Start()

	ctx, cancel := context.WithCancel(context.Background())
	r.cron = c
	r.cancel = cancel
	r.done = make(chan struct{})
	r.running = true
	go r.loop(ctx, r.done)

	r.log.Info().Msg("runner started")
	go r.audit.send(context.Background(), record{
		Title:       "Runner Started",
		Description: "The Command Runner has started.",
		Color:       colorStarted,
	})
	return nil
}

// Stop cancels the loop. A dispatch already in flight finishes its attempt.
func (r *Runner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.stopLocked() {
		return
	}
	r.log.Info().Msg("runner stopped")
	go r.audit.send(context.Background(), record{
		Title:       "Runner Stopped",
		Description: "The Command Runner has stopped.",
		Color:       colorError,
	})
}

func (r *Runner) stopLocked() bool {
	if !r.running {
		return false
	}
	r.running = false
	r.cancel()
	r.cron.Stop()
	return true
}

// Close stops the runner and waits for the loop to exit.
func (r *Runner) Close() {
	r.Stop()
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()
	if done != nil {
		<-done
	}
}

// TriggerReschedule wakes the scheduler so it rescans jobs. Signals
// coalesce.
func (r *Runner) TriggerReschedule() {
	select {
	case r.reschedule <- struct{}{}:
	default:
	}
}

func (r *Runner) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	for r.iterate(ctx) {
	}
	r.log.Debug().Msg("scheduler loop exited")
}

// iterate runs one scheduler pass and reports whether the loop continues.
func (r *Runner) iterate(ctx context.Context) (cont bool) {
	if ctx.Err() != nil {
		return false
	}
	defer func() {
		if p := recover(); p != nil {
			r.schedulerError(ctx, errors.Newf("panic: %v", p), debug.Stack())
			cont = pause(ctx, r.cfg.ErrorBackoff.Duration)
		}
	}()

	now := r.now()
	next, found, empty := r.pickNext(now)
	if empty {
		r.log.Info().Msg("no channels configured, stopping runner")
		r.Stop()
		return false
	}
	if !found {
		_, alive := r.sleep(ctx, r.cfg.IdleWait.Duration)
		return alive
	}

	if d := next.due.Sub(now); d > 0 {
		r.log.Debug().Str("channel_id", next.channelID).Str("command", next.job.Display()).Dur("wait", d).Msg("waiting for next job")
		woke, alive := r.sleep(ctx, d)
		if !alive {
			return false
		}
		if woke {
			r.log.Debug().Msg("reschedule signal received")
			return true
		}
	} else {
		select {
		case <-r.reschedule:
			return true
		default:
		}
	}

	if err := r.run(ctx, next); err != nil {
		r.schedulerError(ctx, err, nil)
		return pause(ctx, r.cfg.ErrorBackoff.Duration)
	}
	return pause(ctx, jitter(r.cfg.DispatchPauseMin.Duration, r.cfg.DispatchPauseMax.Duration))
}

// sleep waits for d, a reschedule signal or ctx.
func (r *Runner) sleep(ctx context.Context, d time.Duration) (rescheduled, alive bool) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false, false
	case <-r.reschedule:
		return true, true
	case <-t.C:
		return false, true
	}
}

// run applies the human delay, dispatches c and advances its last_used.
func (r *Runner) run(ctx context.Context, c candidate) error {
	if !r.humanDelay(ctx, c.humanization) {
		return nil
	}
	// The job may have been edited, disabled or removed while we slept.
	var current *store.Job
	r.store.View(func(ch *store.Channels, _ *store.RunState) {
		if j := ch.Find(c.channelID, c.job.Name, c.job.CommandType); j != nil && j.Enabled {
			cp := cloneJob(j)
			current = &cp
		}
	})
	if current == nil {
		r.log.Debug().Str("channel_id", c.channelID).Str("command", c.job.Name).Msg("command disabled or removed before dispatch")
		return nil
	}
	c.job = *current

	if !r.execute(context.WithoutCancel(ctx), c) {
		return nil
	}
	ts := unixSeconds(r.now())
	err := r.store.UpdateStateWith(func(ch *store.Channels, st *store.RunState) error {
		if ch.Find(c.channelID, c.job.Name, c.job.CommandType) == nil {
			return errNoChange
		}
		st.LastUsed[c.key()] = ts
		return nil
	})
	if errors.Is(err, errNoChange) {
		return nil
	}
	return errors.Wrap(err, "record last_used")
}

func (r *Runner) schedulerError(ctx context.Context, err error, stack []byte) {
	r.metrics.schedulerErrors.Inc()
	ev := r.log.Error().Bool("critical", true).Err(err)
	if stack != nil {
		ev = ev.Bytes("stack", stack)
	}
	ev.Msg("scheduler iteration failed")
	r.audit.send(context.WithoutCancel(ctx), record{
		Title:       "Scheduler CRITICAL ERROR",
		Description: fmt.Sprintf("**Error**: %v", err),
		Color:       colorCritical,
	})
}

// pickNext returns the enabled job with the earliest due time. Ties go to
// the lower channel id, then to the earlier job in the channel.
func (r *Runner) pickNext(now time.Time) (best candidate, found, empty bool) {
	r.store.View(func(ch *store.Channels, st *store.RunState) {
		if len(ch.Channels) == 0 {
			empty = true
			return
		}
		for _, id := range ch.SortedIDs() {
			cc := ch.Channels[id]
			for _, j := range cc.Commands {
				if j == nil || !j.Enabled {
					continue
				}
				in, err := j.Timer.Contains(now)
				if err != nil {
					r.log.Warn().Err(err).Str("channel_id", id).Str("command", j.Name).Msg("malformed timer window, treating as open")
				}
				if !in {
					continue
				}
				due := nextDue(st.LastUsed, store.LastUsedKey(id, j.Name), j.Cooldown, now)
				if !found || due.Before(best.due) {
					best = candidate{channelID: id, job: *j, humanization: cc.Humanization, due: due}
					found = true
				}
			}
		}
	})
	return best, found, empty
}

// nextDue is last_used plus cooldown. A job that never ran is due now.
func nextDue(lastUsed map[string]float64, key string, cooldown int, now time.Time) time.Time {
	last, ok := lastUsed[key]
	if !ok {
		return now
	}
	return fromUnixSeconds(last).Add(time.Duration(cooldown) * time.Second)
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

func fromUnixSeconds(s float64) time.Time {
	sec, frac := math.Modf(s)
	return time.Unix(int64(sec), int64(frac*float64(time.Second)))
}

// cleanup sweeps stale pending responses and waiters.
func (r *Runner) cleanup() {
	maxAge := r.cfg.PendingMaxAge.Duration
	stale := r.pending.Sweep(maxAge)
	waiters := r.waiters.prune(maxAge)
	if len(stale) == 0 && waiters == 0 {
		return
	}
	r.log.Debug().Int("pending", len(stale)).Int("waiters", waiters).Msg("swept stale entries")
	r.audit.send(context.Background(), record{
		Title:       "Cleanup",
		Description: fmt.Sprintf("Removed %d stale pending responses and %d waiters.", len(stale), waiters),
		DebugOnly:   true,
	})
}
