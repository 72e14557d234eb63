package cmdrunner

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"

	"github.com/anorb/cmdrunner/correlator"
	"github.com/anorb/cmdrunner/slash"
	"github.com/anorb/cmdrunner/store"
)

// channelLocks serializes dispatches per channel.
type channelLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newChannelLocks() *channelLocks {
	return &channelLocks{locks: make(map[string]*sync.Mutex)}
}

// tryLock takes the channel's lock without waiting.
func (l *channelLocks) tryLock(channelID string) (unlock func(), ok bool) {
	l.mu.Lock()
	m, found := l.locks[channelID]
	if !found {
		m = &sync.Mutex{}
		l.locks[channelID] = m
	}
	l.mu.Unlock()

	if !m.TryLock() {
		return nil, false
	}
	return m.Unlock, true
}

// jitter returns a uniformly random duration in [min, max].
func jitter(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int64N(int64(max-min)+1))
}

// pause sleeps for d and reports false if ctx ended first.
func pause(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// candidate is a job picked by the scheduler, copied out of the store.
type candidate struct {
	channelID    string
	job          store.Job
	humanization store.Humanization
	due          time.Time
}

func (c candidate) key() string { return store.LastUsedKey(c.channelID, c.job.Name) }

func (c candidate) kind() string { return string(c.job.CommandType) }

// humanDelay sleeps for the channel's configured human delay.
func (r *Runner) humanDelay(ctx context.Context, h store.Humanization) bool {
	if !h.HumanDelay.Enabled {
		return true
	}
	d := jitter(time.Duration(h.HumanDelay.Min)*time.Second, time.Duration(h.HumanDelay.Max)*time.Second)
	r.log.Debug().Dur("delay", d).Msg("human delay")
	return pause(ctx, d)
}

// execute runs c under its channel lock. It reports false when the lock was
// held and nothing ran.
func (r *Runner) execute(ctx context.Context, c candidate) bool {
	unlock, ok := r.locks.tryLock(c.channelID)
	if !ok {
		r.log.Debug().Str("channel_id", c.channelID).Str("command", c.job.Name).Msg("channel busy, skipping")
		r.metrics.recordDispatch(c.kind(), outcomeSkipped)
		return false
	}
	defer unlock()

	if c.humanization.Typing {
		if err := r.host.Typing(c.channelID); err != nil {
			r.log.Debug().Err(err).Str("channel_id", c.channelID).Msg("typing indicator failed")
		}
		pause(ctx, jitter(r.cfg.TypingMin.Duration, r.cfg.TypingMax.Duration))
	}

	if c.job.CommandType == store.Slash {
		r.runSlash(ctx, c)
	} else {
		r.runPrefix(ctx, c)
	}
	return true
}

func (r *Runner) botLabel(job *store.Job) string {
	name := job.BotName
	if name == "" {
		r.store.View(func(ch *store.Channels, _ *store.RunState) {
			name = ch.BotName(job.BotID)
		})
	}
	return name
}

func (r *Runner) runSlash(ctx context.Context, c candidate) {
	job := &c.job
	log := r.log.With().Str("channel_id", c.channelID).Str("command", job.Display()).Str("bot_id", string(job.BotID)).Logger()

	if !job.BotID.Valid() {
		log.Error().Msg("slash command has no bot id")
		r.metrics.recordDispatch(c.kind(), outcomeError)
		r.audit.send(ctx, record{
			Title:       "Execution Error",
			Description: fmt.Sprintf("**Command**: `%s`\n**Channel**: <#%s>\n**Error**: Bot ID is required for slash commands", job.Display(), c.channelID),
			Color:       colorError,
		})
		return
	}

	w, err := r.pending.Register(correlator.Entry{
		ChannelID: c.channelID,
		Command:   job.Name,
		BotID:     string(job.BotID),
		Args:      job.Args,
	})
	if err != nil {
		log.Error().Err(err).Msg("could not register pending response")
		r.metrics.recordDispatch(c.kind(), outcomeError)
		return
	}

	target := slash.Target{
		ChannelID: c.channelID,
		GuildID:   r.host.GuildID(c.channelID),
		SessionID: r.host.SessionID(),
	}
	res, err := r.dispatcher.Dispatch(ctx, slash.Request{
		Target: target,
		BotID:  string(job.BotID),
		Name:   job.Name,
		Args:   job.Args,
		Scope:  job.SlashType,
		Exec:   job.ExecutionType,
	})
	r.learn(c.channelID, job, res)

	var ee *slash.ExecutionError
	switch {
	case err == nil:
	case errors.Is(err, slash.ErrCommandNotFound):
		r.pending.Cancel(c.channelID)
		r.autoDisable(ctx, c)
		return
	case errors.Is(err, slash.ErrBotNotAvailable):
		r.pending.MarkSoftError(c.channelID, err)
	case errors.As(err, &ee):
		r.pending.Cancel(c.channelID)
		r.metrics.recordDispatch(c.kind(), outcomeError)
		r.audit.send(ctx, record{
			Title: "Execution Error",
			Description: fmt.Sprintf("**Command**: `%s`\n**Channel**: <#%s>\n**Status**: %d\n**Response**: ```%s```",
				job.Display(), c.channelID, ee.Status, truncate(string(ee.Body), 1000)),
			Color: colorError,
		})
		return
	default:
		r.pending.Cancel(c.channelID)
		r.metrics.recordDispatch(c.kind(), outcomeError)
		r.audit.send(ctx, record{
			Title:       "Execution Error",
			Description: fmt.Sprintf("**Command**: `%s`\n**Channel**: <#%s>\n**Error**: %v", job.Display(), c.channelID, err),
			Color:       colorError,
		})
		return
	}

	m, err := w.Wait(ctx, r.cfg.ResponseTimeout.Duration)
	switch {
	case err == nil:
		r.executed(ctx, c, target.GuildID, m.Message, m.Elapsed)
	case errors.Is(err, slash.ErrBotNotAvailable):
		log.Warn().Msg("bot is not available in this server")
		r.metrics.recordDispatch(c.kind(), outcomeBotUnavailable)
		r.audit.send(ctx, record{
			Title: "🔴 Bot Not Available",
			Description: fmt.Sprintf("**Command**: `%s`\n**Channel**: <#%s>\n**Bot ID**: %s\nThe bot is not a member of this server.",
				job.Display(), c.channelID, job.BotID),
			Color: colorWarning,
		})
	case errors.Is(err, correlator.ErrResponseTimeout):
		log.Warn().Dur("timeout", r.cfg.ResponseTimeout.Duration).Msg("no response to slash command")
		r.metrics.recordDispatch(c.kind(), outcomeTimeout)
		r.audit.send(ctx, record{
			Title: "Response Timeout (Slash)",
			Description: fmt.Sprintf("No response for `%s` in <#%s> within %s.",
				job.Display(), c.channelID, r.cfg.ResponseTimeout.Duration),
			Color: colorTimeout,
		})
	default:
		log.Debug().Err(err).Msg("stopped waiting for response")
	}
}

// learn persists the scope and execution path a dispatch discovered.
func (r *Runner) learn(channelID string, job *store.Job, res slash.Result) {
	if (res.Scope == "" || res.Scope == job.SlashType) && (res.Exec == "" || res.Exec == job.ExecutionType) {
		return
	}
	err := r.store.UpdateChannels(func(c *store.Channels) error {
		if !c.Learn(channelID, job.Name, job.BotID, res.Scope, res.Exec) {
			return errNoChange
		}
		return nil
	})
	if err != nil && !errors.Is(err, errNoChange) {
		r.log.Error().Err(err).Msg("failed to persist learned command scope")
	}
}

var errNoChange = errors.New("no change")

func (r *Runner) autoDisable(ctx context.Context, c candidate) {
	job := &c.job
	err := r.store.UpdateChannels(func(ch *store.Channels) error {
		if !ch.DisableSlash(c.channelID, job.MainCommand(), job.BotID) {
			return errNoChange
		}
		return nil
	})
	if err != nil && !errors.Is(err, errNoChange) {
		r.log.Error().Err(err).Msg("failed to persist auto-disable")
	}
	r.metrics.recordDispatch(c.kind(), outcomeNotFound)
	r.metrics.autoDisabled.Inc()
	r.log.Warn().Str("channel_id", c.channelID).Str("command", job.Display()).Str("bot_id", string(job.BotID)).
		Msg("command not found in server or global scope, disabled")
	r.audit.send(ctx, record{
		Title: "🔴 Command Auto-Disabled",
		Description: fmt.Sprintf("**Command**: `%s`\n**Channel**: <#%s>\n**Bot ID**: %s\nThe command was not found in the server or global scope and has been disabled.",
			job.Display(), c.channelID, job.BotID),
		Color: colorWarning,
	})
	r.TriggerReschedule()
}

func (r *Runner) runPrefix(ctx context.Context, c candidate) {
	job := &c.job
	content := job.Prefix + job.Name
	if job.Args != "" {
		content += " " + job.Args
	}

	botID := string(job.BotID)
	anyBot := !job.BotID.Valid()
	w := r.waiters.add(func(m *discordgo.Message) bool {
		if m.ChannelID != c.channelID || m.Author == nil {
			return false
		}
		if anyBot {
			return m.Author.Bot
		}
		return m.Author.ID == botID
	})
	defer w.cancel()

	start := r.now()
	if _, err := r.host.Send(c.channelID, content); err != nil {
		r.metrics.recordDispatch(c.kind(), outcomeError)
		r.audit.send(ctx, record{
			Title:       "Execution Error",
			Description: fmt.Sprintf("**Command**: `%s`\n**Channel**: <#%s>\n**Error**: %v", content, c.channelID, err),
			Color:       colorError,
		})
		return
	}

	m, err := w.wait(ctx, r.cfg.ResponseTimeout.Duration)
	switch {
	case err == nil:
		elapsed := r.now().Sub(start)
		if elapsed < 0 {
			elapsed = 0
		}
		r.executed(ctx, c, r.host.GuildID(c.channelID), m, elapsed)
	case errors.Is(err, correlator.ErrResponseTimeout):
		r.log.Warn().Str("channel_id", c.channelID).Str("command", content).Msg("no bot response")
		r.metrics.recordDispatch(c.kind(), outcomeTimeout)
		r.audit.send(ctx, record{
			Title:       "Response Timeout",
			Description: fmt.Sprintf("No bot response for `%s` in <#%s>.", content, c.channelID),
			Color:       colorTimeout,
		})
	}
}

// executed records a correlated reply.
func (r *Runner) executed(ctx context.Context, c candidate, guildID string, reply *discordgo.Message, elapsed time.Duration) {
	job := &c.job
	r.metrics.recordDispatch(c.kind(), outcomeSuccess)
	r.metrics.recordResponse(elapsed)
	r.log.Info().
		Str("channel_id", c.channelID).
		Str("command", job.Display()).
		Str("bot_id", string(job.BotID)).
		Dur("elapsed", elapsed).
		Msg("command executed")

	var b strings.Builder
	fmt.Fprintf(&b, "**Command**: `%s`\n", job.Display())
	args := job.Args
	if args == "" {
		args = "None"
	}
	fmt.Fprintf(&b, "**Arguments**: `%s`\n", args)
	fmt.Fprintf(&b, "**Channel**: <#%s>\n", c.channelID)
	botID := string(job.BotID)
	if reply != nil && reply.Author != nil {
		botID = reply.Author.ID
	}
	fmt.Fprintf(&b, "**Bot ID**: %s", botID)
	if name := r.botLabel(job); name != "" {
		fmt.Fprintf(&b, "\n**Bot Name**: %s", name)
	}

	r.audit.send(ctx, record{
		Title:       "Command Executed",
		Description: b.String(),
		Color:       colorExecuted,
		Reply:       reply,
		GuildID:     guildID,
		Elapsed:     elapsed,
	})
}

// Observe feeds an incoming message to the pending-response table and the
// prefix waiters.
func (r *Runner) Observe(m *discordgo.Message) {
	if m == nil || m.Author == nil {
		return
	}
	if m.Author.Bot {
		r.pending.Observe(m)
	}
	r.waiters.offer(m)
}
