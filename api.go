package cmdrunner

import (
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/anorb/cmdrunner/store"
	"github.com/anorb/cmdrunner/timer"
)

func invalidf(format string, args ...interface{}) error {
	return errors.WithHint(errors.Wrapf(store.ErrInvalidConfiguration, format, args...), "see `ccr help`")
}

func cloneJob(j *store.Job) store.Job {
	cp := *j
	if j.Timer != nil {
		t := *j.Timer
		t.Days = append([]string(nil), j.Timer.Days...)
		cp.Timer = &t
	}
	return cp
}

// editJob applies fn to a copy of the job and stores it only when the
// result validates. It returns the job before and after the edit.
func (r *Runner) editJob(channelID string, index int, fn func(j *store.Job, st *store.RunState) error) (before, after store.Job, err error) {
	err = r.store.Update(func(c *store.Channels, st *store.RunState) error {
		j, err := c.Job(channelID, index)
		if err != nil {
			return err
		}
		before = cloneJob(j)
		cp := cloneJob(j)
		if err := fn(&cp, st); err != nil {
			return err
		}
		if err := cp.Validate(); err != nil {
			return err
		}
		*j = cp
		after = cloneJob(j)
		return nil
	})
	if err != nil {
		return before, after, err
	}
	r.TriggerReschedule()
	return before, after, nil
}

// AddJob validates j and appends it to channelID, creating the channel
// with default humanization when needed.
func (r *Runner) AddJob(channelID string, j *store.Job) error {
	if !store.Snowflake(channelID).Valid() {
		return invalidf("channel id %q is not numeric", channelID)
	}
	if j.CommandType == store.Prefix && j.Prefix == "" {
		j.Prefix = store.DefaultPrefix
	}
	if err := j.Validate(); err != nil {
		return err
	}
	err := r.store.Update(func(c *store.Channels, st *store.RunState) error {
		cc, ok := c.Channels[channelID]
		if !ok {
			cc = &store.ChannelConfig{Humanization: store.DefaultHumanization()}
		}
		for _, existing := range cc.Commands {
			if existing.Name == j.Name && existing.CommandType == j.CommandType {
				return invalidf("command `%s` already exists in this channel", j.Display())
			}
		}
		if j.BotName == "" && st.ReuseBotNames {
			j.BotName = c.BotName(j.BotID)
		}
		cc.Commands = append(cc.Commands, j)
		c.Channels[channelID] = cc
		return nil
	})
	if err != nil {
		return err
	}
	r.log.Info().Str("channel_id", channelID).Str("command", j.Display()).Msg("command added")
	r.TriggerReschedule()
	return nil
}

// RemoveJob deletes the job at index and forgets when it last ran.
func (r *Runner) RemoveJob(channelID string, index int) (store.Job, error) {
	var removed store.Job
	err := r.store.Update(func(c *store.Channels, st *store.RunState) error {
		j, err := c.Job(channelID, index)
		if err != nil {
			return err
		}
		removed = cloneJob(j)
		cc := c.Channels[channelID]
		cc.Commands = append(cc.Commands[:index], cc.Commands[index+1:]...)
		delete(st.LastUsed, store.LastUsedKey(channelID, j.Name))
		return nil
	})
	if err != nil {
		return removed, err
	}
	r.log.Info().Str("channel_id", channelID).Str("command", removed.Display()).Msg("command removed")
	r.TriggerReschedule()
	return removed, nil
}

// RemoveChannel drops a channel and its last_used entries.
func (r *Runner) RemoveChannel(channelID string) error {
	err := r.store.Update(func(c *store.Channels, st *store.RunState) error {
		if _, ok := c.Channels[channelID]; !ok {
			return invalidf("channel %s is not configured", channelID)
		}
		delete(c.Channels, channelID)
		st.ForgetChannel(channelID)
		return nil
	})
	if err != nil {
		return err
	}
	r.TriggerReschedule()
	return nil
}

// SetEnabled turns a job on or off.
func (r *Runner) SetEnabled(channelID string, index int, enabled bool) error {
	_, _, err := r.editJob(channelID, index, func(j *store.Job, _ *store.RunState) error {
		j.Enabled = enabled
		return nil
	})
	return err
}

// ToggleJob flips a job's enabled flag.
func (r *Runner) ToggleJob(channelID string, index int) (store.Job, error) {
	_, after, err := r.editJob(channelID, index, func(j *store.Job, _ *store.RunState) error {
		j.Enabled = !j.Enabled
		return nil
	})
	return after, err
}

// SetCooldown parses display and stores it. When the new cooldown is
// shorter and has already elapsed since the last run, last_used is moved so
// the job is due immediately.
func (r *Runner) SetCooldown(channelID string, index int, display string) (store.Job, error) {
	now := unixSeconds(r.now())
	_, after, err := r.editJob(channelID, index, func(j *store.Job, st *store.RunState) error {
		old := j.Cooldown
		if err := j.SetCooldown(display); err != nil {
			return err
		}
		key := store.LastUsedKey(channelID, j.Name)
		last, ok := st.LastUsed[key]
		if ok && j.Enabled && last > 0 && j.Cooldown < old && now-last >= float64(j.Cooldown) {
			st.LastUsed[key] = now - float64(j.Cooldown)
		}
		return nil
	})
	return after, err
}

// SetArgs replaces a job's argument string.
func (r *Runner) SetArgs(channelID string, index int, args string) (store.Job, error) {
	_, after, err := r.editJob(channelID, index, func(j *store.Job, _ *store.RunState) error {
		j.Args = strings.TrimSpace(args)
		return nil
	})
	return after, err
}

// SetPrefix changes the prefix a prefix job is sent with.
func (r *Runner) SetPrefix(channelID string, index int, prefix string) (store.Job, error) {
	_, after, err := r.editJob(channelID, index, func(j *store.Job, _ *store.RunState) error {
		if j.CommandType != store.Prefix {
			return invalidf("command `%s` is not a prefix command", j.Display())
		}
		if strings.TrimSpace(prefix) == "" {
			return invalidf("prefix must not be empty")
		}
		j.Prefix = prefix
		return nil
	})
	return after, err
}

// SetType switches a job between prefix and slash.
func (r *Runner) SetType(channelID string, index int, typ store.CommandType) (before, after store.Job, err error) {
	return r.editJob(channelID, index, func(j *store.Job, _ *store.RunState) error {
		j.CommandType = typ
		if typ == store.Prefix && j.Prefix == "" {
			j.Prefix = store.DefaultPrefix
		}
		return nil
	})
}

// SetTimer enables a time window on a job. Days are lower-cased; none
// means every day.
func (r *Runner) SetTimer(channelID string, index int, start, end string, days []string) (store.Job, error) {
	lowered := make([]string, 0, len(days))
	for _, d := range days {
		lowered = append(lowered, strings.ToLower(strings.TrimSpace(d)))
	}
	_, after, err := r.editJob(channelID, index, func(j *store.Job, _ *store.RunState) error {
		j.Timer = &timer.Window{Enabled: true, StartTime: start, EndTime: end, Days: lowered}
		return nil
	})
	return after, err
}

// ToggleTimer flips a configured window on or off.
func (r *Runner) ToggleTimer(channelID string, index int) (store.Job, error) {
	_, after, err := r.editJob(channelID, index, func(j *store.Job, _ *store.RunState) error {
		if j.Timer == nil || j.Timer.StartTime == "" || j.Timer.EndTime == "" {
			return invalidf("command `%s` has no timer; set a start and end time first", j.Display())
		}
		j.Timer.Enabled = !j.Timer.Enabled
		return nil
	})
	return after, err
}

// ClearTimer removes a job's window.
func (r *Runner) ClearTimer(channelID string, index int) (store.Job, error) {
	_, after, err := r.editJob(channelID, index, func(j *store.Job, _ *store.RunState) error {
		j.Timer = nil
		return nil
	})
	return after, err
}

func (r *Runner) editChannel(channelID string, fn func(cc *store.ChannelConfig) error) error {
	err := r.store.UpdateChannels(func(c *store.Channels) error {
		cc, ok := c.Channels[channelID]
		if !ok {
			return invalidf("channel %s is not configured", channelID)
		}
		h := cc.Humanization
		if err := fn(cc); err != nil {
			cc.Humanization = h
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}
	r.TriggerReschedule()
	return nil
}

// SetTyping turns the typing indicator on or off for a channel.
func (r *Runner) SetTyping(channelID string, on bool) error {
	return r.editChannel(channelID, func(cc *store.ChannelConfig) error {
		cc.Humanization.Typing = on
		return nil
	})
}

// SetHumanDelay configures the pre-dispatch delay of a channel.
func (r *Runner) SetHumanDelay(channelID string, d store.HumanDelay) error {
	if err := d.Validate(); err != nil {
		return err
	}
	return r.editChannel(channelID, func(cc *store.ChannelConfig) error {
		if !d.Enabled {
			cc.Humanization.HumanDelay.Enabled = false
			return nil
		}
		cc.Humanization.HumanDelay = d
		return nil
	})
}

// SetRunning persists is_running and starts or stops the scheduler.
func (r *Runner) SetRunning(on bool) error {
	err := r.store.UpdateState(func(st *store.RunState) error {
		st.IsRunning = on
		return nil
	})
	if err != nil {
		return err
	}
	if on {
		return r.Start()
	}
	r.Stop()
	return nil
}

// ToggleDebug flips debug_mode and returns the new value.
func (r *Runner) ToggleDebug() (bool, error) {
	var on bool
	err := r.store.UpdateState(func(st *store.RunState) error {
		st.DebugMode = !st.DebugMode
		on = st.DebugMode
		return nil
	})
	if err != nil {
		return false, err
	}
	if r.debug != nil {
		r.debug.Store(on)
	}
	return on, nil
}

// SetWebhook sets the audit webhook. An empty url disables it.
func (r *Runner) SetWebhook(url string) error {
	url = strings.TrimSpace(url)
	if url != "" {
		if _, _, err := parseWebhookURL(url); err != nil {
			return invalidf("%v", err)
		}
	}
	return r.store.UpdateState(func(st *store.RunState) error {
		st.WebhookURL = url
		return nil
	})
}

// SetConsoleLogs turns the console audit lines on or off.
func (r *Runner) SetConsoleLogs(on bool) error {
	return r.store.UpdateState(func(st *store.RunState) error {
		st.ConsoleLogsEnabled = on
		return nil
	})
}
