// Package store holds the command runner's persisted documents: the channel
// configuration and the run state.
package store

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/anorb/cmdrunner/slash"
	"github.com/anorb/cmdrunner/timer"
)

// ErrInvalidConfiguration is returned for values rejected at the editing
// boundary. The wrapped message is suitable for a chat reply.
var ErrInvalidConfiguration = errors.New("invalid configuration")

func invalid(format string, args ...interface{}) error {
	return errors.WithHint(errors.Wrapf(ErrInvalidConfiguration, format, args...), "see `ccr help`")
}

// CommandType selects how a job is issued.
type CommandType string

const (
	Prefix CommandType = "prefix"
	Slash  CommandType = "slash"
)

// Defaults applied to jobs and channels missing these fields.
const (
	DefaultPrefix        = "!"
	DefaultCooldown      = 600
	DefaultHumanDelayMin = 5
	DefaultHumanDelayMax = 45
)

// Snowflake is a Discord id. It is written as a JSON number and read from
// either a number or a string.
type Snowflake string

var snowflakeRe = regexp.MustCompile(`^[0-9]+$`)

// Valid reports whether s is a non-zero numeric id.
func (s Snowflake) Valid() bool {
	return snowflakeRe.MatchString(string(s)) && strings.Trim(string(s), "0") != ""
}

func (s Snowflake) String() string { return string(s) }

func (s Snowflake) MarshalJSON() ([]byte, error) {
	if s == "" {
		return []byte("null"), nil
	}
	if snowflakeRe.MatchString(string(s)) {
		return []byte(s), nil
	}
	return json.Marshal(string(s))
}

func (s *Snowflake) UnmarshalJSON(b []byte) error {
	raw := strings.TrimSpace(string(b))
	switch {
	case raw == "null":
		*s = ""
	case strings.HasPrefix(raw, `"`):
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		*s = Snowflake(strings.TrimSpace(str))
	default:
		if _, err := strconv.ParseUint(raw, 10, 64); err != nil {
			return errors.Wrapf(err, "bot id %s", raw)
		}
		*s = Snowflake(raw)
	}
	return nil
}

// HumanDelay is the random pause before a dispatch, in seconds.
type HumanDelay struct {
	Enabled bool `json:"enabled"`
	Min     int  `json:"min"`
	Max     int  `json:"max"`
}

// Humanization is per-channel dispatch jitter.
type Humanization struct {
	Typing     bool       `json:"typing"`
	HumanDelay HumanDelay `json:"human_delay"`
}

// DefaultHumanization is applied to new channels.
func DefaultHumanization() Humanization {
	return Humanization{
		Typing:     true,
		HumanDelay: HumanDelay{Enabled: true, Min: DefaultHumanDelayMin, Max: DefaultHumanDelayMax},
	}
}

func (h *Humanization) UnmarshalJSON(b []byte) error {
	type alias Humanization
	a := alias(DefaultHumanization())
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	*h = Humanization(a)
	return nil
}

func (d *HumanDelay) UnmarshalJSON(b []byte) error {
	type alias HumanDelay
	a := alias(DefaultHumanization().HumanDelay)
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	*d = HumanDelay(a)
	return nil
}

// Validate checks the delay bounds.
func (d HumanDelay) Validate() error {
	if d.Min < 0 || d.Max < 0 {
		return invalid("human delay must not be negative")
	}
	if d.Min > d.Max {
		return invalid("human delay min %d is greater than max %d", d.Min, d.Max)
	}
	return nil
}

// Job is one periodically issued command.
type Job struct {
	Name            string         `json:"name"`
	CommandType     CommandType    `json:"command_type"`
	Prefix          string         `json:"prefix,omitempty"`
	Args            string         `json:"args"`
	BotID           Snowflake      `json:"bot_id,omitempty"`
	BotName         string         `json:"bot_name,omitempty"`
	Cooldown        int            `json:"cooldown"`
	CooldownDisplay string         `json:"cooldown_display,omitempty"`
	Enabled         bool           `json:"enabled"`
	Timer           *timer.Window  `json:"timer,omitempty"`
	SlashType       slash.Scope    `json:"slash_type,omitempty"`
	ExecutionType   slash.ExecPath `json:"execution_type,omitempty"`
}

func (j *Job) UnmarshalJSON(b []byte) error {
	type alias Job
	a := alias{
		CommandType: Prefix,
		Prefix:      DefaultPrefix,
		Cooldown:    DefaultCooldown,
		Enabled:     true,
	}
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	*j = Job(a)
	return nil
}

// MainCommand is the first token of the job name.
func (j *Job) MainCommand() string {
	if f := strings.Fields(j.Name); len(f) > 0 {
		return f[0]
	}
	return ""
}

// Display is the job as typed in chat.
func (j *Job) Display() string {
	if j.CommandType == Slash {
		return "/" + j.Name
	}
	return j.Prefix + j.Name
}

// SetCooldown parses display and stores both forms.
func (j *Job) SetCooldown(display string) error {
	secs, err := timer.ParseCooldown(display)
	if err != nil {
		return invalid("cooldown %q: %v", display, err)
	}
	j.Cooldown = secs
	j.CooldownDisplay = strings.TrimSpace(display)
	return nil
}

// Validate rejects jobs the scheduler cannot run.
func (j *Job) Validate() error {
	if strings.TrimSpace(j.Name) == "" {
		return invalid("command name is empty")
	}
	if len(strings.Fields(j.Name)) > 3 {
		return invalid("command %q has more than three parts", j.Name)
	}
	switch j.CommandType {
	case Prefix:
	case Slash:
		if !j.BotID.Valid() {
			return invalid("slash command %q needs a numeric bot id", j.Name)
		}
	default:
		return invalid("command type %q must be prefix or slash", j.CommandType)
	}
	if j.BotID != "" && !snowflakeRe.MatchString(string(j.BotID)) {
		return invalid("bot id %q is not numeric", j.BotID)
	}
	if j.Cooldown < 1 {
		return invalid("cooldown must be at least one second")
	}
	if j.Timer != nil {
		if err := ValidateTimer(j.Timer); err != nil {
			return err
		}
	}
	return nil
}

// ValidateTimer checks clock and weekday values.
func ValidateTimer(w *timer.Window) error {
	for _, c := range []string{w.StartTime, w.EndTime} {
		if c != "" && !timer.ValidClock(c) {
			return invalid("time %q must be HH:MM in 24-hour format", c)
		}
	}
	if (w.StartTime == "") != (w.EndTime == "") {
		return invalid("timer needs both a start and an end time")
	}
	for _, d := range w.Days {
		if !timer.ValidDay(d) {
			return invalid("%q is not a day of the week", d)
		}
	}
	return nil
}

// ChannelConfig is the configuration of one monitored channel.
type ChannelConfig struct {
	Commands     []*Job       `json:"commands"`
	Humanization Humanization `json:"humanization"`
}

func (c *ChannelConfig) UnmarshalJSON(b []byte) error {
	type alias ChannelConfig
	a := alias{Humanization: DefaultHumanization()}
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	*c = ChannelConfig(a)
	return nil
}

// Channels is the channel document.
type Channels struct {
	Channels map[string]*ChannelConfig `json:"channels"`
}

// SortedIDs returns the configured channel ids in ascending order.
func (c *Channels) SortedIDs() []string {
	ids := make([]string, 0, len(c.Channels))
	for id := range c.Channels {
		ids = append(ids, id)
	}
	sortIDs(ids)
	return ids
}

// Job returns the job at index in channelID.
func (c *Channels) Job(channelID string, index int) (*Job, error) {
	cc, ok := c.Channels[channelID]
	if !ok {
		return nil, invalid("channel %s is not configured", channelID)
	}
	if index < 0 || index >= len(cc.Commands) {
		return nil, invalid("channel %s has no command #%d", channelID, index+1)
	}
	return cc.Commands[index], nil
}

// Find returns the job named name of kind typ in channelID, or nil.
func (c *Channels) Find(channelID, name string, typ CommandType) *Job {
	cc, ok := c.Channels[channelID]
	if !ok {
		return nil
	}
	for _, j := range cc.Commands {
		if j != nil && j.Name == name && j.CommandType == typ {
			return j
		}
	}
	return nil
}

// BotName returns the first bot_name configured for botID.
func (c *Channels) BotName(botID Snowflake) string {
	if botID == "" {
		return ""
	}
	for _, id := range c.SortedIDs() {
		for _, j := range c.Channels[id].Commands {
			if j.BotID == botID && j.BotName != "" {
				return j.BotName
			}
		}
	}
	return ""
}

// DisableSlash turns off every slash job in channelID whose main command is
// command for botID. It reports whether anything changed.
func (c *Channels) DisableSlash(channelID, command string, botID Snowflake) bool {
	cc, ok := c.Channels[channelID]
	if !ok {
		return false
	}
	changed := false
	for _, j := range cc.Commands {
		if j.CommandType == Slash && j.BotID == botID && j.MainCommand() == command && j.Enabled {
			j.Enabled = false
			changed = true
		}
	}
	return changed
}

// Learn records what a dispatch of the slash job name discovered. The scope
// belongs to the main command and is stored on every job sharing it; the
// execution path is stored on the job itself only. Empty values are left
// alone.
func (c *Channels) Learn(channelID, name string, botID Snowflake, scope slash.Scope, exec slash.ExecPath) bool {
	cc, ok := c.Channels[channelID]
	if !ok {
		return false
	}
	main := (&Job{Name: name}).MainCommand()
	changed := false
	for _, j := range cc.Commands {
		if j.CommandType != Slash || j.BotID != botID || j.MainCommand() != main {
			continue
		}
		if scope != "" && j.SlashType != scope {
			j.SlashType = scope
			changed = true
		}
		if exec != "" && j.Name == name && j.ExecutionType != exec {
			j.ExecutionType = exec
			changed = true
		}
	}
	return changed
}

// RunState is the process-wide state document.
type RunState struct {
	IsRunning          bool               `json:"is_running"`
	WebhookURL         string             `json:"webhook_url"`
	ConsoleLogsEnabled bool               `json:"console_logs_enabled"`
	LastUsed           map[string]float64 `json:"last_used"`
	DebugMode          bool               `json:"debug_mode"`
	ReuseBotNames      bool               `json:"reuse_bot_names"`
}

// DefaultRunState is written when no state document exists.
func DefaultRunState() RunState {
	return RunState{LastUsed: map[string]float64{}, ReuseBotNames: true}
}

func (s *RunState) UnmarshalJSON(b []byte) error {
	type alias RunState
	a := alias(DefaultRunState())
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	if a.LastUsed == nil {
		a.LastUsed = map[string]float64{}
	}
	*s = RunState(a)
	return nil
}

// LastUsedKey is the run state key of a job.
func LastUsedKey(channelID, name string) string {
	return channelID + "-" + name
}

// ForgetChannel drops every last_used entry of channelID.
func (s *RunState) ForgetChannel(channelID string) {
	prefix := channelID + "-"
	for k := range s.LastUsed {
		if strings.HasPrefix(k, prefix) {
			delete(s.LastUsed, k)
		}
	}
}
