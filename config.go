package cmdrunner

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/cockroachdb/errors"
	"github.com/robfig/cron/v3"

	"github.com/anorb/cmdrunner/slash"
)

// Duration is a time.Duration read from a TOML string such as "15s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Config contains all options for the config file
type Config struct {
	Token         string
	DataDir       string
	CommandPrefix string
	ConsoleLogs   bool
	MetricsAddr   string
	APIBase       string

	ResponseTimeout  Duration
	PendingMaxAge    Duration
	CleanupSchedule  string
	DispatchPauseMin Duration
	DispatchPauseMax Duration
	ErrorBackoff     Duration
	IdleWait         Duration
	TypingMin        Duration
	TypingMax        Duration
	ReplyTTL         Duration
	ListReplyTTL     Duration
	EditReplyTTL     Duration
}

// DefaultConfig returns the default config settings
func DefaultConfig() Config {
	return Config{
		DataDir:          "./data",
		CommandPrefix:    "!",
		APIBase:          slash.DefaultAPIBase,
		ResponseTimeout:  Duration{15 * time.Second},
		PendingMaxAge:    Duration{30 * time.Second},
		CleanupSchedule:  "@every 5m",
		DispatchPauseMin: Duration{3 * time.Second},
		DispatchPauseMax: Duration{7 * time.Second},
		ErrorBackoff:     Duration{5 * time.Second},
		IdleWait:         Duration{10 * time.Second},
		TypingMin:        Duration{1 * time.Second},
		TypingMax:        Duration{4 * time.Second},
		ReplyTTL:         Duration{10 * time.Second},
		ListReplyTTL:     Duration{60 * time.Second},
		EditReplyTTL:     Duration{120 * time.Second},
	}
}

// LoadConfig decodes the file at path over the defaults.
func LoadConfig(path string) (Config, error) {
	c := DefaultConfig()

	if _, err := toml.DecodeFile(path, &c); err != nil {
		return c, errors.Wrap(err, "read config")
	}
	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

// Validate reports the first unusable setting.
func (c Config) Validate() error {
	if c.Token == "" {
		return errors.New("no Token set in config")
	}
	if c.DataDir == "" {
		return errors.New("no DataDir set in config")
	}
	if c.CommandPrefix == "" {
		return errors.New("no CommandPrefix set in config")
	}
	if c.ResponseTimeout.Duration <= 0 {
		return errors.New("ResponseTimeout must be positive")
	}
	for _, p := range []struct {
		name     string
		min, max Duration
	}{
		{"DispatchPause", c.DispatchPauseMin, c.DispatchPauseMax},
		{"Typing", c.TypingMin, c.TypingMax},
	} {
		if p.min.Duration < 0 || p.max.Duration < p.min.Duration {
			return errors.Newf("%sMin and %sMax must satisfy 0 <= min <= max", p.name, p.name)
		}
	}
	if _, err := cron.ParseStandard(c.CleanupSchedule); err != nil {
		return errors.Wrapf(err, "CleanupSchedule %q", c.CleanupSchedule)
	}
	return nil
}

// getInput asks the user for input using prompt.
func getInput(r *bufio.Reader, prompt string) (string, error) {
	fmt.Print(prompt)
	input, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(input), nil
}

// CreateMinimalConfig prompts for a token and writes a config with
// defaults for everything else to path.
func CreateMinimalConfig(path string) error {
	c := DefaultConfig()

	var err error
	c.Token, err = getInput(bufio.NewReader(os.Stdin), "Enter token: ")
	if err != nil {
		return err
	}
	if c.Token == "" {
		return errors.New("no token entered")
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(c)
}
