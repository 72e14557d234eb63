package cmdrunner

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/anorb/cmdrunner/store"
)

// Bot owns the Discord session, the persisted documents and the runner.
type Bot struct {
	Config  Config
	Session *session
	Store   *store.Store
	Runner  *Runner

	log      zerolog.Logger
	logFile  io.Closer
	debug    atomic.Bool
	registry *prometheus.Registry
	chat     *chat
}

// NewBot creates the logger, store, session and runner described by cfg.
// Nothing connects until Run.
func NewBot(cfg Config) (*Bot, error) {
	b := &Bot{Config: cfg, registry: prometheus.NewRegistry()}

	var err error
	b.log, b.logFile, err = newLogger(cfg.DataDir, cfg.ConsoleLogs, &b.debug)
	if err != nil {
		return nil, err
	}

	b.Store, err = store.Open(cfg.DataDir, b.log.With().Str("component", "store").Logger())
	if err != nil {
		b.logFile.Close()
		return nil, err
	}

	b.Session, err = newSession(cfg.Token, b.log)
	if err != nil {
		b.logFile.Close()
		return nil, err
	}

	b.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	b.Runner, err = NewRunner(Options{
		Config:     cfg,
		Host:       b.Session,
		Store:      b.Store,
		Log:        b.log,
		Webhook:    b.Session,
		Console:    os.Stdout,
		Registerer: b.registry,
		Debug:      &b.debug,
	})
	if err != nil {
		b.logFile.Close()
		return nil, err
	}
	b.chat = newChat(b.Runner, b.Session, cfg)
	return b, nil
}

// Run opens the websocket connection and blocks until ctx is done.
func (b *Bot) Run(ctx context.Context) error {
	defer b.logFile.Close()

	b.Session.AddHandler(b.onReady)
	b.Session.AddHandler(b.onMessageCreate)

	if err := b.Session.Open(); err != nil {
		return errors.Wrap(err, "open websocket connection")
	}

	if b.Config.MetricsAddr != "" {
		startMetricsServer(ctx, b.Config.MetricsAddr, b.registry, b.log.With().Str("component", "metrics").Logger())
	}
	go func() {
		if err := b.Store.Watch(ctx, b.Runner.TriggerReschedule); err != nil {
			b.log.Warn().Err(err).Msg("channel document watcher stopped")
		}
	}()

	<-ctx.Done()
	b.log.Info().Msg("shutting down")
	b.Runner.Close()
	return errors.Wrap(b.Session.Close(), "close discord session")
}

func (b *Bot) onReady(s *discordgo.Session, r *discordgo.Ready) {
	b.log.Info().Str("user", r.User.Username).Str("session_id", r.SessionID).Msg("connected to gateway")

	var resume bool
	b.Store.View(func(_ *store.Channels, st *store.RunState) {
		resume = st.IsRunning
	})
	if resume && !b.Runner.Running() {
		if err := b.Runner.Start(); err != nil {
			b.log.Error().Err(err).Msg("failed to resume runner")
		}
	}
}

func (b *Bot) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil {
		return
	}
	b.Runner.Observe(m.Message)
	if m.Author.ID == b.Session.SelfID() {
		b.chat.handle(m.Message)
	}
}

// Check loads the documents in cfg.DataDir and reports every job that
// would be rejected by the editor.
func Check(cfg Config) ([]string, error) {
	st, err := store.Open(cfg.DataDir, zerolog.Nop())
	if err != nil {
		return nil, err
	}
	var problems []string
	st.View(func(c *store.Channels, _ *store.RunState) {
		for _, id := range c.SortedIDs() {
			if !store.Snowflake(id).Valid() {
				problems = append(problems, fmt.Sprintf("channel %q: id is not numeric", id))
			}
			cc := c.Channels[id]
			if err := cc.Humanization.HumanDelay.Validate(); err != nil {
				problems = append(problems, fmt.Sprintf("channel %s: %v", id, err))
			}
			for i, j := range cc.Commands {
				if err := j.Validate(); err != nil {
					problems = append(problems, fmt.Sprintf("channel %s command #%d (%s): %v", id, i+1, j.Display(), err))
				}
			}
		}
	})
	return problems, nil
}
