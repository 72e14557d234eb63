package cmdrunner

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/anorb/cmdrunner/store"
)

// Audit embed colors.
const (
	colorDefault  = 0x2f3136
	colorStarted  = 0x57F287
	colorError    = 0xED4245
	colorWarning  = 0xFF6B35
	colorTimeout  = 0xFEE75C
	colorExecuted = 0x3498DB
	colorCritical = 0x992D22
)

const auditUsername = "CommandRunner Logs"

var webhookRe = regexp.MustCompile(`^https://(?:(?:canary|ptb)\.)?discord(?:app)?\.com/api(?:/v\d+)?/webhooks/(\d+)/([\w-]+)`)

// parseWebhookURL splits a Discord webhook URL into id and token.
func parseWebhookURL(u string) (id, token string, err error) {
	m := webhookRe.FindStringSubmatch(strings.TrimSpace(u))
	if m == nil {
		return "", "", errors.Newf("%q is not a Discord webhook URL", u)
	}
	return m[1], m[2], nil
}

type webhookExecutor interface {
	WebhookExecute(webhookID, token string, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// record is one audit entry.
type record struct {
	Title       string
	Description string
	Color       int
	// Reply, when set, adds a jump link to the bot's answer.
	Reply   *discordgo.Message
	GuildID string
	// Elapsed is shown only in debug mode.
	Elapsed   time.Duration
	DebugOnly bool
}

// auditor posts records to the configured webhook and, when console logs
// are enabled, prints a one-line summary.
type auditor struct {
	exec    webhookExecutor
	store   *store.Store
	log     zerolog.Logger
	console io.Writer
	limiter *rate.Limiter
	now     func() time.Time
}

func newAuditor(exec webhookExecutor, st *store.Store, log zerolog.Logger, console io.Writer) *auditor {
	return &auditor{
		exec:    exec,
		store:   st,
		log:     log.With().Str("component", "audit").Logger(),
		console: console,
		// Discord allows about five webhook calls per two seconds.
		limiter: rate.NewLimiter(rate.Every(400*time.Millisecond), 5),
		now:     time.Now,
	}
}

func jumpURL(guildID string, m *discordgo.Message) string {
	if guildID == "" {
		guildID = "@me"
	}
	return fmt.Sprintf("https://discord.com/channels/%s/%s/%s", guildID, m.ChannelID, m.ID)
}

func (a *auditor) send(ctx context.Context, rec record) {
	var (
		webhook string
		console bool
		debug   bool
	)
	a.store.View(func(_ *store.Channels, st *store.RunState) {
		webhook = st.WebhookURL
		console = st.ConsoleLogsEnabled
		debug = st.DebugMode
	})
	if rec.DebugOnly && !debug {
		return
	}
	if webhook == "" && !console {
		return
	}

	desc := rec.Description
	if debug && rec.Elapsed > 0 {
		desc += fmt.Sprintf("\n\n⏱️ **Execution Time**: %.3fs", rec.Elapsed.Seconds())
	}
	if rec.Reply != nil {
		desc += fmt.Sprintf("\n\n[Jump to response](%s)", jumpURL(rec.GuildID, rec.Reply))
	}
	color := rec.Color
	if color == 0 {
		color = colorDefault
	}

	if console && a.console != nil {
		first, _, _ := strings.Cut(desc, "\n")
		fmt.Fprintf(a.console, "[CommandRunner] %s: %s\n", rec.Title, first)
	}
	if webhook == "" || a.exec == nil {
		return
	}

	id, token, err := parseWebhookURL(webhook)
	if err != nil {
		a.log.Warn().Err(err).Msg("audit webhook disabled")
		return
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return
	}
	e := NewEmbed().
		SetTitle(rec.Title).
		SetDescription(desc).
		SetColor(color).
		SetFooter("CommandRunner • " + a.now().Format("2006-01-02 15:04:05"))
	e.Timestamp = a.now().Format(time.RFC3339)

	params := &discordgo.WebhookParams{
		Username: auditUsername,
		Embeds:   []*discordgo.MessageEmbed{e.MessageEmbed},
	}
	if _, err := a.exec.WebhookExecute(id, token, false, params, discordgo.WithContext(ctx)); err != nil {
		a.log.Error().Err(err).Str("title", rec.Title).Msg("failed to post audit record")
	}
}
