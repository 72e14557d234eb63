package cmdrunner

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"

	"github.com/anorb/cmdrunner/store"
)

const chatChunkLimit = 1900

// chat handles the ccr/crr text command sent by the runner's own account.
type chat struct {
	r      *Runner
	host   Host
	cfg    Config
	prefix string

	// afterFunc schedules reply deletion; tests replace it.
	afterFunc func(d time.Duration, f func())
}

func newChat(r *Runner, host Host, cfg Config) *chat {
	return &chat{
		r:      r,
		host:   host,
		cfg:    cfg,
		prefix: cfg.CommandPrefix,
		afterFunc: func(d time.Duration, f func()) {
			time.AfterFunc(d, f)
		},
	}
}

// parse splits a ccr invocation into its argument text. ok is false for
// any other message.
func (c *chat) parse(content string) (args string, ok bool) {
	rest, found := strings.CutPrefix(content, c.prefix)
	if !found {
		return "", false
	}
	for _, name := range []string{"ccr", "crr"} {
		after, found := strings.CutPrefix(rest, name)
		if !found {
			continue
		}
		if after == "" || after[0] == ' ' || after[0] == '\n' {
			return strings.TrimSpace(after), true
		}
	}
	return "", false
}

// reply sends text and deletes it after ttl.
func (c *chat) reply(channelID, text string, ttl time.Duration) {
	m, err := c.host.Send(channelID, text)
	if err != nil || m == nil || ttl <= 0 {
		return
	}
	c.afterFunc(ttl, func() {
		_ = c.host.Delete(channelID, m.ID)
	})
}

func (c *chat) short(channelID, text string) {
	c.reply(channelID, text, c.cfg.ReplyTTL.Duration)
}

// replyErr reports a failed edit. Validation errors carry their own text.
func (c *chat) replyErr(channelID string, err error) {
	if errors.Is(err, store.ErrInvalidConfiguration) {
		c.short(channelID, "❌ "+strings.TrimSuffix(err.Error(), ": "+store.ErrInvalidConfiguration.Error())+".")
		return
	}
	c.r.log.Error().Err(err).Msg("chat command failed")
	c.short(channelID, fmt.Sprintf("❌ Error: %v", err))
}

// handle runs a ccr command. It reports whether m was one.
func (c *chat) handle(m *discordgo.Message) bool {
	args, ok := c.parse(m.Content)
	if !ok {
		return false
	}
	c.afterFunc(300*time.Millisecond, func() {
		_ = c.host.Delete(m.ChannelID, m.ID)
	})

	parts := strings.Fields(args)
	sub := "help"
	if len(parts) > 0 {
		sub = strings.ToLower(parts[0])
	}
	ch := m.ChannelID

	switch sub {
	case "list":
		for _, chunk := range c.list() {
			c.reply(ch, chunk, c.cfg.ListReplyTTL.Duration)
		}
	case "start":
		if err := c.r.SetRunning(true); err != nil {
			c.replyErr(ch, err)
			return true
		}
		c.short(ch, "🟢 Command Runner started.")
	case "stop":
		if err := c.r.SetRunning(false); err != nil {
			c.replyErr(ch, err)
			return true
		}
		c.short(ch, "🔴 Command Runner stopped.")
	case "debug":
		on, err := c.r.ToggleDebug()
		if err != nil {
			c.short(ch, fmt.Sprintf("❌ Error toggling debug mode: %v", err))
			return true
		}
		c.short(ch, fmt.Sprintf("Debug mode %s.", enabledWord(on)))
	case "webhook":
		c.webhook(ch, parts[1:])
	case "console":
		c.console(ch, parts[1:])
	case "edit":
		c.edit(ch, args, parts[1:])
	default:
		c.reply(ch, c.help(), c.cfg.ListReplyTTL.Duration)
	}
	return true
}

func enabledWord(on bool) string {
	if on {
		return "enabled"
	}
	return "disabled"
}

func statusIcon(on bool) string {
	if on {
		return "🟢"
	}
	return "🔴"
}

func (c *chat) webhook(ch string, parts []string) {
	if len(parts) == 0 {
		c.short(ch, fmt.Sprintf("Usage: `%sccr webhook <url|off>`", c.prefix))
		return
	}
	url := parts[0]
	if strings.EqualFold(url, "off") {
		url = ""
	}
	if err := c.r.SetWebhook(url); err != nil {
		c.replyErr(ch, err)
		return
	}
	if url == "" {
		c.short(ch, "✅ Audit webhook disabled.")
		return
	}
	c.short(ch, "✅ Audit webhook set.")
}

func (c *chat) console(ch string, parts []string) {
	on, ok := onOff(parts)
	if !ok {
		c.short(ch, fmt.Sprintf("Usage: `%sccr console <on|off>`", c.prefix))
		return
	}
	if err := c.r.SetConsoleLogs(on); err != nil {
		c.replyErr(ch, err)
		return
	}
	c.short(ch, fmt.Sprintf("✅ Console logs %s.", enabledWord(on)))
}

func onOff(parts []string) (on, ok bool) {
	if len(parts) == 0 {
		return false, false
	}
	switch strings.ToLower(parts[0]) {
	case "on", "true", "enable":
		return true, true
	case "off", "false", "disable":
		return false, true
	}
	return false, false
}

// list renders the status report split into chunks that fit a message.
func (c *chat) list() []string {
	now := c.r.now()
	status := "🔴 STOPPED"
	if c.r.Running() {
		status = "🟢 RUNNING"
	}
	out := fmt.Sprintf("**Command Runner Status: %s**\n", status)

	var (
		chunks []string
		blocks []string
		empty  bool
	)
	c.r.store.View(func(chs *store.Channels, st *store.RunState) {
		if len(chs.Channels) == 0 {
			empty = true
			return
		}
		for _, id := range chs.SortedIDs() {
			blocks = append(blocks, c.channelBlock(id, chs.Channels[id], st, now))
		}
	})
	if empty {
		return []string{out + "\n📋 No channels are configured."}
	}

	for _, b := range blocks {
		if len(out)+len(b) > chatChunkLimit {
			chunks = append(chunks, out)
			out = strings.TrimLeft(b, "\n")
			continue
		}
		out += b
	}
	if strings.TrimSpace(out) != "" {
		chunks = append(chunks, out)
	}
	return chunks
}

func (c *chat) channelBlock(id string, cc *store.ChannelConfig, st *store.RunState, now time.Time) string {
	name := "`<Channel not found>`"
	if n := c.host.ChannelName(id); n != "" {
		name = "`#" + n + "`"
	}

	var (
		earliest time.Time
		found    bool
	)
	for _, j := range cc.Commands {
		if !j.Enabled {
			continue
		}
		if in, _ := j.Timer.Contains(now); !in {
			continue
		}
		due := nextDue(st.LastUsed, store.LastUsedKey(id, j.Name), j.Cooldown, now)
		if !found || due.Before(earliest) {
			earliest, found = due, true
		}
	}
	next := "**Next execution**: `N/A (all disabled)`"
	if found {
		next = fmt.Sprintf("**Next execution**: <t:%d:R>", earliest.Unix())
	}

	var b strings.Builder
	fmt.Fprintf(&b, "\n- **Channel**: %s (%s)", name, id)
	fmt.Fprintf(&b, "\n  - **Info**: %s", next)

	h := cc.Humanization
	delay := "🔴"
	if h.HumanDelay.Enabled {
		delay = fmt.Sprintf("🟢 (%d-%ds)", h.HumanDelay.Min, h.HumanDelay.Max)
	}
	fmt.Fprintf(&b, "\n  - **Humanize**: Typing: %s | Human_delay: %s", statusIcon(h.Typing), delay)
	b.WriteString("\n  - **Commands**:")
	if len(cc.Commands) == 0 {
		b.WriteString("\n    - No commands configured")
	}
	for _, j := range cc.Commands {
		fmt.Fprintf(&b, "\n    - %s", c.jobLine(id, j, st, now))
	}
	return b.String()
}

func (c *chat) jobLine(channelID string, j *store.Job, st *store.RunState, now time.Time) string {
	var state string
	switch in, _ := j.Timer.Contains(now); {
	case !j.Enabled:
		state = "Disabled"
	case !in:
		state = "Outside timer window"
	default:
		last, ok := st.LastUsed[store.LastUsedKey(channelID, j.Name)]
		due := fromUnixSeconds(last).Add(time.Duration(j.Cooldown) * time.Second)
		if !ok || last == 0 || !due.After(now) {
			state = "Ready"
		} else {
			state = fmt.Sprintf("<t:%d:R>", due.Unix())
		}
	}

	bot := j.BotName
	if bot == "" {
		bot = "ID: " + string(j.BotID)
	}
	cd := j.CooldownDisplay
	if cd == "" {
		cd = fmt.Sprintf("%ds", j.Cooldown)
	}
	line := fmt.Sprintf("%s `%s` (%s) - Bot: %s: `%s` | %s", statusIcon(j.Enabled), j.Display(), j.CommandType, bot, cd, state)
	if j.Args != "" {
		line += fmt.Sprintf(" | Args: `%s`", j.Args)
	}
	if t := j.Timer; t != nil && t.Enabled && t.StartTime != "" && t.EndTime != "" {
		line += fmt.Sprintf(" | Timer: %s-%s", t.StartTime, t.EndTime)
		if len(t.Days) > 0 {
			line += fmt.Sprintf(" (%s)", strings.Join(t.Days, ", "))
		}
	}
	return line
}

// edit handles `ccr edit <channel_id> ...`. raw is the full argument text,
// used to keep argument spacing intact.
func (c *chat) edit(ch, raw string, parts []string) {
	if len(parts) == 0 {
		c.short(ch, fmt.Sprintf("Usage: `%sccr edit <channel_id>` - Opens the editor for that channel's commands.", c.prefix))
		return
	}
	target := parts[0]
	if !store.Snowflake(target).Valid() {
		c.short(ch, "❌ Invalid channel ID. Please provide a valid channel ID.")
		return
	}

	if len(parts) >= 2 && strings.EqualFold(parts[1], "add") {
		c.add(ch, target, raw)
		return
	}

	var (
		configured bool
		count      int
	)
	c.r.store.View(func(chs *store.Channels, _ *store.RunState) {
		if cc, ok := chs.Channels[target]; ok {
			configured = true
			count = len(cc.Commands)
		}
	})
	if !configured {
		c.short(ch, fmt.Sprintf("❌ Channel <#%s> is not configured in Command Runner.", target))
		return
	}

	if len(parts) >= 2 {
		switch strings.ToLower(parts[1]) {
		case "humanize":
			c.humanize(ch, target, parts[2:])
			return
		case "remove":
			if err := c.r.RemoveChannel(target); err != nil {
				c.replyErr(ch, err)
				return
			}
			c.short(ch, fmt.Sprintf("✅ Channel <#%s> removed.", target))
			return
		}
	}

	if count == 0 {
		c.short(ch, fmt.Sprintf("📋 No commands configured for <#%s>.", target))
		return
	}
	if len(parts) == 1 {
		c.reply(ch, c.editListing(target), c.cfg.EditReplyTTL.Duration)
		return
	}

	n, err := strconv.Atoi(parts[1])
	if err != nil {
		c.short(ch, "❌ Invalid command number.")
		return
	}
	if n < 1 || n > count {
		c.short(ch, fmt.Sprintf("❌ Invalid command number. Use 1-%d.", count))
		return
	}
	if len(parts) < 3 {
		c.short(ch, "❌ Missing action. Use: toggle, cooldown, args, or delete.")
		return
	}
	c.jobAction(ch, target, n-1, strings.ToLower(parts[2]), parts[3:], raw)
}

func (c *chat) jobAction(ch, target string, idx int, action string, rest []string, raw string) {
	switch action {
	case "toggle":
		j, err := c.r.ToggleJob(target, idx)
		if err != nil {
			c.replyErr(ch, err)
			return
		}
		c.short(ch, fmt.Sprintf("✅ Command `%s` has been %s.", j.Name, enabledWord(j.Enabled)))

	case "cooldown":
		if len(rest) == 0 {
			c.short(ch, fmt.Sprintf("❌ Missing cooldown value. Usage: `%sccr edit <channel_id> <num> cooldown <seconds>`", c.prefix))
			return
		}
		j, err := c.r.SetCooldown(target, idx, rest[0])
		if err != nil {
			if errors.Is(err, store.ErrInvalidConfiguration) {
				c.short(ch, "❌ Invalid cooldown format. Use: 30s, 5m, 2h, 1d, 1w or just seconds.")
				return
			}
			c.replyErr(ch, err)
			return
		}
		c.short(ch, fmt.Sprintf("✅ Command `%s` cooldown changed to %d seconds.", j.Name, j.Cooldown))

	case "args":
		args := afterFields(raw, 4)
		j, err := c.r.SetArgs(target, idx, args)
		if err != nil {
			c.replyErr(ch, err)
			return
		}
		if j.Args == "" {
			c.short(ch, fmt.Sprintf("✅ Command `%s` arguments cleared.", j.Name))
			return
		}
		c.short(ch, fmt.Sprintf("✅ Command `%s` arguments updated to: `%s`", j.Name, j.Args))

	case "prefix":
		if len(rest) == 0 {
			c.short(ch, fmt.Sprintf("❌ Missing prefix. Usage: `%sccr edit <channel_id> <num> prefix <prefix>`", c.prefix))
			return
		}
		j, err := c.r.SetPrefix(target, idx, rest[0])
		if err != nil {
			c.replyErr(ch, err)
			return
		}
		c.short(ch, fmt.Sprintf("✅ Command `%s` will be sent as `%s`.", j.Name, j.Display()))

	case "delete":
		j, err := c.r.RemoveJob(target, idx)
		if err != nil {
			c.replyErr(ch, err)
			return
		}
		c.short(ch, fmt.Sprintf("✅ Command `%s` has been deleted.", j.Name))

	case "type":
		if len(rest) == 0 {
			c.short(ch, fmt.Sprintf("❌ Missing command type. Usage: `%sccr edit <channel_id> <num> type <prefix|slash>`", c.prefix))
			return
		}
		typ := store.CommandType(strings.ToLower(rest[0]))
		if typ != store.Prefix && typ != store.Slash {
			c.short(ch, "❌ Invalid command type. Use: prefix or slash.")
			return
		}
		before, after, err := c.r.SetType(target, idx, typ)
		if err != nil {
			c.replyErr(ch, err)
			return
		}
		c.short(ch, fmt.Sprintf("✅ Command `%s` type changed from `%s` to `%s`.", after.Name, before.CommandType, after.CommandType))

	case "timer":
		c.timer(ch, target, idx, rest)

	default:
		c.short(ch, "❌ Invalid action. Use: toggle, cooldown, args, prefix, delete, type, or timer.")
	}
}

// afterFields returns raw without its first n fields, keeping the spacing
// of the remainder.
func afterFields(raw string, n int) string {
	rest := strings.TrimSpace(raw)
	for i := 0; i < n; i++ {
		j := strings.IndexFunc(rest, unicode.IsSpace)
		if j < 0 {
			return ""
		}
		rest = strings.TrimLeftFunc(rest[j:], unicode.IsSpace)
	}
	return rest
}

func (c *chat) timer(ch, target string, idx int, rest []string) {
	if len(rest) == 0 {
		c.short(ch, fmt.Sprintf("❌ Missing timer action. Usage: `%sccr edit <channel_id> <num> timer <set|clear|toggle>`", c.prefix))
		return
	}
	switch strings.ToLower(rest[0]) {
	case "clear":
		j, err := c.r.ClearTimer(target, idx)
		if err != nil {
			c.replyErr(ch, err)
			return
		}
		c.short(ch, fmt.Sprintf("✅ Timer cleared for command `%s`.", j.Name))

	case "toggle":
		j, err := c.r.ToggleTimer(target, idx)
		if err != nil {
			if errors.Is(err, store.ErrInvalidConfiguration) {
				c.short(ch, "❌ No timer configured for this command. Use 'set' first.")
				return
			}
			c.replyErr(ch, err)
			return
		}
		c.short(ch, fmt.Sprintf("✅ Timer %s for command `%s`.", enabledWord(j.Timer.Enabled), j.Name))

	case "set":
		if len(rest) < 3 {
			c.reply(ch, fmt.Sprintf("❌ Missing timer parameters. Usage: `%[1]sccr edit <channel_id> <num> timer set <start_time> <end_time> [days...]`\nExample: `%[1]sccr edit 123 1 timer set 09:00 17:00 monday friday`", c.prefix), 15*time.Second)
			return
		}
		j, err := c.r.SetTimer(target, idx, rest[1], rest[2], rest[3:])
		if err != nil {
			c.replyErr(ch, err)
			return
		}
		days := " (all days)"
		if len(j.Timer.Days) > 0 {
			days = " on " + strings.Join(j.Timer.Days, ", ")
		}
		c.short(ch, fmt.Sprintf("✅ Timer set for command `%s`: %s-%s%s.", j.Name, j.Timer.StartTime, j.Timer.EndTime, days))

	default:
		c.short(ch, "❌ Invalid timer action. Use: set, clear, or toggle.")
	}
}

// add handles `edit <channel> add <prefix|slash> <cooldown> <bot_id|any> <name...> [-- <args>]`.
func (c *chat) add(ch, target, raw string) {
	usage := fmt.Sprintf("❌ Usage: `%sccr edit <channel_id> add <prefix|slash> <cooldown> <bot_id|any> <name...> [-- <args>]`", c.prefix)

	head, args, _ := strings.Cut(afterFields(raw, 3)+" ", " -- ")
	f := strings.Fields(strings.TrimSuffix(strings.TrimSpace(head), " --"))
	if len(f) < 4 {
		c.short(ch, usage)
		return
	}

	j := &store.Job{
		CommandType: store.CommandType(strings.ToLower(f[0])),
		Name:        strings.Join(f[3:], " "),
		Args:        strings.TrimSpace(args),
		Enabled:     true,
	}
	if j.CommandType == store.Prefix {
		j.Prefix = store.DefaultPrefix
	}
	if !strings.EqualFold(f[2], "any") {
		j.BotID = store.Snowflake(f[2])
	}
	if err := j.SetCooldown(f[1]); err != nil {
		c.short(ch, "❌ Invalid cooldown format. Use: 30s, 5m, 2h, 1d, 1w or just seconds.")
		return
	}
	if err := c.r.AddJob(target, j); err != nil {
		c.replyErr(ch, err)
		return
	}
	c.short(ch, fmt.Sprintf("✅ Command `%s` added to <#%s>.", j.Display(), target))
}

func (c *chat) humanize(ch, target string, parts []string) {
	usage := fmt.Sprintf("❌ Usage: `%[1]sccr edit <channel_id> humanize typing <on|off>` or `%[1]sccr edit <channel_id> humanize delay <min> <max>|off`", c.prefix)
	if len(parts) == 0 {
		c.short(ch, usage)
		return
	}
	switch strings.ToLower(parts[0]) {
	case "typing":
		on, ok := onOff(parts[1:])
		if !ok {
			c.short(ch, usage)
			return
		}
		if err := c.r.SetTyping(target, on); err != nil {
			c.replyErr(ch, err)
			return
		}
		c.short(ch, fmt.Sprintf("✅ Typing indicator %s for <#%s>.", enabledWord(on), target))

	case "delay":
		if len(parts) == 2 && strings.EqualFold(parts[1], "off") {
			if err := c.r.SetHumanDelay(target, store.HumanDelay{}); err != nil {
				c.replyErr(ch, err)
				return
			}
			c.short(ch, fmt.Sprintf("✅ Human delay disabled for <#%s>.", target))
			return
		}
		if len(parts) < 3 {
			c.short(ch, usage)
			return
		}
		min, err1 := strconv.Atoi(parts[1])
		max, err2 := strconv.Atoi(parts[2])
		if err1 != nil || err2 != nil {
			c.short(ch, usage)
			return
		}
		if err := c.r.SetHumanDelay(target, store.HumanDelay{Enabled: true, Min: min, Max: max}); err != nil {
			c.replyErr(ch, err)
			return
		}
		c.short(ch, fmt.Sprintf("✅ Human delay set to %d-%ds for <#%s>.", min, max, target))

	default:
		c.short(ch, usage)
	}
}

func (c *chat) editListing(target string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**Commands in** <#%s>:\n\n", target)
	c.r.store.View(func(chs *store.Channels, _ *store.RunState) {
		for i, j := range chs.Channels[target].Commands {
			fmt.Fprintf(&b, "%d. %s `%s` (%s) - %ds", i+1, statusIcon(j.Enabled), j.Display(), j.CommandType, j.Cooldown)
			if j.Args != "" {
				fmt.Fprintf(&b, " | Args: `%s`", j.Args)
			}
			b.WriteString("\n")
		}
	})

	p := c.prefix
	b.WriteString("\n**Actions:**\n")
	for _, a := range []string{
		"toggle` - Enable/disable command",
		"cooldown <time>` - Change cooldown (e.g., 30s, 5m, 2h, 1d)",
		"args <arguments>` - Change arguments",
		"prefix <prefix>` - Change the prefix of a prefix command",
		"type <prefix|slash>` - Change command type",
		"timer set <start> <end> [days...]` - Set timer",
		"timer toggle` - Enable/disable timer",
		"timer clear` - Remove timer",
		"delete` - Delete command",
	} {
		fmt.Fprintf(&b, "• `%sccr edit %s <num> %s\n", p, target, a)
	}
	return b.String()
}

func (c *chat) help() string {
	return strings.ReplaceAll(helpText, "[p]", c.prefix)
}

const helpText = "**Command Runner Help Guide**\n\n" +
	"--- **Core Commands** ---\n" +
	"- `[p]ccr start` - Starts the command runner process.\n" +
	"- `[p]ccr stop` - Stops the command runner process.\n" +
	"- `[p]ccr list` - Displays detailed status and command information.\n" +
	"- `[p]ccr edit <channel_id>` - Command editor for a specific channel.\n" +
	"- `[p]ccr debug` - Toggle debug mode for detailed logging.\n" +
	"- `[p]ccr webhook <url|off>` - Set or clear the audit webhook.\n" +
	"- `[p]ccr console <on|off>` - Print audit records to the console.\n" +
	"- `[p]ccr help` - Shows this help message.\n\n" +
	"--- **Channels** ---\n" +
	"- `[p]ccr edit <channel_id> add <prefix|slash> <cooldown> <bot_id|any> <name...> [-- <args>]`\n" +
	"- `[p]ccr edit <channel_id> humanize typing <on|off>`\n" +
	"- `[p]ccr edit <channel_id> humanize delay <min> <max>|off`\n" +
	"- `[p]ccr edit <channel_id> remove`\n\n" +
	"--- **Slash Commands with Arguments** ---\n" +
	"Format: key=value separated by spaces. For multi-word values, use quotes:\n" +
	"Examples:\n" +
	"• duration=2m winners=1 prize=test\n" +
	"• duration=10m winners=2 prize=\"Nitro Monthly\"\n" +
	"• time=1h reward=\"Discord Premium\" count=5\n\n" +
	"**For mentions (users/channels/roles), use their ID:**\n" +
	"• target=123456789012345678 amount=1000\n" +
	"• user=987654321098765432 role=456789123456789123\n\n" +
	"--- **Timer Examples** ---\n" +
	"Set timer for all days:\n" +
	"• `[p]ccr edit 123456 1 timer set 09:00 17:00`\n\n" +
	"Set timer for specific days:\n" +
	"• `[p]ccr edit 123456 1 timer set 18:00 22:00 monday friday`\n\n" +
	"Timer management:\n" +
	"• `[p]ccr edit 123456 1 timer toggle` - Enable/disable timer\n" +
	"• `[p]ccr edit 123456 1 timer clear` - Remove timer completely\n"
