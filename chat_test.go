package cmdrunner

import (
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anorb/cmdrunner/store"
)

func newTestChat(t *testing.T) (*chat, *fakeHost, *Runner) {
	t.Helper()
	host := newFakeHost()
	r := newTestRunner(t, host, nil)
	c := newChat(r, host, r.cfg)
	c.afterFunc = func(time.Duration, func()) {}
	return c, host, r
}

func say(c *chat, content string) bool {
	return c.handle(&discordgo.Message{ID: "cmd", ChannelID: testChannel, Content: content, Author: &discordgo.User{ID: testSelf}})
}

func lastReply(t *testing.T, h *fakeHost) string {
	t.Helper()
	sent := h.sentContents()
	require.NotEmpty(t, sent)
	return sent[len(sent)-1]
}

func TestChatParse(t *testing.T) {
	c, _, _ := newTestChat(t)

	for in, want := range map[string]string{
		"!ccr":                 "",
		"!ccr list":            "list",
		"!crr   edit 1 toggle ": "edit 1 toggle",
	} {
		got, ok := c.parse(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	for _, in := range []string{"ccr list", "!ccrx", "?ccr list", "!work"} {
		_, ok := c.parse(in)
		assert.False(t, ok, in)
	}
}

func TestChatIgnoresOtherMessages(t *testing.T) {
	c, h, _ := newTestChat(t)
	assert.False(t, say(c, "hello"))
	assert.Empty(t, h.sentContents())
}

func TestChatDeletesInvocation(t *testing.T) {
	c, h, _ := newTestChat(t)
	var delays []time.Duration
	c.afterFunc = func(d time.Duration, f func()) {
		delays = append(delays, d)
		f()
	}

	require.True(t, say(c, "!ccr help"))
	assert.Contains(t, h.deleted, "cmd")
	assert.Contains(t, delays, 300*time.Millisecond)
	assert.Contains(t, delays, c.cfg.ListReplyTTL.Duration)
}

func TestChatHelp(t *testing.T) {
	c, h, _ := newTestChat(t)
	require.True(t, say(c, "!ccr"))
	reply := lastReply(t, h)
	assert.Contains(t, reply, "Command Runner Help Guide")
	assert.Contains(t, reply, "`!ccr start`")
	assert.NotContains(t, reply, "[p]")
}

func TestChatListEmpty(t *testing.T) {
	c, h, _ := newTestChat(t)
	require.True(t, say(c, "!ccr list"))
	reply := lastReply(t, h)
	assert.Contains(t, reply, "🔴 STOPPED")
	assert.Contains(t, reply, "No channels are configured")
}

func TestChatListContents(t *testing.T) {
	c, h, r := newTestChat(t)
	h.names[testChannel] = "grind"
	j := prefixJob("work", 300)
	j.BotName = "Dank"
	j.CooldownDisplay = "5m"
	j.Args = "all"
	off := slashJob("daily", 86400)
	off.Enabled = false
	addChannel(t, r, testChannel, j, off)
	addChannel(t, r, "3001")

	require.True(t, say(c, "!ccr list"))
	reply := lastReply(t, h)
	assert.Contains(t, reply, "`#grind` (3000)")
	assert.Contains(t, reply, "`<Channel not found>` (3001)")
	assert.Contains(t, reply, "🟢 `!work` (prefix) - Bot: Dank: `5m` | Ready | Args: `all`")
	assert.Contains(t, reply, "🔴 `/daily` (slash) - Bot: ID: 4000: `86400s` | Disabled")
	assert.Contains(t, reply, "No commands configured")
	assert.Contains(t, reply, "N/A (all disabled)")
}

func TestChatListChunks(t *testing.T) {
	c, _, r := newTestChat(t)
	for i := 0; i < 12; i++ {
		jobs := make([]*store.Job, 0, 5)
		for k := 0; k < 5; k++ {
			j := prefixJob(strings.Repeat("x", 20)+string(rune('a'+k)), 60)
			j.Args = strings.Repeat("y", 30)
			jobs = append(jobs, j)
		}
		addChannel(t, r, "30"+strings.Repeat("0", i+1), jobs...)
	}

	chunks := c.list()
	require.Greater(t, len(chunks), 1)
	for _, ch := range chunks {
		assert.LessOrEqual(t, len(ch), chatChunkLimit)
	}
	assert.True(t, strings.HasPrefix(chunks[0], "**Command Runner Status"))
}

func TestChatEditAdd(t *testing.T) {
	c, h, r := newTestChat(t)

	require.True(t, say(c, "!ccr edit 3000 add prefix 10m 4000 work -- --all  now"))
	assert.Equal(t, "✅ Command `!work` added to <#3000>.", lastReply(t, h))

	j := jobAt(r, testChannel, 0)
	assert.Equal(t, store.Prefix, j.CommandType)
	assert.Equal(t, 600, j.Cooldown)
	assert.Equal(t, "10m", j.CooldownDisplay)
	assert.Equal(t, store.Snowflake("4000"), j.BotID)
	assert.Equal(t, "--all  now", j.Args)
	assert.True(t, j.Enabled)

	var h0 store.Humanization
	r.store.View(func(ch *store.Channels, _ *store.RunState) { h0 = ch.Channels[testChannel].Humanization })
	assert.Equal(t, store.DefaultHumanization(), h0)

	require.True(t, say(c, "!ccr edit 3000 add slash 1h 4000 shop buy"))
	j = jobAt(r, testChannel, 1)
	assert.Equal(t, "shop buy", j.Name)
	assert.Equal(t, "", j.Args)

	require.True(t, say(c, "!ccr edit 3000 add prefix 30 any fish"))
	assert.Equal(t, store.Snowflake(""), jobAt(r, testChannel, 2).BotID)
}

func TestChatEditAddRejects(t *testing.T) {
	c, h, r := newTestChat(t)

	require.True(t, say(c, "!ccr edit 3000 add prefix 10m"))
	assert.Contains(t, lastReply(t, h), "❌ Usage:")

	require.True(t, say(c, "!ccr edit 3000 add prefix soon any work"))
	assert.Contains(t, lastReply(t, h), "Invalid cooldown format")

	require.True(t, say(c, "!ccr edit 3000 add slash 10m any work"))
	assert.Contains(t, lastReply(t, h), "needs a numeric bot id")

	r.store.View(func(ch *store.Channels, _ *store.RunState) {
		assert.Empty(t, ch.Channels)
	})
}

func TestChatEditUnknownChannel(t *testing.T) {
	c, h, _ := newTestChat(t)

	require.True(t, say(c, "!ccr edit abc"))
	assert.Equal(t, "❌ Invalid channel ID. Please provide a valid channel ID.", lastReply(t, h))

	require.True(t, say(c, "!ccr edit 3999 1 toggle"))
	assert.Equal(t, "❌ Channel <#3999> is not configured in Command Runner.", lastReply(t, h))
}

func TestChatEditJobNumber(t *testing.T) {
	c, h, r := newTestChat(t)
	addChannel(t, r, testChannel, prefixJob("work", 60))

	require.True(t, say(c, "!ccr edit 3000 x toggle"))
	assert.Equal(t, "❌ Invalid command number.", lastReply(t, h))

	require.True(t, say(c, "!ccr edit 3000 2 toggle"))
	assert.Equal(t, "❌ Invalid command number. Use 1-1.", lastReply(t, h))

	require.True(t, say(c, "!ccr edit 3000 1"))
	assert.Contains(t, lastReply(t, h), "Missing action")

	require.True(t, say(c, "!ccr edit 3000 1 launch"))
	assert.Contains(t, lastReply(t, h), "Invalid action")
}

func TestChatEditListing(t *testing.T) {
	c, h, r := newTestChat(t)
	addChannel(t, r, testChannel, prefixJob("work", 60))

	require.True(t, say(c, "!ccr edit 3000"))
	reply := lastReply(t, h)
	assert.Contains(t, reply, "1. 🟢 `!work` (prefix) - 60s")
	assert.Contains(t, reply, "`!ccr edit 3000 <num> toggle`")
}

func TestChatEditActions(t *testing.T) {
	c, h, r := newTestChat(t)
	addChannel(t, r, testChannel, prefixJob("work", 60), prefixJob("fish", 60))

	require.True(t, say(c, "!ccr edit 3000 1 toggle"))
	assert.Equal(t, "✅ Command `work` has been disabled.", lastReply(t, h))
	assert.False(t, jobAt(r, testChannel, 0).Enabled)

	require.True(t, say(c, "!ccr edit 3000 1 cooldown 2h"))
	assert.Equal(t, "✅ Command `work` cooldown changed to 7200 seconds.", lastReply(t, h))

	require.True(t, say(c, "!ccr edit 3000 1 cooldown never"))
	assert.Contains(t, lastReply(t, h), "Invalid cooldown format")
	assert.Equal(t, 7200, jobAt(r, testChannel, 0).Cooldown)

	require.True(t, say(c, `!ccr edit 3000 1 args  prize="Nitro  Monthly" winners=1`))
	assert.Equal(t, `prize="Nitro  Monthly" winners=1`, jobAt(r, testChannel, 0).Args)

	require.True(t, say(c, "!ccr edit 3000 1 args"))
	assert.Equal(t, "✅ Command `work` arguments cleared.", lastReply(t, h))

	require.True(t, say(c, "!ccr edit 3000 1 prefix pls "))
	assert.Equal(t, "✅ Command `work` will be sent as `plswork`.", lastReply(t, h))

	require.True(t, say(c, "!ccr edit 3000 1 type slash"))
	assert.Equal(t, "✅ Command `work` type changed from `prefix` to `slash`.", lastReply(t, h))
	assert.Equal(t, store.Slash, jobAt(r, testChannel, 0).CommandType)

	require.True(t, say(c, "!ccr edit 3000 1 type bogus"))
	assert.Equal(t, "❌ Invalid command type. Use: prefix or slash.", lastReply(t, h))

	require.True(t, say(c, "!ccr edit 3000 2 delete"))
	assert.Equal(t, "✅ Command `fish` has been deleted.", lastReply(t, h))
	r.store.View(func(ch *store.Channels, _ *store.RunState) {
		assert.Len(t, ch.Channels[testChannel].Commands, 1)
	})
}

func TestChatEditTimer(t *testing.T) {
	c, h, r := newTestChat(t)
	addChannel(t, r, testChannel, prefixJob("work", 60))

	require.True(t, say(c, "!ccr edit 3000 1 timer toggle"))
	assert.Equal(t, "❌ No timer configured for this command. Use 'set' first.", lastReply(t, h))

	require.True(t, say(c, "!ccr edit 3000 1 timer set 09:00"))
	assert.Contains(t, lastReply(t, h), "Missing timer parameters")

	require.True(t, say(c, "!ccr edit 3000 1 timer set 09:00 17:00 Monday friday"))
	assert.Equal(t, "✅ Timer set for command `work`: 09:00-17:00 on monday, friday.", lastReply(t, h))
	tm := jobAt(r, testChannel, 0).Timer
	require.NotNil(t, tm)
	assert.True(t, tm.Enabled)
	assert.Equal(t, []string{"monday", "friday"}, tm.Days)

	require.True(t, say(c, "!ccr edit 3000 1 timer set 25:00 17:00"))
	assert.Contains(t, lastReply(t, h), "HH:MM")
	assert.Equal(t, "09:00", jobAt(r, testChannel, 0).Timer.StartTime)

	require.True(t, say(c, "!ccr edit 3000 1 timer toggle"))
	assert.Equal(t, "✅ Timer disabled for command `work`.", lastReply(t, h))

	require.True(t, say(c, "!ccr edit 3000 1 timer clear"))
	assert.Nil(t, jobAt(r, testChannel, 0).Timer)
}

func TestChatEditHumanize(t *testing.T) {
	c, h, r := newTestChat(t)
	addChannel(t, r, testChannel, prefixJob("work", 60))
	humanization := func() store.Humanization {
		var hz store.Humanization
		r.store.View(func(ch *store.Channels, _ *store.RunState) { hz = ch.Channels[testChannel].Humanization })
		return hz
	}

	require.True(t, say(c, "!ccr edit 3000 humanize typing on"))
	assert.True(t, humanization().Typing)

	require.True(t, say(c, "!ccr edit 3000 humanize delay 3 9"))
	assert.Equal(t, store.HumanDelay{Enabled: true, Min: 3, Max: 9}, humanization().HumanDelay)

	require.True(t, say(c, "!ccr edit 3000 humanize delay 9 3"))
	assert.Contains(t, lastReply(t, h), "greater than max")
	assert.Equal(t, 9, humanization().HumanDelay.Max)

	require.True(t, say(c, "!ccr edit 3000 humanize delay off"))
	assert.False(t, humanization().HumanDelay.Enabled)

	require.True(t, say(c, "!ccr edit 3000 humanize wobble"))
	assert.Contains(t, lastReply(t, h), "❌ Usage:")
}

func TestChatEditRemoveChannel(t *testing.T) {
	c, h, r := newTestChat(t)
	addChannel(t, r, testChannel, prefixJob("work", 60))
	require.NoError(t, r.store.UpdateState(func(st *store.RunState) error {
		st.LastUsed[store.LastUsedKey(testChannel, "work")] = 1
		return nil
	}))

	require.True(t, say(c, "!ccr edit 3000 remove"))
	assert.Equal(t, "✅ Channel <#3000> removed.", lastReply(t, h))
	_, ok := lastUsed(r, testChannel, "work")
	assert.False(t, ok)
}

func TestChatStartStop(t *testing.T) {
	c, h, r := newTestChat(t)
	addChannel(t, r, testChannel, prefixJob("work", 3600))
	require.NoError(t, r.store.UpdateState(func(st *store.RunState) error {
		st.LastUsed[store.LastUsedKey(testChannel, "work")] = unixSeconds(time.Now())
		return nil
	}))
	isRunning := func() bool {
		var on bool
		r.store.View(func(_ *store.Channels, st *store.RunState) { on = st.IsRunning })
		return on
	}

	require.True(t, say(c, "!ccr start"))
	assert.Equal(t, "🟢 Command Runner started.", lastReply(t, h))
	assert.True(t, r.Running())
	assert.True(t, isRunning())

	require.True(t, say(c, "!ccr stop"))
	assert.Equal(t, "🔴 Command Runner stopped.", lastReply(t, h))
	assert.False(t, r.Running())
	assert.False(t, isRunning())
}

func TestChatDebugToggle(t *testing.T) {
	c, h, r := newTestChat(t)

	require.True(t, say(c, "!ccr debug"))
	assert.Equal(t, "Debug mode enabled.", lastReply(t, h))
	require.True(t, say(c, "!ccr debug"))
	assert.Equal(t, "Debug mode disabled.", lastReply(t, h))

	r.store.View(func(_ *store.Channels, st *store.RunState) {
		assert.False(t, st.DebugMode)
	})
}

func TestChatWebhookAndConsole(t *testing.T) {
	c, h, r := newTestChat(t)
	state := func() store.RunState {
		var s store.RunState
		r.store.View(func(_ *store.Channels, st *store.RunState) { s = *st })
		return s
	}

	require.True(t, say(c, "!ccr webhook https://example.com/hook"))
	assert.Contains(t, lastReply(t, h), "not a Discord webhook URL")

	require.True(t, say(c, "!ccr webhook https://discord.com/api/webhooks/123/abc-DEF"))
	assert.Equal(t, "✅ Audit webhook set.", lastReply(t, h))
	assert.Equal(t, "https://discord.com/api/webhooks/123/abc-DEF", state().WebhookURL)

	require.True(t, say(c, "!ccr webhook off"))
	assert.Empty(t, state().WebhookURL)

	require.True(t, say(c, "!ccr console on"))
	assert.True(t, state().ConsoleLogsEnabled)
	require.True(t, say(c, "!ccr console maybe"))
	assert.Contains(t, lastReply(t, h), "Usage:")
}

func TestAfterFields(t *testing.T) {
	assert.Equal(t, "c  d", afterFields("a b  c  d", 2))
	assert.Equal(t, "", afterFields("a b", 2))
	assert.Equal(t, "", afterFields("a", 3))
}
