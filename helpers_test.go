package cmdrunner

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/anorb/cmdrunner/slash"
	"github.com/anorb/cmdrunner/store"
)

const (
	testSelf    = "1000"
	testGuild   = "2000"
	testChannel = "3000"
	testBot     = "4000"
)

type sentMessage struct {
	ChannelID string
	Content   string
	ID        string
}

// fakeHost is an in-memory Host.
type fakeHost struct {
	mu      sync.Mutex
	nextID  int
	server  map[string][]*discordgo.ApplicationCommand
	global  map[string][]*discordgo.ApplicationCommand
	names   map[string]string
	invoked []*slash.Interaction
	sent    []sentMessage
	deleted []string
	typing  []string

	invokeErr error
	onInvoke  func(payload *slash.Interaction)
	onSend    func(m *discordgo.Message)
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		server: map[string][]*discordgo.ApplicationCommand{},
		global: map[string][]*discordgo.ApplicationCommand{},
		names:  map[string]string{},
	}
}

func (h *fakeHost) ServerCommands(ctx context.Context, channelID, botID string) ([]*discordgo.ApplicationCommand, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.server[botID], nil
}

func (h *fakeHost) GlobalCommands(ctx context.Context, botID string) ([]*discordgo.ApplicationCommand, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.global[botID], nil
}

func (h *fakeHost) Invoke(ctx context.Context, cmd *slash.Command, payload *slash.Interaction) error {
	if cmd.Scope != slash.ScopeServer {
		return slash.ErrNotInvokable
	}
	h.mu.Lock()
	h.invoked = append(h.invoked, payload)
	err, hook := h.invokeErr, h.onInvoke
	h.mu.Unlock()
	if err == nil && hook != nil {
		hook(payload)
	}
	return err
}

func (h *fakeHost) SelfID() string { return testSelf }
func (h *fakeHost) SessionID() string { return "session" }
func (h *fakeHost) GuildID(channelID string) string { return testGuild }
func (h *fakeHost) ChannelName(channelID string) string { return h.names[channelID] }

func (h *fakeHost) Typing(channelID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.typing = append(h.typing, channelID)
	return nil
}

func (h *fakeHost) Send(channelID, content string) (*discordgo.Message, error) {
	h.mu.Lock()
	h.nextID++
	m := &discordgo.Message{
		ID:        strconv.Itoa(h.nextID),
		ChannelID: channelID,
		Content:   content,
		Author:    &discordgo.User{ID: testSelf},
	}
	h.sent = append(h.sent, sentMessage{ChannelID: channelID, Content: content, ID: m.ID})
	hook := h.onSend
	h.mu.Unlock()
	if hook != nil {
		hook(m)
	}
	return m, nil
}

func (h *fakeHost) Delete(channelID, messageID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.deleted = append(h.deleted, messageID)
	return nil
}

func (h *fakeHost) sentContents() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.sent))
	for _, s := range h.sent {
		out = append(out, s.Content)
	}
	return out
}

// fakePoster answers every interaction with a fixed response.
type fakePoster struct {
	mu       sync.Mutex
	status   int
	body     []byte
	payloads []*slash.Interaction
	onPost   func(payload *slash.Interaction)
}

func (p *fakePoster) PostInteraction(ctx context.Context, payload *slash.Interaction) (int, []byte, error) {
	p.mu.Lock()
	p.payloads = append(p.payloads, payload)
	status, body, hook := p.status, p.body, p.onPost
	p.mu.Unlock()
	if hook != nil {
		hook(payload)
	}
	return status, body, nil
}

func testConfig() Config {
	c := DefaultConfig()
	c.Token = "test"
	c.ResponseTimeout = Duration{300 * time.Millisecond}
	c.DispatchPauseMin = Duration{0}
	c.DispatchPauseMax = Duration{0}
	c.TypingMin = Duration{0}
	c.TypingMax = Duration{0}
	c.ErrorBackoff = Duration{10 * time.Millisecond}
	c.IdleWait = Duration{50 * time.Millisecond}
	return c
}

func newTestRunner(t *testing.T, host *fakeHost, poster *fakePoster) *Runner {
	t.Helper()
	st, err := store.Open(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	cfg := testConfig()
	cfg.DataDir = st.Dir()
	if poster == nil {
		poster = &fakePoster{status: 204}
	}
	r, err := NewRunner(Options{
		Config:     cfg,
		Host:       host,
		Store:      st,
		Log:        zerolog.Nop(),
		Poster:     poster,
		Registerer: prometheus.NewRegistry(),
	})
	require.NoError(t, err)
	t.Cleanup(r.Close)
	return r
}

// quiet is humanization with every delay off.
func quiet() store.Humanization {
	return store.Humanization{}
}

func addChannel(t *testing.T, r *Runner, channelID string, jobs ...*store.Job) {
	t.Helper()
	require.NoError(t, r.store.UpdateChannels(func(c *store.Channels) error {
		c.Channels[channelID] = &store.ChannelConfig{Commands: jobs, Humanization: quiet()}
		return nil
	}))
}

func lastUsed(r *Runner, channelID, name string) (float64, bool) {
	var (
		v  float64
		ok bool
	)
	r.store.View(func(_ *store.Channels, st *store.RunState) {
		v, ok = st.LastUsed[store.LastUsedKey(channelID, name)]
	})
	return v, ok
}

func jobAt(r *Runner, channelID string, i int) store.Job {
	var j store.Job
	r.store.View(func(c *store.Channels, _ *store.RunState) {
		j = cloneJob(c.Channels[channelID].Commands[i])
	})
	return j
}

func counterValue(t *testing.T, c prometheus.Collector) float64 {
	t.Helper()
	ch := make(chan prometheus.Metric, 1)
	c.Collect(ch)
	var m dto.Metric
	require.NoError(t, (<-ch).Write(&m))
	return m.GetCounter().GetValue()
}

func botReply(channelID, botID string) *discordgo.Message {
	return &discordgo.Message{
		ID:        "reply",
		ChannelID: channelID,
		Author:    &discordgo.User{ID: botID, Bot: true},
	}
}

func interactionReply(channelID, botID, command string) *discordgo.Message {
	m := botReply(channelID, botID)
	m.Interaction = &discordgo.MessageInteraction{
		Name: command,
		User: &discordgo.User{ID: testSelf},
	}
	return m
}

func unknownIntegrationBody() []byte {
	b, _ := json.Marshal(map[string]interface{}{"code": 10005, "message": "Unknown Integration"})
	return b
}
