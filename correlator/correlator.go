// Package correlator pairs dispatched commands with the bot messages that
// answer them.
package correlator

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
)

var (
	// ErrResponseTimeout means no matching bot message arrived in time.
	ErrResponseTimeout = errors.New("no response within timeout")
	// ErrAlreadyPending means the channel already has an open expectation.
	ErrAlreadyPending = errors.New("a response is already pending for this channel")
)

// Entry is an open expectation that BotID will answer Command in ChannelID.
type Entry struct {
	ChannelID  string
	Command    string
	BotID      string
	Args       string
	Registered time.Time
	// SoftErr is a dispatch failure that did not end the wait, such as an
	// unknown integration answer. It is reported instead of a plain timeout.
	SoftErr error
}

// Match is a resolved expectation.
type Match struct {
	Entry   Entry
	Message *discordgo.Message
	Elapsed time.Duration
}

// Matcher decides whether m answers e. Author and channel are already
// checked when a Matcher runs.
type Matcher interface {
	Match(e *Entry, m *discordgo.Message) bool
}

// MatcherFunc adapts a function to Matcher.
type MatcherFunc func(e *Entry, m *discordgo.Message) bool

func (f MatcherFunc) Match(e *Entry, m *discordgo.Message) bool { return f(e, m) }

// InteractionMatcher accepts replies whose interaction metadata names the
// pending command and was invoked by selfID.
func InteractionMatcher(selfID func() string) Matcher {
	return MatcherFunc(func(e *Entry, m *discordgo.Message) bool {
		in := m.Interaction
		if in == nil || in.User == nil {
			return false
		}
		return in.User.ID == selfID() && in.Name == e.Command
	})
}

// PhraseMatcher accepts replies whose first embed description contains one
// of phrases, compared case-insensitively. It is a heuristic for bots that
// answer without interaction metadata.
func PhraseMatcher(phrases ...string) Matcher {
	lowered := make([]string, len(phrases))
	for i, p := range phrases {
		lowered[i] = strings.ToLower(p)
	}
	return MatcherFunc(func(e *Entry, m *discordgo.Message) bool {
		if len(m.Embeds) == 0 || m.Embeds[0] == nil {
			return false
		}
		desc := strings.ToLower(m.Embeds[0].Description)
		for _, p := range lowered {
			if strings.Contains(desc, p) {
				return true
			}
		}
		return false
	})
}

// CooldownReplyMatcher recognises the cooldown-style embeds of common
// economy bots.
func CooldownReplyMatcher() Matcher {
	return PhraseMatcher("you can next", "you cannot")
}

type pending struct {
	Entry
	done chan Match
}

// Table holds at most one pending entry per channel.
type Table struct {
	mu       sync.Mutex
	pending  map[string]*pending
	matchers []Matcher
	log      zerolog.Logger

	// Now is the clock; tests replace it.
	Now func() time.Time
}

// New returns an empty table using matchers in order.
func New(log zerolog.Logger, matchers ...Matcher) *Table {
	return &Table{
		pending:  make(map[string]*pending),
		matchers: matchers,
		log:      log,
		Now:      time.Now,
	}
}

// Waiter is returned by Register and resolves exactly once.
type Waiter struct {
	t *Table
	p *pending
}

// Register opens an expectation for e.ChannelID.
func (t *Table) Register(e Entry) (*Waiter, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.pending[e.ChannelID]; ok {
		return nil, errors.Wrapf(ErrAlreadyPending, "channel %s", e.ChannelID)
	}
	if e.Registered.IsZero() {
		e.Registered = t.Now()
	}
	p := &pending{Entry: e, done: make(chan Match, 1)}
	t.pending[e.ChannelID] = p
	return &Waiter{t: t, p: p}, nil
}

// MarkSoftError records err on the channel's entry without resolving it.
func (t *Table) MarkSoftError(channelID string, err error) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.pending[channelID]
	if !ok {
		return false
	}
	p.SoftErr = err
	return true
}

// Cancel drops the channel's entry.
func (t *Table) Cancel(channelID string) (Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.pending[channelID]
	if !ok {
		return Entry{}, false
	}
	delete(t.pending, channelID)
	return p.Entry, true
}

// Observe offers an inbound message. Only bot-authored messages from the
// pending entry's bot in the same channel are considered.
func (t *Table) Observe(m *discordgo.Message) (Match, bool) {
	if m == nil || m.Author == nil || !m.Author.Bot {
		return Match{}, false
	}

	t.mu.Lock()
	p, ok := t.pending[m.ChannelID]
	if !ok || p.BotID != m.Author.ID || !t.matches(&p.Entry, m) {
		t.mu.Unlock()
		return Match{}, false
	}
	delete(t.pending, m.ChannelID)
	elapsed := t.Now().Sub(p.Registered)
	if elapsed < 0 {
		elapsed = 0
	}
	match := Match{Entry: p.Entry, Message: m, Elapsed: elapsed}
	p.done <- match
	t.mu.Unlock()

	t.log.Debug().Str("channel_id", m.ChannelID).Str("command", p.Command).Dur("elapsed", elapsed).Msg("response matched")
	return match, true
}

func (t *Table) matches(e *Entry, m *discordgo.Message) bool {
	for _, mt := range t.matchers {
		if mt.Match(e, m) {
			return true
		}
	}
	return false
}

// Sweep drops entries registered more than maxAge ago and returns them
// ordered by channel.
func (t *Table) Sweep(maxAge time.Duration) []Entry {
	now := t.Now()

	t.mu.Lock()
	var stale []Entry
	for id, p := range t.pending {
		if now.Sub(p.Registered) > maxAge {
			stale = append(stale, p.Entry)
			delete(t.pending, id)
		}
	}
	t.mu.Unlock()

	sort.Slice(stale, func(i, j int) bool { return stale[i].ChannelID < stale[j].ChannelID })
	return stale
}

// Len reports the number of open entries.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Entry returns a snapshot of the waiter's entry.
func (w *Waiter) Entry() Entry {
	w.t.mu.Lock()
	defer w.t.mu.Unlock()
	return w.p.Entry
}

// Wait blocks until the entry is matched, timeout elapses or ctx ends. On
// timeout an entry carrying a soft error returns that error instead of
// ErrResponseTimeout.
func (w *Waiter) Wait(ctx context.Context, timeout time.Duration) (Match, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case m := <-w.p.done:
		return m, nil
	case <-timer.C:
	case <-ctx.Done():
		w.release()
		return Match{}, ctx.Err()
	}

	// A match may have landed right at the deadline.
	select {
	case m := <-w.p.done:
		return m, nil
	default:
	}

	e := w.release()
	if e.SoftErr != nil {
		return Match{Entry: e}, errors.Wrap(e.SoftErr, "no response")
	}
	return Match{Entry: e}, errors.Wrapf(ErrResponseTimeout, "/%s after %s", e.Command, timeout)
}

func (w *Waiter) release() Entry {
	w.t.mu.Lock()
	defer w.t.mu.Unlock()
	if cur, ok := w.t.pending[w.p.ChannelID]; ok && cur == w.p {
		delete(w.t.pending, w.p.ChannelID)
	}
	return w.p.Entry
}
