package cmdrunner

import (
	"context"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"

	"github.com/anorb/cmdrunner/correlator"
)

// messageWaiters hands incoming messages to whoever is waiting for one
// that satisfies a predicate.
type messageWaiters struct {
	mu     sync.Mutex
	nextID int
	active map[int]*messageWaiter
	now    func() time.Time
}

type messageWaiter struct {
	ws      *messageWaiters
	id      int
	match   func(*discordgo.Message) bool
	created time.Time
	ch      chan *discordgo.Message
}

func newMessageWaiters() *messageWaiters {
	return &messageWaiters{active: make(map[int]*messageWaiter), now: time.Now}
}

// add registers match. The waiter must be registered before the message it
// waits for can arrive.
func (ws *messageWaiters) add(match func(*discordgo.Message) bool) *messageWaiter {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	ws.nextID++
	w := &messageWaiter{
		ws:      ws,
		id:      ws.nextID,
		match:   match,
		created: ws.now(),
		ch:      make(chan *discordgo.Message, 1),
	}
	ws.active[w.id] = w
	return w
}

// offer delivers m to every waiter it satisfies. Each waiter receives at
// most one message.
func (ws *messageWaiters) offer(m *discordgo.Message) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	for id, w := range ws.active {
		if !w.match(m) {
			continue
		}
		w.ch <- m
		delete(ws.active, id)
	}
}

// prune drops waiters older than maxAge and reports how many it removed.
func (ws *messageWaiters) prune(maxAge time.Duration) int {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	cutoff := ws.now().Add(-maxAge)
	n := 0
	for id, w := range ws.active {
		if w.created.Before(cutoff) {
			delete(ws.active, id)
			n++
		}
	}
	return n
}

func (ws *messageWaiters) len() int {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return len(ws.active)
}

func (w *messageWaiter) cancel() {
	w.ws.mu.Lock()
	delete(w.ws.active, w.id)
	w.ws.mu.Unlock()
}

// wait blocks for the first matching message, the timeout or ctx.
func (w *messageWaiter) wait(ctx context.Context, timeout time.Duration) (*discordgo.Message, error) {
	defer w.cancel()
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case m := <-w.ch:
		return m, nil
	case <-t.C:
		select {
		case m := <-w.ch:
			return m, nil
		default:
		}
		return nil, errors.Wrapf(correlator.ErrResponseTimeout, "after %s", timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
