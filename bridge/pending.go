package bridge

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/WepinWallet/wepin-widget-sdk-go/wepinerr"
)

// DefaultReplyTimeout bounds how long a round trip waits for the widget.
const DefaultReplyTimeout = 5 * time.Minute

// ErrWaitTimeout is wrapped by the outcome of a wait that timed out.
var ErrWaitTimeout = errors.New("bridge: timed out waiting for widget")

// maxRetired bounds how many abandoned request ids are remembered so their
// late replies can be dropped.
const maxRetired = 64

// Channel separates independent kinds of waits.
type Channel string

const (
	// ChannelLogin completes when the widget stores user_info.
	ChannelLogin Channel = "login"
	// ChannelCommand completes when the widget answers a mailbox request.
	ChannelCommand Channel = "command"
)

type waitKey struct {
	channel Channel
	id      MessageID
}

type pendingWait struct {
	key waitKey
	cmd Command
	seq uint64
	ch  chan Outcome
}

// accepts reports whether a reply to cmd can complete w. A wait registered
// without a command accepts any reply on its channel.
func (w *pendingWait) accepts(cmd Command) bool {
	return w.cmd == "" || w.cmd == cmd
}

// PendingTable correlates widget replies with the round trips waiting for
// them. Waits are indexed by channel and request id, so concurrent round
// trips on one channel do not orphan each other.
type PendingTable struct {
	timeout time.Duration

	mu    sync.Mutex
	waits map[waitKey]*pendingWait
	seq   uint64

	// retired holds ids of waits that timed out or were cancelled, oldest first.
	retired      map[waitKey]struct{}
	retiredOrder []waitKey
}

// NewPendingTable creates a table. A timeout <= 0 uses DefaultReplyTimeout.
func NewPendingTable(timeout time.Duration) *PendingTable {
	if timeout <= 0 {
		timeout = DefaultReplyTimeout
	}
	return &PendingTable{
		timeout: timeout,
		waits:   make(map[waitKey]*pendingWait),
		retired: make(map[waitKey]struct{}),
	}
}

// Wait is a registered, not yet awaited, pending reply.
type Wait struct {
	table *PendingTable
	w     *pendingWait
}

// Register creates a wait on channel for the request id carrying cmd. An
// empty cmd accepts a reply to any command. Registering an id that is
// already waiting replaces the earlier wait, which ends as cancelled.
func (t *PendingTable) Register(channel Channel, id MessageID, cmd Command) *Wait {
	w := &pendingWait{
		key: waitKey{channel: channel, id: id},
		cmd: cmd,
		ch:  make(chan Outcome, 1),
	}

	t.mu.Lock()
	t.seq++
	w.seq = t.seq
	old := t.waits[w.key]
	t.waits[w.key] = w
	delete(t.retired, w.key)
	t.mu.Unlock()

	if old != nil {
		old.ch <- Fail(wepinerr.New(wepinerr.UserCancelled, "superseded by a newer request"))
	}
	return &Wait{table: t, w: w}
}

// Await blocks until the wait is resolved, the table timeout passes or ctx
// ends. A timeout or an ended ctx is a failure, not a cancellation: only the
// widget or an explicit close cancels. The entry is gone from the table when
// Await returns.
func (w *Wait) Await(ctx context.Context) Outcome {
	timer := time.NewTimer(w.table.timeout)
	defer timer.Stop()

	select {
	case o := <-w.w.ch:
		return o
	case <-timer.C:
		w.table.retire(w.w)
		log.Warn().
			Str("channel", string(w.w.key.channel)).
			Str("id", string(w.w.key.id)).
			Dur("timeout", w.table.timeout).
			Msg("Widget reply timed out")
		return Fail(&wepinerr.Error{Kind: wepinerr.Unknown, Detail: "no reply from widget", Err: ErrWaitTimeout})
	case <-ctx.Done():
		w.table.retire(w.w)
		return Fail(&wepinerr.Error{Kind: wepinerr.Unknown, Detail: "stopped waiting for widget", Err: ctx.Err()})
	}
}

// Cancel drops a wait that will never be awaited.
func (w *Wait) Cancel() {
	w.table.retire(w.w)
}

// retire removes w and remembers its id so a late reply is not handed to a
// newer wait.
func (t *PendingTable) retire(w *pendingWait) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.waits[w.key]; ok && cur == w {
		delete(t.waits, w.key)
	}
	t.retireLocked(w.key)
}

func (t *PendingTable) retireLocked(key waitKey) {
	if key.id == "" {
		return
	}
	if _, ok := t.retired[key]; ok {
		return
	}
	t.retired[key] = struct{}{}
	t.retiredOrder = append(t.retiredOrder, key)
	for len(t.retiredOrder) > maxRetired {
		delete(t.retired, t.retiredOrder[0])
		t.retiredOrder = t.retiredOrder[1:]
	}
}

// Resolve completes the wait on channel registered for id with a reply to
// cmd. When no wait has that id, the most recently registered wait on the
// channel for the same command is completed instead. Replies for ids that
// timed out or were cancelled are dropped. Resolved waits leave the table,
// so a repeated message is a no-op.
func (t *PendingTable) Resolve(channel Channel, id MessageID, cmd Command, o Outcome) bool {
	key := waitKey{channel: channel, id: id}

	t.mu.Lock()
	w, ok := t.waits[key]
	if !ok || !w.accepts(cmd) {
		w = nil
		if _, late := t.retired[key]; late {
			t.mu.Unlock()
			log.Debug().
				Str("channel", string(channel)).
				Str("id", string(id)).
				Str("command", string(cmd)).
				Msg("Dropping reply for abandoned wait")
			return false
		}
		for _, cand := range t.waits {
			if cand.key.channel == channel && cand.accepts(cmd) && (w == nil || cand.seq > w.seq) {
				w = cand
			}
		}
	}
	if w != nil {
		delete(t.waits, w.key)
	}
	t.mu.Unlock()

	if w == nil {
		log.Debug().
			Str("channel", string(channel)).
			Str("id", string(id)).
			Str("command", string(cmd)).
			Msg("No pending wait for reply")
		return false
	}
	w.ch <- o
	return true
}

// CancelAll ends every outstanding wait as cancelled. Called on surface teardown.
func (t *PendingTable) CancelAll() int {
	t.mu.Lock()
	waits := t.waits
	t.waits = make(map[waitKey]*pendingWait)
	for key := range waits {
		t.retireLocked(key)
	}
	t.mu.Unlock()

	for _, w := range waits {
		w.ch <- Fail(wepinerr.New(wepinerr.UserCancelled, "widget closed"))
	}
	return len(waits)
}

// Len returns the number of outstanding waits.
func (t *PendingTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.waits)
}
