// Package distrib pushes local state changes to the relay: per-category
// update envelopes with duplicate suppression, and batched composite
// snapshots for peers that just came online.
package distrib

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Project-GagSpeak/gagspeak-client/internal/proto"
	"github.com/Project-GagSpeak/gagspeak-client/internal/wardrobe"
)

// Pusher is the slice of the relay client the distributor uses.
type Pusher interface {
	PushCategoryUpdate(ctx context.Context, upd proto.CategoryUpdate) error
	PushCompositeState(ctx context.Context, state proto.CompositeState, recipients []string) error
	PushEphemeral(ctx context.Context, upd proto.EphemeralUpdate, recipients []string) error
}

// SnapshotSource supplies the full local snapshot for composite pushes, the
// drained set of peers waiting for one, and the visible audience for
// ephemeral pushes.
type SnapshotSource interface {
	Composite() proto.CompositeState
	DrainCompositeRequests() []string
	VisibleUIDs() []string
}

// Distributor serializes outbound pushes through one consumer goroutine,
// preserving the local commit order per category. Delivery is best effort;
// failures are logged and covered by the reconnect resync.
type Distributor struct {
	log    *zap.SugaredLogger
	relay  Pusher
	source SnapshotSource

	mu       sync.Mutex
	lastSent map[proto.Category][]byte
	enabled  bool
	stopped  bool

	queue  chan work
	done   chan struct{}
	closed sync.Once
}

type work struct {
	update     *proto.CategoryUpdate
	composite  *proto.CompositeState
	ephemeral  *proto.EphemeralUpdate
	recipients []string
}

func New(relay Pusher, source SnapshotSource, log *zap.SugaredLogger) *Distributor {
	d := &Distributor{
		log:      log,
		relay:    relay,
		source:   source,
		lastSent: make(map[proto.Category][]byte),
		queue:    make(chan work, 128),
		done:     make(chan struct{}),
	}
	go d.consume()
	return d
}

// SetEnabled gates outbound traffic on the session state. While disabled,
// local changes are dropped; the post-reconnect resync covers the gap.
func (d *Distributor) SetEnabled(enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enabled = enabled
	if !enabled {
		// Stale equality baselines would suppress real pushes after resync.
		d.lastSent = make(map[proto.Category][]byte)
	}
}

// OnLocalChange forwards one committed store mutation. The payload is the
// category snapshot carried on the change event; byte equality against the
// last sent payload for that category skips the network call entirely.
func (d *Distributor) OnLocalChange(ev wardrobe.ChangeEvent) {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		d.log.Errorw("change payload marshal failed", "category", ev.Update.Category, "error", err)
		return
	}

	d.mu.Lock()
	if !d.enabled {
		d.mu.Unlock()
		return
	}
	if last, ok := d.lastSent[ev.Update.Category]; ok && bytes.Equal(last, payload) {
		d.mu.Unlock()
		d.log.Debugw("duplicate payload suppressed", "category", ev.Update.Category)
		return
	}
	d.lastSent[ev.Update.Category] = payload
	d.mu.Unlock()

	upd := ev.Update
	d.enqueue(work{update: &upd})
}

// Drain empties the needs-full-snapshot set into one composite push per
// batch. Called once per host tick.
func (d *Distributor) Drain() {
	d.mu.Lock()
	enabled := d.enabled
	d.mu.Unlock()
	if !enabled {
		return
	}

	recipients := d.source.DrainCompositeRequests()
	if len(recipients) == 0 {
		return
	}
	state := d.source.Composite()
	d.enqueue(work{composite: &state, recipients: recipients})
}

// PushUpdate queues a server-bound request envelope, bypassing the
// duplicate guard. Used for expiry-sweep unlock requests, which mutate no
// local state and therefore never change the category payload.
func (d *Distributor) PushUpdate(upd proto.CategoryUpdate) {
	d.mu.Lock()
	enabled := d.enabled
	d.mu.Unlock()
	if !enabled {
		return
	}
	d.enqueue(work{update: &upd})
}

// PushComposite queues an explicit full-snapshot push, used for the
// post-reconnect resync. Empty recipients means all online pairs.
func (d *Distributor) PushComposite(recipients []string) {
	state := d.source.Composite()
	d.enqueue(work{composite: &state, recipients: recipients})
}

// PushEphemeral sends transient host data to the peers who can currently
// see the local character. The audience is resolved at enqueue time; with
// nobody visible the update is dropped, not queued.
func (d *Distributor) PushEphemeral(upd proto.EphemeralUpdate) {
	d.mu.Lock()
	enabled := d.enabled
	d.mu.Unlock()
	if !enabled {
		return
	}
	recipients := d.source.VisibleUIDs()
	if len(recipients) == 0 {
		return
	}
	d.enqueue(work{ephemeral: &upd, recipients: recipients})
}

// enqueue hands one work item to the consumer. Sends hold the mutex so no
// item can race the queue close; work arriving after Close is dropped.
func (d *Distributor) enqueue(w work) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	select {
	case d.queue <- w:
	default:
		d.log.Warnw("outbound queue full, work dropped", "composite", w.composite != nil)
	}
}

// Close stops the consumer after the queue drains. Later pushes no-op.
func (d *Distributor) Close() {
	d.closed.Do(func() {
		d.mu.Lock()
		d.stopped = true
		d.mu.Unlock()
		close(d.queue)
		<-d.done
	})
}

func (d *Distributor) consume() {
	defer close(d.done)
	for w := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		switch {
		case w.update != nil:
			if err := d.relay.PushCategoryUpdate(ctx, *w.update); err != nil {
				d.log.Errorw("category push failed", "category", w.update.Category, "error", err)
			}
		case w.composite != nil:
			if err := d.relay.PushCompositeState(ctx, *w.composite, w.recipients); err != nil {
				d.log.Errorw("composite push failed", "recipients", len(w.recipients), "error", err)
			}
		case w.ephemeral != nil:
			if err := d.relay.PushEphemeral(ctx, *w.ephemeral, w.recipients); err != nil {
				d.log.Errorw("ephemeral push failed", "recipients", len(w.recipients), "error", err)
			}
		}
		cancel()
	}
}
