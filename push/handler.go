package push

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/code-payments/premium-server/event"
)

const (
	DefaultQueueSize = 256
	sendTimeout      = 10 * time.Second
)

type pushJob struct {
	owner string
	event *event.Event
}

// EventHandler turns premium events into silent data pushes to the owner's
// devices. Pushes are sent from a background worker, so OnEvent never blocks
// the caller.
type EventHandler struct {
	log    *zap.Logger
	sku    string
	pusher Pusher

	mu     sync.RWMutex
	closed bool
	queue  chan pushJob
	done   chan struct{}
}

func NewEventHandler(log *zap.Logger, sku string, pusher Pusher, queueSize int) *EventHandler {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	h := &EventHandler{
		log:    log,
		sku:    sku,
		pusher: pusher,
		queue:  make(chan pushJob, queueSize),
		done:   make(chan struct{}),
	}
	go h.run()
	return h
}

// Listener returns a listener for owner that pushes through this handler.
func (h *EventHandler) Listener(owner string) *event.Emitter {
	return event.NewEmitter(owner, h)
}

func (h *EventHandler) OnEvent(owner string, e *event.Event) {
	if !pushable(e.Kind) {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return
	}

	select {
	case h.queue <- pushJob{owner: owner, event: e}:
	default:
		h.log.Warn("Dropping push, queue is full",
			zap.String("owner", owner),
			zap.Stringer("event", e.Kind),
		)
	}
}

// Close stops accepting events and waits for queued pushes to be sent.
func (h *EventHandler) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		<-h.done
		return
	}
	h.closed = true
	close(h.queue)
	h.mu.Unlock()

	<-h.done
}

func (h *EventHandler) run() {
	defer close(h.done)

	for job := range h.queue {
		h.send(job)
	}
}

func (h *EventHandler) send(job pushJob) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	data := map[string]string{
		"event": job.event.Kind.String(),
		"sku":   h.sku,
	}
	if job.event.Purchase != nil {
		data["order_id"] = job.event.Purchase.OrderID
	}

	if err := h.pusher.SendSilentPushes(ctx, []string{job.owner}, data); err != nil {
		h.log.Warn("Failed to send push",
			zap.String("owner", job.owner),
			zap.Stringer("event", job.event.Kind),
			zap.Error(err),
		)
	}
}

// pushable reports whether devices care about kind. Sku details are only
// meaningful to the requesting client.
func pushable(kind event.Kind) bool {
	switch kind {
	case event.KindShowAds,
		event.KindHideAds,
		event.KindSkuConsumed,
		event.KindPurchaseSuccessful,
		event.KindPurchaseBadResult,
		event.KindPurchaseBadResponse,
		event.KindPurchaseInvalidPayload:
		return true
	default:
		return false
	}
}
