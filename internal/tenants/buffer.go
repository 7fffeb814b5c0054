package tenants

import (
	"log/slog"
	"time"

	"github.com/mFahadNoor/whop-ai-support-sub000/internal/bus"
	"github.com/mFahadNoor/whop-ai-support-sub000/internal/retry"
)

// pendingQueue holds messages for one channel group awaiting a mapping.
type pendingQueue struct {
	msgs    []bus.InboundMessage
	attempt int
	timer   *time.Timer
}

// BufferMessage parks msg until its channel group resolves. The queue is
// bounded (oldest dropped) and retried with exponential backoff; when the
// attempt budget runs out the whole queue is dropped.
func (r *Resolver) BufferMessage(msg bus.InboundMessage) bool {
	cg := msg.ChannelGroupID

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return false
	}
	q, ok := r.pending[cg]
	if !ok {
		q = &pendingQueue{}
		r.pending[cg] = q
	}
	q.msgs = append(q.msgs, msg)
	if over := len(q.msgs) - r.cfg.Size; over > 0 {
		slog.Warn("pending buffer full, dropping oldest",
			"channel_group_id", cg, "dropped", over, "size", r.cfg.Size)
		q.msgs = append([]bus.InboundMessage(nil), q.msgs[over:]...)
	}
	if q.timer == nil {
		r.scheduleLocked(cg, q)
	}
	tenantID, known := r.mappings[cg]
	r.mu.Unlock()

	slog.Debug("message buffered awaiting tenant mapping",
		"channel_group_id", cg, "entity_id", msg.EntityID)

	// The mapping may have landed between the caller's Resolve and now.
	if known {
		r.publish(bus.MappingEvent{ChannelGroupID: cg, TenantID: tenantID})
	}
	return true
}

// TakeBuffered removes and returns every message buffered for the channel
// group, stopping its retry timer. A second call returns nil, so each
// buffered message is handed out once.
func (r *Resolver) TakeBuffered(channelGroupID string) []bus.InboundMessage {
	r.mu.Lock()
	defer r.mu.Unlock()

	q, ok := r.pending[channelGroupID]
	if !ok {
		return nil
	}
	if q.timer != nil {
		q.timer.Stop()
	}
	delete(r.pending, channelGroupID)
	return q.msgs
}

// PendingCount returns the number of buffered messages across all channel groups.
func (r *Resolver) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, q := range r.pending {
		n += len(q.msgs)
	}
	return n
}

func (r *Resolver) scheduleLocked(cg string, q *pendingQueue) {
	delay := retry.Backoff(r.cfg.BaseDelay, r.cfg.MaxDelay, q.attempt)
	q.timer = time.AfterFunc(delay, func() { r.retryPending(cg) })
}

// retryPending is one backoff tick for a channel group's queue.
func (r *Resolver) retryPending(cg string) {
	r.mu.Lock()
	q, ok := r.pending[cg]
	if !ok || r.closed {
		r.mu.Unlock()
		return
	}
	q.timer = nil
	tenantID, known := r.mappings[cg]
	r.mu.Unlock()

	if known {
		if r.publish(bus.MappingEvent{ChannelGroupID: cg, TenantID: tenantID}) {
			return
		}
	} else if tenantID, found := r.lookupStore(cg); found {
		if _, published := r.register(cg, tenantID, false); published {
			return
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	q, ok = r.pending[cg]
	if !ok || r.closed || q.timer != nil {
		return
	}
	q.attempt++
	if q.attempt >= r.cfg.MaxAttempts {
		delete(r.pending, cg)
		slog.Warn("tenant mapping not found, dropping buffered messages",
			"channel_group_id", cg, "dropped", len(q.msgs), "attempts", q.attempt)
		return
	}
	r.scheduleLocked(cg, q)
}
