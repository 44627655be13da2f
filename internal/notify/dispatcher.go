// Package notify delivers one-way reminders triggered by lead lifecycle
// transitions. Delivery to agents (push, SMS, in-app) is handled by
// consumers of the channel and sorted set written here.
package notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Notification is one reminder for one agent about one lead.
type Notification struct {
	AgentID string    `json:"agent_id"`
	LeadID  int64     `json:"lead_id"`
	Kind    string    `json:"kind"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

const (
	KindLeadRecycled     = "lead_recycled"
	KindDeadlineReminder = "recycled_deadline_reminder"
)

// Dispatcher sends notifications now or at a later time. Callers do not
// depend on delivery for correctness.
type Dispatcher interface {
	Immediate(ctx context.Context, n Notification) error
	Schedule(ctx context.Context, n Notification, at time.Time) error
}

const (
	DefaultChannel   = "crm:notifications"
	DefaultScheduled = "crm:notifications:scheduled"
)

// RedisDispatcher publishes immediate notifications on a pub/sub channel and
// stores scheduled ones in a sorted set scored by due time (unix seconds).
type RedisDispatcher struct {
	rdb       redis.Cmdable
	channel   string
	scheduled string
}

func NewRedisDispatcher(rdb redis.Cmdable) *RedisDispatcher {
	return &RedisDispatcher{rdb: rdb, channel: DefaultChannel, scheduled: DefaultScheduled}
}

func (d *RedisDispatcher) Immediate(ctx context.Context, n Notification) error {
	b, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return d.rdb.Publish(ctx, d.channel, b).Err()
}

func (d *RedisDispatcher) Schedule(ctx context.Context, n Notification, at time.Time) error {
	n.At = at
	b, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return d.rdb.ZAdd(ctx, d.scheduled, redis.Z{Score: float64(at.Unix()), Member: string(b)}).Err()
}

// Nop drops everything.
type Nop struct{}

func (Nop) Immediate(context.Context, Notification) error           { return nil }
func (Nop) Schedule(context.Context, Notification, time.Time) error { return nil }

// Recorder keeps notifications in memory for tests.
type Recorder struct {
	mu   sync.Mutex
	Sent []Notification
}

func (r *Recorder) Immediate(_ context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Sent = append(r.Sent, n)
	return nil
}

func (r *Recorder) Schedule(_ context.Context, n Notification, at time.Time) error {
	n.At = at
	return r.Immediate(context.Background(), n)
}

func (r *Recorder) All() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notification, len(r.Sent))
	copy(out, r.Sent)
	return out
}
