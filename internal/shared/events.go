package shared

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Entity names carried by mutation events.
const (
	EntityPermission = "permission"
	EntityRole       = "role"
	EntityUser       = "user"
	EntityMenuNode   = "menu_node"
	EntitySetting    = "setting"
)

// Event describes a committed mutation on one of the administrative stores.
type Event struct {
	ID         uuid.UUID      `json:"id"`
	Entity     string         `json:"entity"`
	Action     string         `json:"action"`
	EntityID   string         `json:"entity_id"`
	ActorID    int64          `json:"actor_id,omitempty"`
	Meta       map[string]any `json:"meta,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// NewEvent builds an event for a numeric entity id.
func NewEvent(entity, action string, id int64, meta map[string]any) Event {
	return Event{Entity: entity, Action: action, EntityID: strconv.FormatInt(id, 10), Meta: meta}
}

// Publisher exposes store mutations to observers.
type Publisher interface {
	Publish(ctx context.Context, evt Event)
}

// Subscriber reacts to a published event. Errors are logged, never propagated
// back into the mutation that already committed.
type Subscriber func(ctx context.Context, evt Event) error

// Dispatcher fans events out to subscribers synchronously, in subscription order.
type Dispatcher struct {
	mu          sync.RWMutex
	subscribers []namedSubscriber
	logger      *slog.Logger
	now         func() time.Time
}

type namedSubscriber struct {
	name string
	fn   Subscriber
}

// NewDispatcher constructs an empty Dispatcher.
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{logger: logger, now: time.Now}
}

// Subscribe registers fn under name; name only appears in logs.
func (d *Dispatcher) Subscribe(name string, fn Subscriber) {
	if d == nil || fn == nil {
		return
	}
	d.mu.Lock()
	d.subscribers = append(d.subscribers, namedSubscriber{name: name, fn: fn})
	d.mu.Unlock()
}

// Publish stamps the event and delivers it to every subscriber.
func (d *Dispatcher) Publish(ctx context.Context, evt Event) {
	if d == nil {
		return
	}
	if evt.ID == uuid.Nil {
		evt.ID = uuid.New()
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = d.now().UTC()
	}
	if evt.ActorID == 0 {
		if actor, ok := ActorFromContext(ctx); ok {
			evt.ActorID = actor
		}
	}
	d.mu.RLock()
	subs := make([]namedSubscriber, len(d.subscribers))
	copy(subs, d.subscribers)
	d.mu.RUnlock()
	for _, sub := range subs {
		if err := sub.fn(ctx, evt); err != nil {
			d.logger.Warn("event subscriber failed",
				slog.String("subscriber", sub.name),
				slog.String("entity", evt.Entity),
				slog.String("action", evt.Action),
				slog.Any("error", err))
		}
	}
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, Event) {}

// PublisherOrNop returns p, or a publisher discarding events when p is nil.
func PublisherOrNop(p Publisher) Publisher {
	if p == nil {
		return nopPublisher{}
	}
	if d, ok := p.(*Dispatcher); ok && d == nil {
		return nopPublisher{}
	}
	return p
}

// EventRecorder keeps published events in memory. Tests use it to assert hooks.
type EventRecorder struct {
	mu     sync.Mutex
	Events []Event
}

// Publish appends evt.
func (r *EventRecorder) Publish(_ context.Context, evt Event) {
	r.mu.Lock()
	r.Events = append(r.Events, evt)
	r.mu.Unlock()
}

// Actions lists "entity.action" pairs in publish order.
func (r *EventRecorder) Actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.Events))
	for _, evt := range r.Events {
		out = append(out, evt.Entity+"."+evt.Action)
	}
	return out
}
