package realtime

import (
	"context"
	"sync"
	"time"
)

const (
	// ChannelAdmin carries every ledger event to admin dashboards.
	ChannelAdmin = "admin"

	EventRewardClaimed   = "reward-claimed"
	EventRewardGenerated = "reward-generated"
	EventRewardsExpired  = "rewards-expired"
	EventUsageChanged    = "usage-changed"
	EventMemberChanged   = "member-changed"
	EventHeartbeat       = "heartbeat"

	defaultBufferSize = 32
)

// Message announces that ledger state changed; subscribers refetch the named subjects.
type Message struct {
	Channel   string
	EventType string
	Subjects  []string
	Timestamp time.Time
}

// Publisher is the narrow interface services depend on.
type Publisher interface {
	Publish(message Message)
}

// Dispatcher fans messages out to in-process subscribers of a channel.
// Slow subscribers drop messages instead of blocking publishers.
type Dispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*subscriber
	nextID      int64
	bufferSize  int
}

type subscriber struct {
	id     int64
	stream chan Message
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		subscribers: make(map[string]map[int64]*subscriber),
		bufferSize:  defaultBufferSize,
	}
}

// Subscribe registers a stream for channel until ctx ends or the returned cleanup runs.
func (d *Dispatcher) Subscribe(ctx context.Context, channel string) (<-chan Message, func()) {
	if channel == "" {
		ch := make(chan Message)
		close(ch)
		return ch, func() {}
	}
	sub := &subscriber{
		id:     d.nextSequence(),
		stream: make(chan Message, d.bufferSize),
	}
	d.register(channel, sub)
	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			d.unregister(channel, sub.id)
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return sub.stream, cleanup
}

func (d *Dispatcher) Publish(message Message) {
	if d == nil || message.Channel == "" || message.EventType == "" {
		return
	}
	if message.Timestamp.IsZero() {
		message.Timestamp = time.Now().UTC()
	}
	d.mu.RLock()
	subscribers := d.subscribers[message.Channel]
	if len(subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*subscriber, 0, len(subscribers))
	for _, sub := range subscribers {
		copies = append(copies, sub)
	}
	d.mu.RUnlock()
	for _, sub := range copies {
		select {
		case sub.stream <- message:
		default:
		}
	}
}

// SubscriberCount reports the live subscribers for channel.
func (d *Dispatcher) SubscriberCount(channel string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers[channel])
}

func (d *Dispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *Dispatcher) register(channel string, sub *subscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[channel]; !ok {
		d.subscribers[channel] = make(map[int64]*subscriber)
	}
	d.subscribers[channel][sub.id] = sub
}

func (d *Dispatcher) unregister(channel string, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[channel]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, channel)
		}
	}
	d.mu.Unlock()
}
