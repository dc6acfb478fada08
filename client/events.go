package client

import (
	"sync"
	"time"
)

// Topic identifies the kind of signal emitted by the client.
type Topic int

const (
	TopicConnectionAcquired Topic = iota
	TopicConnectionClosed
	TopicConnectionRetry
	TopicConnectionTested
	TopicQueryExecuted
	TopicQueryError
	TopicCacheHit
	TopicCacheCleared
	TopicTransactionStarted
	TopicTransactionCommitted
	TopicTransactionRolledBack
	TopicBatchProgress
	TopicMaintenanceBefore
	TopicMaintenanceAfter
)

var topicNames = map[Topic]string{
	TopicConnectionAcquired:    "connection.acquired",
	TopicConnectionClosed:      "connection.closed",
	TopicConnectionRetry:       "connection.retry",
	TopicConnectionTested:      "connection.tested",
	TopicQueryExecuted:         "query.executed",
	TopicQueryError:            "query.error",
	TopicCacheHit:              "cache.hit",
	TopicCacheCleared:          "cache.cleared",
	TopicTransactionStarted:    "transaction.started",
	TopicTransactionCommitted:  "transaction.committed",
	TopicTransactionRolledBack: "transaction.rolled_back",
	TopicBatchProgress:         "batch.progress",
	TopicMaintenanceBefore:     "maintenance.before",
	TopicMaintenanceAfter:      "maintenance.after",
}

// String returns the dotted name of the topic.
func (t Topic) String() string {
	if name, ok := topicNames[t]; ok {
		return name
	}
	return "unknown"
}

// Event is a typed signal. Each payload struct reports its own topic.
type Event interface {
	Topic() Topic
}

// ConnectionEvent covers the connection lifecycle topics.
type ConnectionEvent struct {
	Kind Topic
	// Mode is "pool" or "single".
	Mode string
	// Attempt and Delay are set for retries.
	Attempt int
	Delay   time.Duration
	// Latency is set for connection tests.
	Latency time.Duration
	Err     error
}

func (e ConnectionEvent) Topic() Topic { return e.Kind }

// QueryEvent is emitted after a statement succeeds or fails.
type QueryEvent struct {
	Kind      Topic
	Statement Statement
	RowCount  int64
	Duration  time.Duration
	TraceID   string
	Err       error
}

func (e QueryEvent) Topic() Topic { return e.Kind }

// CacheHitEvent is emitted when a statement is answered from the cache.
type CacheHitEvent struct {
	Statement Statement
	RowCount  int64
}

func (CacheHitEvent) Topic() Topic { return TopicCacheHit }

// CacheClearedEvent reports how many entries were dropped.
type CacheClearedEvent struct {
	Entries int
}

func (CacheClearedEvent) Topic() Topic { return TopicCacheCleared }

// TransactionEvent covers the transaction lifecycle topics.
type TransactionEvent struct {
	Kind          Topic
	TransactionID string
	Duration      time.Duration
	// Err is the cause of a rollback.
	Err error
}

func (e TransactionEvent) Topic() Topic { return e.Kind }

// BatchProgress is emitted after each insert chunk and after each
// BatchProcess window.
type BatchProgress struct {
	CurrentChunk   int
	TotalChunks    int
	ItemsProcessed int
	TotalItems     int
	Percentage     float64
}

func (BatchProgress) Topic() Topic { return TopicBatchProgress }

// MaintenanceEvent brackets DDL pass-through operations.
type MaintenanceEvent struct {
	Kind      Topic
	Operation string
	Object    string
	Statement Statement
	Err       error
}

func (e MaintenanceEvent) Topic() Topic { return e.Kind }

// EventHandler receives events synchronously on the emitting goroutine.
type EventHandler func(Event)

type subscription struct {
	id      uint64
	topics  map[Topic]bool
	handler EventHandler
}

// eventBus delivers events to subscribers in subscription order.
type eventBus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   []subscription
}

func newEventBus() *eventBus {
	return &eventBus{}
}

func (b *eventBus) subscribe(h EventHandler, topics ...Topic) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := subscription{id: b.nextID, handler: h}
	if len(topics) > 0 {
		sub.topics = make(map[Topic]bool, len(topics))
		for _, t := range topics {
			sub.topics[t] = true
		}
	}
	b.subs = append(b.subs, sub)

	id := sub.id
	var once sync.Once
	return func() {
		once.Do(func() { b.unsubscribe(id) })
	}
}

func (b *eventBus) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

func (b *eventBus) emit(e Event) {
	b.mu.RLock()
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	// Handlers run without the lock so they may subscribe or unsubscribe.
	t := e.Topic()
	for _, s := range subs {
		if s.topics == nil || s.topics[t] {
			s.handler(e)
		}
	}
}

// Subscribe registers h for the given topics, or for every topic when none
// are given. The returned function removes the subscription.
func (c *Client) Subscribe(h EventHandler, topics ...Topic) (unsubscribe func()) {
	return c.events.subscribe(h, topics...)
}
