package dataservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/noah-isme/school-admin-api/pkg/jobs"
)

// ErrNotificationsDisabled is returned by Subscribe when the client has no notifier.
var ErrNotificationsDisabled = errors.New("dataservice: change notifications are disabled")

// Event is a row change type as published by the table triggers.
type Event string

const (
	EventInsert Event = "INSERT"
	EventUpdate Event = "UPDATE"
	EventDelete Event = "DELETE"
	EventAll    Event = "*"
	// EventResync is delivered to every subscription after the listener reconnects,
	// since notifications sent while disconnected are lost.
	EventResync Event = "RESYNC"
)

// Change is the decoded notification payload: {"table": ..., "type": ..., "record": {...}}.
type Change struct {
	Table  string          `json:"table"`
	Type   Event           `json:"type"`
	Record json.RawMessage `json:"record,omitempty"`
}

// ChangeHandler reacts to a change. Handlers run one at a time.
type ChangeHandler func(ctx context.Context, change Change) error

// Subscription is a registered change handler.
type Subscription struct {
	id      string
	Table   string
	Event   Event
	handler ChangeHandler
}

func (s *Subscription) matches(change Change) bool {
	if change.Type == EventResync {
		return true
	}
	if s.Table != change.Table {
		return false
	}
	return s.Event == EventAll || s.Event == change.Type
}

type listener interface {
	Listen(channel string) error
	Close() error
	NotificationChannel() <-chan *pq.Notification
}

// Failed handlers are retried with exponential backoff starting at handlerRetryDelay.
// Retried deliveries go to the back of the queue; handlers must be idempotent.
var (
	handlerRetries    = 3
	handlerRetryDelay = 500 * time.Millisecond
)

// NotifierConfig configures the LISTEN connection.
type NotifierConfig struct {
	DSN          string
	Channel      string
	MinReconnect time.Duration
	MaxReconnect time.Duration
	Logger       *zap.Logger
}

type delivery struct {
	sub    *Subscription
	change Change
}

// Notifier fans PostgreSQL NOTIFY payloads out to subscriptions through a single-worker queue.
type Notifier struct {
	channel  string
	listener listener
	queue    *jobs.Queue
	logger   *zap.Logger

	mu   sync.RWMutex
	subs map[string]*Subscription

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewNotifier opens a pq.Listener for the configured channel.
func NewNotifier(cfg NotifierConfig) *Notifier {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MinReconnect <= 0 {
		cfg.MinReconnect = 10 * time.Second
	}
	if cfg.MaxReconnect < cfg.MinReconnect {
		cfg.MaxReconnect = cfg.MinReconnect
	}
	l := pq.NewListener(cfg.DSN, cfg.MinReconnect, cfg.MaxReconnect, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			logger.Warn("change listener event", zap.Int("event", int(ev)), zap.Error(err))
		}
	})
	return newNotifier(l, cfg.Channel, logger)
}

func newNotifier(l listener, channel string, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if channel == "" {
		channel = "table_changes"
	}
	n := &Notifier{
		channel:  channel,
		listener: l,
		logger:   logger,
		subs:     make(map[string]*Subscription),
	}
	n.queue = jobs.NewQueue("change-notifications", n.handle, jobs.QueueConfig{
		Workers:    1,
		BufferSize: 256,
		MaxRetries: handlerRetries,
		RetryDelay: handlerRetryDelay,
		Logger:     logger,
	})
	return n
}

// Subscribe registers handler for changes on table.
func (n *Notifier) Subscribe(table string, event Event, handler ChangeHandler) (*Subscription, error) {
	if !validIdentifier(table) || handler == nil {
		return nil, ErrInvalidQuery
	}
	if event == "" {
		event = EventAll
	}
	sub := &Subscription{id: uuid.NewString(), Table: table, Event: Event(strings.ToUpper(string(event))), handler: handler}
	n.mu.Lock()
	n.subs[sub.id] = sub
	n.mu.Unlock()
	return sub, nil
}

// Unsubscribe removes the subscription; queued deliveries for it are dropped.
func (n *Notifier) Unsubscribe(sub *Subscription) {
	n.mu.Lock()
	delete(n.subs, sub.id)
	n.mu.Unlock()
}

// Start listens on the channel and begins dispatching.
func (n *Notifier) Start(ctx context.Context) error {
	if err := n.listener.Listen(n.channel); err != nil {
		return err
	}
	ctx, n.cancel = context.WithCancel(ctx)
	n.queue.Start(ctx)
	n.wg.Add(1)
	go n.loop(ctx)
	n.logger.Info("change listener started", zap.String("channel", n.channel))
	return nil
}

// Stop halts dispatching and closes the listener connection.
func (n *Notifier) Stop() {
	if n.cancel != nil {
		n.cancel()
	}
	n.wg.Wait()
	n.queue.Stop()
	if err := n.listener.Close(); err != nil {
		n.logger.Warn("close change listener", zap.Error(err))
	}
}

func (n *Notifier) loop(ctx context.Context) {
	defer n.wg.Done()
	notifications := n.listener.NotificationChannel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-notifications:
			if !ok {
				return
			}
			if msg == nil {
				n.dispatch(Change{Type: EventResync})
				continue
			}
			var change Change
			if err := json.Unmarshal([]byte(msg.Extra), &change); err != nil {
				n.logger.Warn("discarding malformed change payload", zap.String("channel", msg.Channel), zap.Error(err))
				continue
			}
			change.Type = Event(strings.ToUpper(string(change.Type)))
			n.dispatch(change)
		}
	}
}

func (n *Notifier) dispatch(change Change) {
	n.mu.RLock()
	matched := make([]*Subscription, 0, len(n.subs))
	for _, sub := range n.subs {
		if sub.matches(change) {
			matched = append(matched, sub)
		}
	}
	n.mu.RUnlock()

	for _, sub := range matched {
		job := jobs.Job{ID: uuid.NewString(), Type: string(change.Type), Payload: delivery{sub: sub, change: change}}
		if err := n.queue.Enqueue(job); err != nil {
			n.logger.Warn("drop change notification", zap.String("table", change.Table), zap.Error(err))
		}
	}
}

func (n *Notifier) handle(ctx context.Context, job jobs.Job) error {
	d, ok := job.Payload.(delivery)
	if !ok {
		return nil
	}
	n.mu.RLock()
	_, active := n.subs[d.sub.id]
	n.mu.RUnlock()
	if !active {
		return nil
	}
	if err := d.sub.handler(ctx, d.change); err != nil {
		return fmt.Errorf("%s %s handler: %w", d.sub.Table, d.change.Type, err)
	}
	return nil
}
