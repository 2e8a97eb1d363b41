// Package redis fans mount lifecycle events out over Redis pub/sub.
//
// The Publisher is a registry listener: every mounted/unmounted broadcast of
// the tracker is also published, as JSON, on a Redis channel so that
// processes outside the bus (dashboards, other hosts) can follow the mount
// table. Follow consumes that channel.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/marmos91/dittovfs/internal/logger"
	"github.com/marmos91/dittovfs/pkg/registry"
	"github.com/marmos91/dittovfs/pkg/vfs"
	"github.com/redis/go-redis/v9"
)

// DefaultChannel is the pub/sub channel used when none is configured.
const DefaultChannel = "dittovfs/mounts"

const queueSize = 256

var ErrConnectionIssue = errors.New("redis connection issue")

// Config configures the Redis event fan-out.
type Config struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Address  string `mapstructure:"address" yaml:"address" validate:"required_if=Enabled true"`
	Password string `mapstructure:"password" yaml:"password,omitempty"`
	DB       int    `mapstructure:"db" yaml:"db" validate:"gte=0"`
	Channel  string `mapstructure:"channel" yaml:"channel"`
}

// NewClient connects to Redis and checks the connection.
func NewClient(ctx context.Context, config Config) (redis.UniversalClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Address,
		Password: config.Password,
		DB:       config.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %s", ErrConnectionIssue, err)
	}
	return client, nil
}

// Event is the JSON document published for each lifecycle change.
type Event struct {
	Type  string    `json:"type"`
	Mount Mount     `json:"mount"`
	Time  time.Time `json:"time"`
}

// Mount is the published view of a mount record.
type Mount struct {
	DisplayName string `json:"display_name"`
	Icon        string `json:"icon,omitempty"`
	OwnerID     string `json:"owner_id"`
	ObjectPath  string `json:"object_path"`
	Spec        string `json:"spec"`
}

func newEvent(kind vfs.MountEventKind, rec *vfs.MountRecord) *Event {
	return &Event{
		Type: kind.String(),
		Mount: Mount{
			DisplayName: rec.DisplayName,
			Icon:        rec.Icon,
			OwnerID:     rec.OwnerID,
			ObjectPath:  rec.ObjectPath,
			Spec:        rec.Spec.String(),
		},
		Time: time.Now().UTC(),
	}
}

// Publisher publishes registry events to a Redis channel.
//
// Registry listeners run under the registry lock, so Mounted and Unmounted
// only enqueue; a single worker publishes in order. Events are dropped (and
// logged) when the queue is full.
type Publisher struct {
	rdb     redis.UniversalClient
	channel string
	timeout time.Duration

	mu     sync.Mutex
	closed bool
	queue  chan *Event
	done   chan struct{}
}

var _ registry.Listener = (*Publisher)(nil)

// NewPublisher starts a publisher on rdb. An empty channel defaults to
// DefaultChannel.
func NewPublisher(rdb redis.UniversalClient, channel string) *Publisher {
	if channel == "" {
		channel = DefaultChannel
	}
	p := &Publisher{
		rdb:     rdb,
		channel: channel,
		timeout: 5 * time.Second,
		queue:   make(chan *Event, queueSize),
		done:    make(chan struct{}),
	}
	go p.run()
	return p
}

// Channel returns the channel events are published on.
func (p *Publisher) Channel() string {
	return p.channel
}

func (p *Publisher) Mounted(rec *vfs.MountRecord) {
	p.enqueue(newEvent(vfs.MountAdded, rec))
}

func (p *Publisher) Unmounted(rec *vfs.MountRecord) {
	p.enqueue(newEvent(vfs.MountRemoved, rec))
}

func (p *Publisher) enqueue(ev *Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		logger.Debug("Redis publisher closed, dropping %s event for %s", ev.Type, ev.Mount.ObjectPath)
		return
	}
	select {
	case p.queue <- ev:
	default:
		logger.Warn("Redis publisher queue full, dropping %s event for %s", ev.Type, ev.Mount.ObjectPath)
	}
}

func (p *Publisher) run() {
	defer close(p.done)
	for ev := range p.queue {
		p.publish(ev)
	}
}

func (p *Publisher) publish(ev *Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		logger.Error("Failed to serialize %s event: %v", ev.Type, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	if err := p.rdb.Publish(ctx, p.channel, payload).Err(); err != nil {
		logger.Warn("Failed to publish %s event for %s: %v", ev.Type, ev.Mount.ObjectPath, err)
		return
	}
	logger.Debug("Published %s event for %s on %s", ev.Type, ev.Mount.ObjectPath, p.channel)
}

// Close drains queued events and stops the worker. The Redis client is not
// closed.
func (p *Publisher) Close() error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	<-p.done
	return nil
}

// Follow delivers the events published on channel to fn until ctx is
// cancelled. Payloads that do not decode are skipped. ready, when non-nil,
// is closed once the subscription is active.
func Follow(ctx context.Context, rdb redis.UniversalClient, channel string, ready chan<- struct{}, fn func(*Event)) error {
	if channel == "" {
		channel = DefaultChannel
	}

	sub := rdb.Subscribe(ctx, channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}
	if ready != nil {
		close(ready)
	}

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-messages:
			if !ok {
				return nil
			}
			var ev Event
			if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil {
				logger.Debug("Skipping malformed event on %s: %v", channel, err)
				continue
			}
			fn(&ev)
		}
	}
}
