// Package queue publishes socket gateway notifications to Redis. Delivery is
// best-effort: the request path never waits on, and never fails because of,
// the broker.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

type Event string

const (
	EventCreateChat Event = "CREATE_CHAT"
	EventJoinChat   Event = "JOIN_CHAT"
	EventLeaveChat  Event = "LEAVE_CHAT"
	// EventNewMessage is emitted by the message fan-out, reserved here so the
	// envelope contract lives in one place.
	EventNewMessage Event = "NEW_MESSAGE"
)

// Envelope is the wire contract toward the delivery layer: who to deliver to,
// what happened, and the payload to hand over as-is.
type Envelope struct {
	To    string `json:"to"`
	Event Event  `json:"event"`
	Data  any    `json:"data"`
}

const outboundBuffer = 1024

type Dispatcher struct {
	client  *redis.Client
	topic   string
	enabled bool

	// ready flips false->true exactly once, on the first successful ping.
	ready    atomic.Bool
	outbound chan Envelope
	done     chan struct{}
}

// New creates the dispatcher and starts the connect loop. An unreachable
// broker is not an error here: the dispatcher simply stays not-ready and
// drops events until the broker comes up.
func New(redisURL, topic string, enabled bool) (*Dispatcher, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	d := &Dispatcher{
		client:   redis.NewClient(opts),
		topic:    topic,
		enabled:  enabled,
		outbound: make(chan Envelope, outboundBuffer),
		done:     make(chan struct{}),
	}
	if enabled {
		go d.connect()
		go d.drain()
	}
	return d, nil
}

// connect pings with capped backoff until the broker answers once. After
// that, go-redis redials broken connections on its own and readiness stays
// true for the life of the process.
func (d *Dispatcher) connect() {
	backoff := 500 * time.Millisecond
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := d.client.Ping(ctx).Err()
		cancel()
		if err == nil {
			d.ready.Store(true)
			log.Printf("queue: broker connection ready")
			return
		}

		select {
		case <-d.done:
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (d *Dispatcher) drain() {
	for {
		select {
		case <-d.done:
			return
		case envelope := <-d.outbound:
			payload, err := json.Marshal(envelope)
			if err != nil {
				log.Printf("queue: drop undecodable envelope: %v", err)
				continue
			}
			if err := d.client.Publish(context.Background(), d.topic, payload).Err(); err != nil {
				log.Printf("queue: publish %s failed: %v", envelope.Event, err)
			}
		}
	}
}

// Publish hands an event to the outbound worker and returns immediately. It
// is a silent no-op when dispatch is disabled, the target is absent, or the
// broker connection is not ready yet. A full outbound queue drops the event.
func (d *Dispatcher) Publish(target string, event Event, data any) {
	if d == nil || !d.enabled || target == "" || !d.ready.Load() {
		return
	}
	select {
	case d.outbound <- Envelope{To: target, Event: event, Data: data}:
	default:
		log.Printf("queue: outbound full, dropping %s", event)
	}
}

// Ready reports whether the broker connection has come up.
func (d *Dispatcher) Ready() bool {
	return d.ready.Load()
}

func (d *Dispatcher) Close() error {
	close(d.done)
	return d.client.Close()
}
