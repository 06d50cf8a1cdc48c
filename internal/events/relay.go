package events

import (
	"context"
	"encoding/json"
	"log"

	"github.com/redis/go-redis/v9"

	"breadcrumbd/internal/models"
)

const relayChannel = "breadcrumbs:events"

// relayEnvelope wraps an event with its source instance so an instance can
// skip its own publications.
type relayEnvelope struct {
	InstanceID string           `json:"instance_id"`
	Event      models.Event     `json:"event"`
	Hints      *models.LLMHints `json:"llm_hints,omitempty"`
}

// Relay bridges committed events between instances over Redis pub/sub.
// Delivery through the relay is as best-effort as local fan-out.
type Relay struct {
	client     *redis.Client
	bus        *Bus
	instanceID string
	ctx        context.Context
	cancel     context.CancelFunc
	pubsub     *redis.PubSub
}

// NewRelay connects to Redis and binds the relay to a bus
func NewRelay(redisURL, instanceID string, bus *Bus) (*Relay, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Relay{
		client:     redis.NewClient(opts),
		bus:        bus,
		instanceID: instanceID,
		ctx:        ctx,
		cancel:     cancel,
	}
	if err := r.client.Ping(ctx).Err(); err != nil {
		cancel()
		return nil, err
	}
	return r, nil
}

// Start subscribes to the relay channel and begins folding remote events
// into the local fan-out.
func (r *Relay) Start() error {
	r.pubsub = r.client.Subscribe(r.ctx, relayChannel)
	if _, err := r.pubsub.Receive(r.ctx); err != nil {
		return err
	}
	go r.consume()
	log.Printf("[RELAY] listening on %s (instance %s)", relayChannel, r.instanceID)
	return nil
}

func (r *Relay) consume() {
	ch := r.pubsub.Channel()
	for {
		select {
		case <-r.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env relayEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				log.Printf("[RELAY] bad envelope: %v", err)
				continue
			}
			if env.InstanceID == r.instanceID {
				continue
			}
			r.bus.DispatchRemote(env.Event, env.Hints)
		}
	}
}

// Forward publishes a locally committed event to the relay channel.
// Failures are logged and swallowed; the local commit already succeeded.
func (r *Relay) Forward(evt models.Event, hints *models.LLMHints) {
	payload, err := json.Marshal(relayEnvelope{InstanceID: r.instanceID, Event: evt, Hints: hints})
	if err != nil {
		return
	}
	if err := r.client.Publish(r.ctx, relayChannel, payload).Err(); err != nil {
		log.Printf("[RELAY] publish failed: %v", err)
	}
}

// Stop closes the subscription and the client
func (r *Relay) Stop() {
	r.cancel()
	if r.pubsub != nil {
		_ = r.pubsub.Close()
	}
	_ = r.client.Close()
}
