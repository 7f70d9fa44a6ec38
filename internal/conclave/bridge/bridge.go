// Package bridge mirrors domain events over NATS so rooms stay in sync when
// more than one instance serves connections. Each instance publishes the
// events it accepted and re-injects events published by the others into its
// local hub. With a single instance the bridge is simply not wired.
package bridge

import (
	"encoding/json"
	"os"

	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"

	"github.com/conclave-mtg/conclave-api/internal/comm"
)

const subjectPrefix = "conclave.game."

// Connect dials NATS from the environment. NATS_URL empty means the bridge
// is disabled and callers should skip it.
func Connect() (*nats.Conn, error) {
	url := os.Getenv("NATS_URL")
	opts := []nats.Option{nats.Name("conclave-api")}
	if token := os.Getenv("NATS_TOKEN"); token != "" {
		opts = append(opts, nats.Token(token))
	}
	return nats.Connect(url, opts...)
}

type envelope struct {
	Instance string     `json:"instance"`
	Event    comm.Event `json:"event"`
}

type Bridge struct {
	conn       *nats.Conn
	instanceID string
	inject     func(comm.Event)
	sub        *nats.Subscription
}

// New wires the bridge. inject delivers a foreign event to the local hub.
func New(conn *nats.Conn, instanceID string, inject func(comm.Event)) *Bridge {
	return &Bridge{conn: conn, instanceID: instanceID, inject: inject}
}

// Publish mirrors a locally accepted event to the other instances.
func (b *Bridge) Publish(event comm.Event) {
	data, err := json.Marshal(envelope{Instance: b.instanceID, Event: event})
	if err != nil {
		log.Errorf("failed to marshal bridge envelope: %v", err)
		return
	}
	if err := b.conn.Publish(subjectPrefix+event.GameID.String(), data); err != nil {
		log.Errorf("failed to mirror %s for game %s: %v", event.Type, event.GameID, err)
	}
}

// Start subscribes to every game subject and re-injects foreign events.
func (b *Bridge) Start() error {
	sub, err := b.conn.Subscribe(subjectPrefix+">", func(msg *nats.Msg) {
		b.handleMessage(msg.Data)
	})
	if err != nil {
		return err
	}
	b.sub = sub
	return nil
}

// handleMessage decodes a mirrored envelope and injects the event unless this
// instance published it.
func (b *Bridge) handleMessage(data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Errorf("failed to unmarshal bridge envelope: %v", err)
		return
	}
	if env.Instance == b.instanceID {
		return // our own mirror coming back
	}
	b.inject(env.Event)
}

func (b *Bridge) Stop() {
	if b.sub != nil {
		b.sub.Unsubscribe()
	}
}
