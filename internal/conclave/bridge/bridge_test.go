package bridge

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"

	"github.com/conclave-mtg/conclave-api/internal/comm"
)

func mirrored(t *testing.T, instanceID string, event comm.Event) []byte {
	t.Helper()
	data, err := json.Marshal(envelope{Instance: instanceID, Event: event})
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestHandleMessageInjectsForeignEvents(t *testing.T) {
	var injected []comm.Event
	b := New(nil, "instance-a", func(ev comm.Event) { injected = append(injected, ev) })

	gameID := uuid.New()
	playerID := uuid.New()
	event := comm.NewLifeUpdate(gameID, playerID, 17, -3)

	b.handleMessage(mirrored(t, "instance-b", event))

	if len(injected) != 1 {
		t.Fatalf("injected %d events, want 1", len(injected))
	}
	got := injected[0]
	if got.Type != comm.EventLifeUpdate || got.GameID != gameID {
		t.Fatalf("injected %s for game %s", got.Type, got.GameID)
	}
	// The payload survives the envelope round trip byte for byte.
	var payload comm.LifeUpdatePayload
	if err := json.Unmarshal(got.Data, &payload); err != nil {
		t.Fatal(err)
	}
	if payload.PlayerID != playerID || payload.NewLife != 17 || payload.ChangeAmount != -3 {
		t.Errorf("payload = %+v", payload)
	}
}

func TestHandleMessageSkipsOwnEcho(t *testing.T) {
	b := New(nil, "instance-a", func(comm.Event) {
		t.Fatal("own mirror was re-injected")
	})

	event := comm.NewPlayerLeft(uuid.New(), uuid.New())
	b.handleMessage(mirrored(t, "instance-a", event))
}

func TestHandleMessageIgnoresGarbage(t *testing.T) {
	b := New(nil, "instance-a", func(comm.Event) {
		t.Fatal("garbage envelope was injected")
	})

	b.handleMessage([]byte("not an envelope"))
}
