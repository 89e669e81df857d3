package sse

import (
	"testing"

	"github.com/google/uuid"

	redisbus "github.com/tortodelova/backend/internal/clients/redis"
	"github.com/tortodelova/backend/internal/logger"
)

func testHub(t *testing.T) *Hub {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return NewHub(log)
}

func TestHubBroadcastRouting(t *testing.T) {
	hub := testHub(t)
	alice := uuid.New()
	bob := uuid.New()

	aliceClient := hub.NewClient(alice)
	hub.Subscribe(aliceClient, alice.String())
	bobClient := hub.NewClient(bob)
	hub.Subscribe(bobClient, bob.String())

	hub.Broadcast(redisbus.Event{
		Channel: alice.String(),
		Event:   redisbus.EventBalanceChanged,
		Data:    map[string]any{"balance_credits": 90},
	})

	select {
	case msg := <-aliceClient.Outbound:
		if msg.Event != redisbus.EventBalanceChanged {
			t.Fatalf("event kind: %q", msg.Event)
		}
	default:
		t.Fatalf("subscriber did not receive its event")
	}
	select {
	case msg := <-bobClient.Outbound:
		t.Fatalf("event leaked to another user's client: %+v", msg)
	default:
	}

	// Events for a channel with no subscribers go nowhere, without error.
	hub.Broadcast(redisbus.Event{Channel: uuid.New().String(), Event: redisbus.EventPredictionSettled})
}

func TestHubSlowConsumerDrops(t *testing.T) {
	hub := testHub(t)
	userID := uuid.New()
	client := hub.NewClient(userID)
	hub.Subscribe(client, userID.String())

	// Overflow the outbound buffer; Broadcast must never block.
	for i := 0; i < cap(client.Outbound)+5; i++ {
		hub.Broadcast(redisbus.Event{Channel: userID.String(), Event: redisbus.EventPredictionSettled})
	}
	if got := len(client.Outbound); got != cap(client.Outbound) {
		t.Fatalf("buffered: expected %d, got %d", cap(client.Outbound), got)
	}
}

func TestHubCloseClient(t *testing.T) {
	hub := testHub(t)
	userID := uuid.New()
	client := hub.NewClient(userID)
	hub.Subscribe(client, userID.String())

	hub.CloseClient(client)

	select {
	case <-client.done:
	default:
		t.Fatalf("done channel must be closed")
	}

	// A closed client no longer receives broadcasts.
	hub.Broadcast(redisbus.Event{Channel: userID.String(), Event: redisbus.EventPredictionSettled})
	select {
	case msg := <-client.Outbound:
		t.Fatalf("closed client received event: %+v", msg)
	default:
	}
}
