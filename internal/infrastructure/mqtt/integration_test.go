//go:build integration

package mqtt

import (
	"context"
	"errors"
	"testing"
	"time"
)

// These tests require a running MQTT broker at 127.0.0.1:1883.
//
// Run with:
//   go test -tags=integration -v ./internal/infrastructure/mqtt/...

func connectForTest(t *testing.T, clientID string) *Client {
	t.Helper()
	cfg := testConfig()
	cfg.Broker.ClientID = clientID
	client, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestIntegration_ConnectAndHealth(t *testing.T) {
	client := connectForTest(t, "beaconfence-int-health")

	if !client.IsConnected() {
		t.Error("IsConnected() = false, want true")
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := client.HealthCheck(ctx); err == nil {
		t.Error("HealthCheck() with cancelled context expected error")
	}
}

func TestIntegration_BrokerRefused(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.Port = 19998

	if _, err := Connect(cfg); !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestIntegration_RegionRoundtrip(t *testing.T) {
	client := connectForTest(t, "beaconfence-int-roundtrip")

	received := make(chan string, 1)
	err := client.Subscribe(Topics{}.AllRegionStates(), 1, func(topic string, payload []byte) error {
		id, _, _ := ParseRegionTopic(topic)
		received <- id + "=" + string(payload)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if !client.HasSubscription(Topics{}.AllRegionStates()) {
		t.Error("subscription not tracked")
	}

	time.Sleep(100 * time.Millisecond)
	if err := client.PublishJSON(Topics{}.RegionState("b1"), map[string]string{"state": "inside"}, false); err != nil {
		t.Fatalf("PublishJSON() error = %v", err)
	}

	select {
	case got := <-received:
		if got != `b1={"state":"inside"}` {
			t.Errorf("received %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("message not received")
	}

	if err := client.Unsubscribe(Topics{}.AllRegionStates()); err != nil {
		t.Errorf("Unsubscribe() error = %v", err)
	}
	if client.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d after unsubscribe", client.SubscriptionCount())
	}
}

func TestIntegration_HandlerPanicRecovered(t *testing.T) {
	client := connectForTest(t, "beaconfence-int-panic")

	called := make(chan struct{}, 2)
	topic := Topics{}.RegionRanged("panic")
	err := client.Subscribe(topic, 1, func(string, []byte) error {
		called <- struct{}{}
		panic("boom")
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	for i := 0; i < 2; i++ {
		if err := client.Publish(topic, []byte("{}"), 1, false); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
		select {
		case <-called:
		case <-time.After(2 * time.Second):
			t.Fatalf("handler not called for message %d", i)
		}
	}
}
