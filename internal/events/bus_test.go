package events

import (
	"context"
	"testing"
)

func TestLocalBusFansOut(t *testing.T) {
	bus := NewLocalBus()

	var first, second []Event
	bus.Subscribe(func(_ context.Context, ev Event) { first = append(first, ev) })
	bus.Subscribe(func(_ context.Context, ev Event) { second = append(second, ev) })

	ev := NewEvent(ResourceCreated, "auth", "User", "users", "alice")
	bus.Publish(context.Background(), ev)

	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("expected both handlers to see the event, got %d and %d", len(first), len(second))
	}
	if first[0].ID != ev.ID {
		t.Errorf("handler saw event %q, want %q", first[0].ID, ev.ID)
	}
}

func TestLocalBusWithoutSubscribers(t *testing.T) {
	bus := NewLocalBus()
	// Publishing into the void must not panic.
	bus.Publish(context.Background(), NewEvent(ResourceDeleted, "auth", "User", "users", "alice"))
}

func TestNewEventStampsIdentityAndTime(t *testing.T) {
	a := NewEvent(ResourceUpdated, "auth", "Role", "roles", "auditors")
	b := NewEvent(ResourceUpdated, "auth", "Role", "roles", "auditors")

	if a.ID == "" || b.ID == "" {
		t.Fatal("events must carry ids")
	}
	if a.ID == b.ID {
		t.Error("event ids must be unique")
	}
	if a.Time.IsZero() {
		t.Error("event time must be set")
	}
	if a.Kind != "Role" || a.KindPlural != "roles" || a.Group != "auth" || a.Name != "auditors" {
		t.Errorf("unexpected event identity: %+v", a)
	}
}
