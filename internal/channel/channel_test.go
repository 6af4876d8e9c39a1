package channel

import (
	"errors"
	"testing"

	"github.com/driftsync/core/internal/model"
	"github.com/driftsync/core/internal/wire"
)

func TestAddChannelRequiresStarted(t *testing.T) {
	a := NewAdapter("test", nil)
	if _, err := a.AddChannel(model.ChannelKindNetwork, func([]byte) error { return nil }); !errors.Is(err, ErrStateMismatch) {
		t.Fatalf("expected ErrStateMismatch, got %v", err)
	}

	if err := a.Init(Hooks{}); err != nil {
		t.Fatalf("init: %v", err)
	}
	if _, err := a.AddChannel(model.ChannelKindNetwork, func([]byte) error { return nil }); !errors.Is(err, ErrStateMismatch) {
		t.Fatalf("expected ErrStateMismatch before Start, got %v", err)
	}

	if err := a.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	c, err := a.AddChannel(model.ChannelKindNetwork, func([]byte) error { return nil })
	if err != nil {
		t.Fatalf("add channel after start: %v", err)
	}
	if c.Lifecycle() != model.ChannelGenerated {
		t.Errorf("expected a freshly created channel to be Generated, got %v", c.Lifecycle())
	}
}

func TestRemoveUnknownChannelIsNotError(t *testing.T) {
	a := NewAdapter("test", nil)
	a.Init(Hooks{})
	a.Start()
	if err := a.RemoveChannel(model.ChannelID(9999)); err != nil {
		t.Errorf("expected nil error removing unknown channel, got %v", err)
	}
}

func TestRemoveChannelRequiresStarted(t *testing.T) {
	a := NewAdapter("test", nil)
	if err := a.RemoveChannel(model.ChannelID(1)); !errors.Is(err, ErrStateMismatch) {
		t.Fatalf("expected ErrStateMismatch, got %v", err)
	}
}

func TestLifecycleMonotonic(t *testing.T) {
	a := NewAdapter("test", nil)
	a.Init(Hooks{})
	a.Start()
	c, _ := a.AddChannel(model.ChannelKindNetwork, func([]byte) error { return nil })

	c.MarkEstablished("peer-1")
	if c.Lifecycle() != model.ChannelEstablished {
		t.Fatalf("expected Established, got %v", c.Lifecycle())
	}
	// Regressing should be impossible: MarkConnected after Established
	// must not move the state backward.
	c.MarkConnected()
	if c.Lifecycle() != model.ChannelEstablished {
		t.Errorf("lifecycle regressed: %v", c.Lifecycle())
	}
	if c.PeerID() != "peer-1" {
		t.Errorf("expected peer id to stick, got %q", c.PeerID())
	}
}

func TestSendToRemovedChannelIsWarningNotError(t *testing.T) {
	a := NewAdapter("test", nil)
	a.Init(Hooks{})
	a.Start()
	c, _ := a.AddChannel(model.ChannelKindNetwork, func([]byte) error { return nil })
	a.RemoveChannel(c.ID())

	if err := c.Send(&wire.DirectoryRequest{}); err != nil {
		t.Errorf("expected nil error sending to removed channel, got %v", err)
	}
}

func TestSendInterceptorChainOrderAndDrop(t *testing.T) {
	var order []string
	passThrough := func(name string) SendInterceptor {
		return func(env wire.Envelope, next func(wire.Envelope) error) error {
			order = append(order, name)
			return next(env)
		}
	}
	dropper := func(env wire.Envelope, next func(wire.Envelope) error) error {
		order = append(order, "dropper")
		return nil // drop: never call next
	}

	var sent [][]byte
	a := NewAdapter("test", nil)
	a.Init(Hooks{}, passThrough("first"), dropper, passThrough("third"))
	a.Start()
	c, _ := a.AddChannel(model.ChannelKindNetwork, func(data []byte) error {
		sent = append(sent, data)
		return nil
	})

	if err := c.Send(&wire.DirectoryRequest{}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(sent) != 0 {
		t.Errorf("expected the dropper to prevent transport send, got %d sends", len(sent))
	}
	if len(order) != 2 || order[0] != "first" || order[1] != "dropper" {
		t.Errorf("unexpected interceptor order: %v", order)
	}
}

func TestHotReInitDoesNotAffectExistingChannelHooks(t *testing.T) {
	var firstHookFired, secondHookFired bool
	a := NewAdapter("test", nil)
	a.Init(Hooks{OnReceive: func(model.ChannelID, []byte) { firstHookFired = true }})
	a.Start()
	c, _ := a.AddChannel(model.ChannelKindNetwork, func([]byte) error { return nil })

	// Re-initializing with new hooks must not affect the channel created
	// under the old hook set.
	a.Init(Hooks{OnReceive: func(model.ChannelID, []byte) { secondHookFired = true }})
	a.Start()

	c.Receive([]byte("hello"))
	if !firstHookFired {
		t.Error("expected the channel's originally captured hook to fire")
	}
	if secondHookFired {
		t.Error("expected the new hook set to not fire for a pre-existing channel")
	}
}

func TestInitAutoStopsWhenStarted(t *testing.T) {
	a := NewAdapter("test", nil)
	a.Init(Hooks{})
	a.Start()
	if a.State() != AdapterStarted {
		t.Fatalf("expected Started, got %v", a.State())
	}
	a.Init(Hooks{})
	if a.State() != AdapterInitialized {
		t.Fatalf("expected re-init to leave adapter Initialized, got %v", a.State())
	}
}
