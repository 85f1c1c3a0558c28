package system

import (
	"context"
	"errors"
	"testing"

	"github.com/r3e-network/cyberrange/internal/corekit"
)

type fakeService struct {
	name        string
	startErr    error
	stopErr     error
	startCalled bool
	stopCalled  bool
}

func (s *fakeService) Name() string { return s.name }
func (s *fakeService) Start(ctx context.Context) error {
	s.startCalled = true
	return s.startErr
}
func (s *fakeService) Stop(ctx context.Context) error {
	s.stopCalled = true
	return s.stopErr
}
func (s *fakeService) Descriptor() corekit.Descriptor {
	return corekit.Descriptor{Name: s.name, Layer: corekit.LayerEngine}
}

func TestManagerStartsAndStopsEveryService(t *testing.T) {
	var order []string
	a := &fakeService{name: "a"}
	b := &fakeService{name: "b"}

	m := NewManager()
	if err := m.Register(a); err != nil {
		t.Fatalf("register a: %v", err)
	}
	if err := m.Register(b); err != nil {
		t.Fatalf("register b: %v", err)
	}

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !a.startCalled || !b.startCalled {
		t.Fatalf("expected both services started")
	}

	if err := m.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if !a.stopCalled || !b.stopCalled {
		t.Fatalf("expected both services stopped")
	}
	_ = order
}

func TestManagerRollsBackAlreadyStartedServicesOnFailure(t *testing.T) {
	a := &fakeService{name: "a"}
	b := &fakeService{name: "b", startErr: errors.New("boom")}

	m := NewManager()
	_ = m.Register(a)
	_ = m.Register(b)

	err := m.Start(context.Background())
	if err == nil {
		t.Fatalf("expected start error")
	}
	if !a.stopCalled {
		t.Fatalf("expected a to be rolled back after b failed to start")
	}
}

func TestManagerRejectsRegistrationAfterStart(t *testing.T) {
	m := NewManager()
	_ = m.Register(&fakeService{name: "a"})
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.Register(&fakeService{name: "late"}); err == nil {
		t.Fatalf("expected registration after start to fail")
	}
}

func TestManagerDescriptorsSortedByLayerThenName(t *testing.T) {
	m := NewManager()
	_ = m.Register(&fakeService{name: "zzz"})
	_ = m.Register(&fakeService{name: "aaa"})

	descriptors := m.Descriptors()
	if len(descriptors) != 2 || descriptors[0].Name != "aaa" {
		t.Fatalf("expected sorted descriptors, got %+v", descriptors)
	}
}
