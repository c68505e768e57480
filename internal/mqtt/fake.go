package mqtt

import (
	"sync"
	"time"

	"github.com/voicebox-boards/epd-board-controller/internal/battery"
)

// FakePublisher records published messages for tests.
type FakePublisher struct {
	mu      sync.Mutex
	Battery []battery.Status
	System  []string
	Closed  bool
	// PublishError, if set, is returned by every publish.
	PublishError error
}

func (f *FakePublisher) PublishBattery(status battery.Status, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	f.Battery = append(f.Battery, status)
	return nil
}

func (f *FakePublisher) PublishSystem(event string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	f.System = append(f.System, event)
	return nil
}

func (f *FakePublisher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

// BatteryCount returns the number of battery messages published so far.
func (f *FakePublisher) BatteryCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Battery)
}
