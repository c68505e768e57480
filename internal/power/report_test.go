package power

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/voicebox-boards/epd-board-controller/internal/battery"
	"github.com/voicebox-boards/epd-board-controller/internal/mqtt"
)

func TestReporterOnlyReportsChanges(t *testing.T) {
	s := &fakeSampler{volts: 3.90}
	m, err := NewManager(&fakeExpander{}, testRails, s, nil)
	require.NoError(t, err)

	pub := &mqtt.FakePublisher{}
	r := NewReporter(m, time.Second)
	r.Add("mqtt", pub.PublishBattery)

	assert.True(t, r.Check(), "first poll is always reported")
	assert.False(t, r.Check())

	s.volts = 3.95 // inside the debounce window
	assert.False(t, r.Check())

	s.volts = 3.70
	assert.True(t, r.Check())

	m.Estimator().UpdateDirection(battery.Volts(3.6), battery.Volts(3.7))
	assert.True(t, r.Check(), "direction change is reported")

	require.Len(t, pub.Battery, 3)
	assert.Equal(t, 80, pub.Battery[0].Level)
	assert.Equal(t, 40, pub.Battery[1].Level)
	assert.True(t, pub.Battery[2].Charging)
}

func TestReporterKeepsGoingAfterNotifierError(t *testing.T) {
	m, err := NewManager(&fakeExpander{}, testRails, &fakeSampler{volts: 3.5}, nil)
	require.NoError(t, err)

	pub := &mqtt.FakePublisher{}
	r := NewReporter(m, time.Second)
	r.Add("broken", func(battery.Status, time.Time) error { return errors.New("no bus") })
	r.Add("mqtt", pub.PublishBattery)

	assert.True(t, r.Check())
	assert.Equal(t, 1, pub.BatteryCount())
}

func TestReporterRunStops(t *testing.T) {
	m, err := NewManager(&fakeExpander{}, testRails, &fakeSampler{volts: 3.8}, nil)
	require.NoError(t, err)
	pub := &mqtt.FakePublisher{}
	r := NewReporter(m, time.Hour)
	r.Add("mqtt", pub.PublishBattery)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool { return pub.BatteryCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
