package battery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSampler struct {
	mu      sync.Mutex
	volts   []float64
	errs    []error
	index   int
	samples int
}

func (f *fakeSampler) ReadVoltage() (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.samples++
	i := f.index
	if f.index < len(f.volts)-1 {
		f.index++
	}
	if i < len(f.errs) && f.errs[i] != nil {
		return 0, f.errs[i]
	}
	return f.volts[i], nil
}

func immediately(time.Duration) <-chan time.Time {
	c := make(chan time.Time, 1)
	c <- time.Now()
	return c
}

func never(time.Duration) <-chan time.Time {
	return nil
}

func newTestMonitor(e *Estimator, s Sampler) *Monitor {
	log := logrus.New()
	log.SetLevel(logrus.DebugLevel)
	m := NewMonitor(e, s, time.Second, log)
	m.after = immediately
	return m
}

func TestMonitorCycles(t *testing.T) {
	e := NewEstimator()
	s := &fakeSampler{volts: []float64{3.60, 3.70, 3.70, 3.72, 3.72, 3.60}}
	m := newTestMonitor(e, s)
	ctx := context.Background()

	require.NoError(t, m.cycle(ctx))
	assert.Equal(t, Charging, e.Direction())

	require.NoError(t, m.cycle(ctx))
	assert.Equal(t, Charging, e.Direction(), "delta below noise keeps direction")

	require.NoError(t, m.cycle(ctx))
	assert.Equal(t, Discharging, e.Direction())
	assert.Equal(t, 6, s.samples)
}

func TestMonitorHoldsOnSamplerError(t *testing.T) {
	e := NewEstimator()
	s := &fakeSampler{
		volts: []float64{3.60, 0, 3.90},
		errs:  []error{nil, errors.New("adc busy"), nil},
	}
	m := newTestMonitor(e, s)

	require.NoError(t, m.cycle(context.Background()))
	assert.Equal(t, Discharging, e.Direction())
}

func TestMonitorDoesNotTouchLevel(t *testing.T) {
	e := NewEstimator()
	s := &fakeSampler{volts: []float64{3.50, 3.70}}
	m := newTestMonitor(e, s)

	require.NoError(t, m.cycle(context.Background()))
	assert.Equal(t, 100, e.Level())
}

func TestMonitorRunStopsOnCancel(t *testing.T) {
	e := NewEstimator()
	m := newTestMonitor(e, &fakeSampler{volts: []float64{3.7}})
	m.after = never

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not stop after cancel")
	}
}

func TestNewMonitorDefaults(t *testing.T) {
	m := NewMonitor(NewEstimator(), &fakeSampler{volts: []float64{3.7}}, 0, nil)
	assert.Equal(t, DefaultDirectionInterval, m.interval)
	assert.NotNil(t, m.log)
}
