package battery

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultDirectionInterval is the spacing between the two readings compared
// by the direction estimator.
const DefaultDirectionInterval = 30 * time.Second

// Sampler produces battery voltages, usually from an ADC.
type Sampler interface {
	ReadVoltage() (float64, error)
}

// Monitor periodically infers the charge direction by comparing a reading
// taken at the start of each interval with one taken at its end.
type Monitor struct {
	estimator *Estimator
	sampler   Sampler
	interval  time.Duration
	log       logrus.FieldLogger

	after func(time.Duration) <-chan time.Time
}

func NewMonitor(e *Estimator, s Sampler, interval time.Duration, log logrus.FieldLogger) *Monitor {
	if interval <= 0 {
		interval = DefaultDirectionInterval
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Monitor{
		estimator: e,
		sampler:   s,
		interval:  interval,
		log:       log,
		after:     time.After,
	}
}

// Run loops until ctx is cancelled and then returns ctx.Err().
func (m *Monitor) Run(ctx context.Context) error {
	m.log.Debugf("Starting charge direction monitor, interval %s", m.interval)
	for {
		if err := m.cycle(ctx); err != nil {
			m.log.Debug("Charge direction monitor stopped")
			return err
		}
	}
}

func (m *Monitor) cycle(ctx context.Context) error {
	first := m.read()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-m.after(m.interval):
	}
	second := m.read()
	before := m.estimator.Direction()
	after := m.estimator.UpdateDirection(first, second)
	m.log.Debugf("Voltage %.2f -> %.2f, %s", first.Volts, second.Volts, after)
	if before != after {
		m.log.Infof("Battery is now %s", after)
	}
	return nil
}

func (m *Monitor) read() Reading {
	v, err := m.sampler.ReadVoltage()
	if err != nil {
		m.log.Errorf("Error reading battery voltage: %v", err)
		return NoReading
	}
	return Volts(v)
}
