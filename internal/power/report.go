package power

import (
	"context"
	"time"

	"github.com/TheCacophonyProject/event-reporter/v3/eventclient"
	"github.com/godbus/dbus"
	"github.com/voicebox-boards/epd-board-controller/internal/battery"
)

// Notifier is told about every reported battery status.
type Notifier func(status battery.Status, at time.Time) error

type namedNotifier struct {
	name string
	fn   Notifier
}

type statusSource interface {
	BatteryLevel() battery.Status
}

// Reporter polls the battery level and notifies when the level bucket or
// the charge direction changes.
type Reporter struct {
	source    statusSource
	interval  time.Duration
	notifiers []namedNotifier
	last      *battery.Status
	now       func() time.Time
}

func NewReporter(source statusSource, interval time.Duration) *Reporter {
	return &Reporter{
		source:   source,
		interval: interval,
		now:      time.Now,
	}
}

// Add registers a notifier. Notifier errors are logged and do not stop the
// other notifiers.
func (r *Reporter) Add(name string, fn Notifier) {
	r.notifiers = append(r.notifiers, namedNotifier{name: name, fn: fn})
}

// Check polls once and returns true if the status was reported.
func (r *Reporter) Check() bool {
	status := r.source.BatteryLevel()
	if r.last != nil && r.last.Level == status.Level && r.last.Direction == status.Direction {
		log.Debugf("Battery %d%%, %s", status.Level, status.Direction)
		return false
	}
	r.last = &status
	log.Infof("Battery %d%% (%.2fV), %s", status.Level, status.Voltage, status.Direction)
	if status.Level <= 1 && status.Discharging {
		log.Warnf("Low battery: %.2fV", status.Voltage)
	}
	at := r.now()
	for _, n := range r.notifiers {
		if err := n.fn(status, at); err != nil {
			log.Errorf("Error reporting battery status to %s: %v", n.name, err)
		}
	}
	return true
}

// Run checks every interval until ctx is cancelled.
func (r *Reporter) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	r.Check()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.Check()
		}
	}
}

func reportBatteryEvent(status battery.Status, at time.Time) error {
	eventType := "batteryStatus"
	if status.Level <= 1 && status.Discharging {
		eventType = "lowBattery"
	}
	return eventclient.AddEvent(eventclient.Event{
		Timestamp: at,
		Type:      eventType,
		Details: map[string]interface{}{
			"battery":      status.Level,
			"voltage":      status.Voltage,
			"charging":     status.Charging,
			"discharging":  status.Discharging,
			"chargingDone": status.ChargingDone,
		},
	})
}

// sendBatterySignal emits the status on the system bus.
func sendBatterySignal(status battery.Status, _ time.Time) error {
	conn, err := dbus.SystemBus()
	if err != nil {
		return err
	}
	return conn.Emit(dbus.ObjectPath(dbusPath), dbusName+".Battery",
		int32(status.Level), status.Charging, status.Discharging)
}
