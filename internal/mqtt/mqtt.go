// Package mqtt publishes board status to an MQTT broker.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/voicebox-boards/epd-board-controller/internal/battery"
)

const (
	batteryTopic = "battery"
	systemTopic  = "system"
)

// Publisher publishes board status. Errors are for logging only, a broker
// being away must not stop the power manager.
type Publisher interface {
	PublishBattery(status battery.Status, at time.Time) error
	PublishSystem(event string, at time.Time) error
	Close() error
}

type BatteryPayload struct {
	Battery BatteryInner `json:"battery"`
}

type BatteryInner struct {
	Timestamp    string  `json:"timestamp"`
	Level        int     `json:"level"`
	Voltage      float64 `json:"voltage"`
	Charging     bool    `json:"charging"`
	Discharging  bool    `json:"discharging"`
	ChargingDone bool    `json:"charging_done"`
}

type SystemPayload struct {
	System SystemInner `json:"system"`
}

type SystemInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
}

func FormatBatteryPayload(s battery.Status, at time.Time) ([]byte, error) {
	return json.Marshal(BatteryPayload{
		Battery: BatteryInner{
			Timestamp:    at.UTC().Format(time.RFC3339),
			Level:        s.Level,
			Voltage:      s.Voltage,
			Charging:     s.Charging,
			Discharging:  s.Discharging,
			ChargingDone: s.ChargingDone,
		},
	})
}

func FormatSystemPayload(event string, at time.Time) ([]byte, error) {
	return json.Marshal(SystemPayload{
		System: SystemInner{
			Timestamp: at.UTC().Format(time.RFC3339),
			Event:     event,
		},
	})
}

// Topic joins the configured prefix and a leaf topic.
func Topic(prefix, leaf string) string {
	if prefix == "" {
		return leaf
	}
	return prefix + "/" + leaf
}
