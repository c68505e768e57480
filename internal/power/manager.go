/*
epd-board-controller - Power and battery glue for the e-paper voice board
Copyright (C) 2026, Voicebox Boards

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/

package power

import (
	"context"
	"fmt"
	"time"

	"github.com/voicebox-boards/epd-board-controller/internal/battery"
	"github.com/voicebox-boards/epd-board-controller/internal/tca9554"
	"periph.io/x/conn/v3/gpio"
)

// Rail names accepted by SetRail.
const (
	RailEPD     = "epd"
	RailAudio   = "audio"
	RailVbat    = "vbat"
	RailCodecPA = "codec_pa"
)

const keyPollInterval = 100 * time.Millisecond

// Expander is the part of the I/O expander the manager needs.
type Expander interface {
	SetDirection(pins tca9554.Pin, output bool) error
	SetLevel(pins tca9554.Pin, high bool) error
}

// Rails maps each switched supply to its expander pin.
type Rails struct {
	EPD     tca9554.Pin
	Audio   tca9554.Pin
	CodecPA tca9554.Pin
	Vbat    tca9554.Pin
}

// Manager switches the board supplies and answers battery queries.
type Manager struct {
	exp       Expander
	rails     Rails
	sampler   battery.Sampler
	estimator *battery.Estimator
	keyPin    gpio.PinIn
}

// NewManager configures the EPD, audio and VBAT rails as outputs and turns
// them on. keyPin may be nil when the board has no power key.
func NewManager(exp Expander, rails Rails, sampler battery.Sampler, keyPin gpio.PinIn) (*Manager, error) {
	m := &Manager{
		exp:       exp,
		rails:     rails,
		sampler:   sampler,
		estimator: battery.NewEstimator(),
		keyPin:    keyPin,
	}
	supplies := rails.EPD | rails.Audio | rails.Vbat
	if err := exp.SetDirection(supplies, true); err != nil {
		return nil, fmt.Errorf("configure rails: %w", err)
	}
	if err := exp.SetLevel(supplies, true); err != nil {
		return nil, fmt.Errorf("enable rails: %w", err)
	}
	if keyPin != nil {
		if err := keyPin.In(gpio.PullUp, gpio.NoEdge); err != nil {
			return nil, fmt.Errorf("configure power key: %w", err)
		}
	}
	return m, nil
}

func (m *Manager) Estimator() *battery.Estimator {
	return m.estimator
}

// NewMonitor returns a charge direction monitor sharing this manager's estimator.
func (m *Manager) NewMonitor(interval time.Duration) *battery.Monitor {
	return battery.NewMonitor(m.estimator, m.sampler, interval, log)
}

func (m *Manager) PowerEpdOn() error    { return m.exp.SetLevel(m.rails.EPD, true) }
func (m *Manager) PowerEpdOff() error   { return m.exp.SetLevel(m.rails.EPD, false) }
func (m *Manager) PowerAudioOn() error  { return m.exp.SetLevel(m.rails.Audio, true) }
func (m *Manager) PowerAudioOff() error { return m.exp.SetLevel(m.rails.Audio, false) }
func (m *Manager) PowerVbatOn() error   { return m.exp.SetLevel(m.rails.Vbat, true) }
func (m *Manager) PowerVbatOff() error  { return m.exp.SetLevel(m.rails.Vbat, false) }

// SetCodecPA enables or disables the audio power amplifier.
func (m *Manager) SetCodecPA(on bool) error {
	if err := m.exp.SetDirection(m.rails.CodecPA, true); err != nil {
		return err
	}
	return m.exp.SetLevel(m.rails.CodecPA, on)
}

// SetRail switches a rail by name.
func (m *Manager) SetRail(name string, on bool) error {
	switch name {
	case RailEPD:
		return m.exp.SetLevel(m.rails.EPD, on)
	case RailAudio:
		return m.exp.SetLevel(m.rails.Audio, on)
	case RailVbat:
		return m.exp.SetLevel(m.rails.Vbat, on)
	case RailCodecPA:
		return m.SetCodecPA(on)
	default:
		return fmt.Errorf("unknown rail '%s'", name)
	}
}

// PowerOff drops the battery latch first and then the audio and EPD rails.
// On battery the board loses power at the first step.
func (m *Manager) PowerOff() error {
	log.Info("Powering off rails")
	if err := m.PowerVbatOff(); err != nil {
		return err
	}
	if err := m.PowerAudioOff(); err != nil {
		return err
	}
	return m.PowerEpdOff()
}

// WaitForKeyRelease blocks while the power key is held down.
func (m *Manager) WaitForKeyRelease(ctx context.Context) error {
	if m.keyPin == nil {
		return nil
	}
	ticker := time.NewTicker(keyPollInterval)
	defer ticker.Stop()
	for m.keyPin.Read() == gpio.Low {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// BatteryLevel samples the battery, updates the level and returns the
// current status.
func (m *Manager) BatteryLevel() battery.Status {
	r := battery.NoReading
	v, err := m.sampler.ReadVoltage()
	if err != nil {
		log.Errorf("Error reading battery voltage: %v", err)
	} else {
		r = battery.Volts(v)
	}
	m.estimator.UpdateLevel(r)
	return m.estimator.Snapshot()
}

func (m *Manager) IsCharging() bool     { return m.estimator.IsCharging() }
func (m *Manager) IsDischarging() bool  { return m.estimator.IsDischarging() }
func (m *Manager) IsChargingDone() bool { return m.estimator.IsChargingDone() }
