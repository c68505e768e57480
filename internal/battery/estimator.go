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

// Package battery turns raw cell voltage readings into a debounced
// percentage bucket and a charging/discharging direction.
package battery

import (
	"math"
	"sync"
)

const (
	// LevelDebounce is the minimum change in volts before a new level is accepted.
	LevelDebounce = 0.1
	// DirectionNoise is the change in volts that must be exceeded before the direction flips.
	DirectionNoise = 0.05

	// InitialLevel is reported until the first valid reading arrives.
	InitialLevel = 100

	// voltEpsilon absorbs float rounding so a 3.70 to 3.80 step counts as 0.1V.
	voltEpsilon = 1e-9
)

// Direction is the inferred net current flow of the cell.
type Direction uint8

const (
	Discharging Direction = iota
	Charging
)

func (d Direction) String() string {
	switch d {
	case Charging:
		return "charging"
	case Discharging:
		return "discharging"
	default:
		return "unknown"
	}
}

// Reading is a single battery voltage sample. Readings that are not Valid
// never change the estimator state.
type Reading struct {
	Volts float64
	Valid bool
}

// NoReading is returned by samplers that could not produce a voltage.
var NoReading = Reading{}

// Volts wraps a voltage in a Reading. Zero volts is treated as no reading.
func Volts(v float64) Reading {
	return Reading{Volts: v, Valid: v != 0}
}

// Status is a consistent snapshot of the estimator.
type Status struct {
	Level        int       `json:"level"`
	Voltage      float64   `json:"voltage"`
	Direction    Direction `json:"-"`
	Charging     bool      `json:"charging"`
	Discharging  bool      `json:"discharging"`
	ChargingDone bool      `json:"charging_done"`
}

// Estimator holds the battery state. It is safe for concurrent use: the
// direction is usually written by a Monitor goroutine while the level is
// updated by whoever polls the battery.
type Estimator struct {
	mu          sync.Mutex
	lastVoltage float64
	lastLevel   int
	direction   Direction
}

// NewEstimator returns an estimator at 100% and discharging.
func NewEstimator() *Estimator {
	return &Estimator{
		lastLevel: InitialLevel,
		direction: Discharging,
	}
}

// LevelForVoltage maps a cell voltage onto one of the six level buckets.
func LevelForVoltage(v float64) int {
	switch {
	case v < 3.52:
		return 1
	case v < 3.64:
		return 20
	case v < 3.76:
		return 40
	case v < 3.88:
		return 60
	case v < 4.0:
		return 80
	default:
		return 100
	}
}

// UpdateLevel feeds a reading into the level estimator and returns the
// current level. The stored level only moves when the reading differs from
// the last accepted voltage by at least LevelDebounce.
func (e *Estimator) UpdateLevel(r Reading) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !r.Valid {
		return e.lastLevel
	}
	if math.Abs(r.Volts-e.lastVoltage) >= LevelDebounce-voltEpsilon {
		e.lastVoltage = r.Volts
		e.lastLevel = LevelForVoltage(r.Volts)
	}
	return e.lastLevel
}

// UpdateDirection compares two readings taken one direction interval apart.
// The direction only changes when both readings are valid and differ by more
// than DirectionNoise; otherwise the last known direction is kept.
func (e *Estimator) UpdateDirection(first, second Reading) Direction {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !first.Valid || !second.Valid {
		return e.direction
	}
	if math.Abs(second.Volts-first.Volts) > DirectionNoise+voltEpsilon {
		if first.Volts > second.Volts {
			e.direction = Discharging
		} else {
			e.direction = Charging
		}
	}
	return e.direction
}

// Level returns the last accepted level without sampling.
func (e *Estimator) Level() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastLevel
}

func (e *Estimator) Direction() Direction {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.direction
}

func (e *Estimator) IsCharging() bool {
	return e.Direction() == Charging
}

func (e *Estimator) IsDischarging() bool {
	return e.Direction() == Discharging
}

// IsChargingDone reports a full battery. It looks only at the level, so a
// full battery reports done even while the direction says discharging.
func (e *Estimator) IsChargingDone() bool {
	return e.Level() == 100
}

// Snapshot returns level and direction read under a single lock.
func (e *Estimator) Snapshot() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{
		Level:        e.lastLevel,
		Voltage:      e.lastVoltage,
		Direction:    e.direction,
		Charging:     e.direction == Charging,
		Discharging:  e.direction == Discharging,
		ChargingDone: e.lastLevel == 100,
	}
}
