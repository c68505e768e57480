// Package ads1115 reads single-shot conversions from a TI ADS1115 ADC and
// turns them into battery voltages.
package ads1115

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3"
)

const (
	DefaultAddress uint16 = 0x48

	regConversion byte = 0x00
	regConfig     byte = 0x01

	cfgStartSingle = 1 << 15
	cfgMuxSingle0  = 0x4 << 12
	cfgPGA4096     = 0x1 << 9
	cfgModeSingle  = 1 << 8
	cfgRate128     = 0x4 << 5
	cfgCompDisable = 0x3

	// Full scale of ±4.096V over a signed 16 bit result.
	milliVoltsPerBit = 4096.0 / 32768.0

	conversionTime = 9 * time.Millisecond
	maxPolls       = 5
)

var (
	errNotReady       = errors.New("ads1115: conversion not ready")
	errInvalidChannel = errors.New("ads1115: channel must be 0-3")
)

// sleepFn is replaced in tests.
var sleepFn = time.Sleep

// Dev is an ADS1115 on a bus.
type Dev struct {
	mu sync.Mutex
	c  conn.Conn
}

func New(c conn.Conn) *Dev {
	return &Dev{c: c}
}

// ReadMilliVolts runs one single-ended conversion on channel ch (0-3).
func (d *Dev) ReadMilliVolts(ch int) (float64, error) {
	if ch < 0 || ch > 3 {
		return 0, errInvalidChannel
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	cfg := uint16(cfgStartSingle | cfgMuxSingle0 | cfgPGA4096 | cfgModeSingle | cfgRate128 | cfgCompDisable)
	cfg |= uint16(ch) << 12
	if err := d.c.Tx([]byte{regConfig, byte(cfg >> 8), byte(cfg)}, nil); err != nil {
		return 0, fmt.Errorf("ads1115: start conversion: %w", err)
	}

	ready := false
	r := make([]byte, 2)
	for i := 0; i < maxPolls; i++ {
		sleepFn(conversionTime)
		if err := d.c.Tx([]byte{regConfig}, r); err != nil {
			return 0, fmt.Errorf("ads1115: read config: %w", err)
		}
		// OS reads back as 1 once the device is idle again.
		if r[0]&0x80 != 0 {
			ready = true
			break
		}
	}
	if !ready {
		return 0, errNotReady
	}

	if err := d.c.Tx([]byte{regConversion}, r); err != nil {
		return 0, fmt.Errorf("ads1115: read conversion: %w", err)
	}
	raw := int16(uint16(r[0])<<8 | uint16(r[1]))
	return float64(raw) * milliVoltsPerBit, nil
}

// Sampler reads the battery through a resistor divider on one ADC channel.
type Sampler struct {
	Dev     *Dev
	Channel int
	// Divider is the ratio of battery voltage to ADC input voltage.
	Divider float64
}

// ReadVoltage returns the battery voltage in volts.
func (s *Sampler) ReadVoltage() (float64, error) {
	mv, err := s.Dev.ReadMilliVolts(s.Channel)
	if err != nil {
		return 0, err
	}
	return mv / 1000.0 * s.Divider, nil
}
