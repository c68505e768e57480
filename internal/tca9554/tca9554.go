// Package tca9554 drives the TI TCA9554 8-bit I2C I/O expander.
//
// The device has four registers: input port, output port, polarity inversion
// and configuration. A configuration bit of 1 makes the pin an input, which
// is also the power-on state of every pin.
package tca9554

import (
	"fmt"
	"sync"

	"periph.io/x/conn/v3"
)

const (
	// DefaultAddress is the address with A2..A0 tied low.
	DefaultAddress uint16 = 0x20

	regInput    byte = 0x00
	regOutput   byte = 0x01
	regPolarity byte = 0x02
	regConfig   byte = 0x03
)

// Pin is a bit mask of expander pins. Masks can be OR-ed together.
type Pin uint8

const (
	Pin0 Pin = 1 << iota
	Pin1
	Pin2
	Pin3
	Pin4
	Pin5
	Pin6
	Pin7
)

// PinByNumber returns the mask for pin n (0-7).
func PinByNumber(n int) (Pin, error) {
	if n < 0 || n > 7 {
		return 0, fmt.Errorf("tca9554: invalid pin number %d", n)
	}
	return Pin(1 << n), nil
}

// Dev is a TCA9554 on a bus. Output and configuration registers are cached
// so that unchanged writes are skipped.
type Dev struct {
	mu     sync.Mutex
	c      conn.Conn
	output byte
	config byte
}

// New reads the current output and configuration registers from the device.
func New(c conn.Conn) (*Dev, error) {
	d := &Dev{c: c}
	var err error
	if d.output, err = d.readReg(regOutput); err != nil {
		return nil, err
	}
	if d.config, err = d.readReg(regConfig); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Dev) String() string {
	return fmt.Sprintf("TCA9554{%s}", d.c)
}

// SetDirection configures pins as outputs or inputs.
func (d *Dev) SetDirection(pins Pin, output bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	v := d.config | byte(pins)
	if output {
		v = d.config &^ byte(pins)
	}
	if v == d.config {
		return nil
	}
	if err := d.writeReg(regConfig, v); err != nil {
		return err
	}
	d.config = v
	return nil
}

// SetLevel drives the output latch of pins high or low. Pins configured as
// inputs keep the latched value until they are switched to outputs.
func (d *Dev) SetLevel(pins Pin, high bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	v := d.output &^ byte(pins)
	if high {
		v = d.output | byte(pins)
	}
	if v == d.output {
		return nil
	}
	if err := d.writeReg(regOutput, v); err != nil {
		return err
	}
	d.output = v
	return nil
}

// Read returns the logic levels of all pins as seen on the input port.
func (d *Dev) Read() (Pin, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, err := d.readReg(regInput)
	return Pin(v), err
}

// Output returns the cached output latch.
func (d *Dev) Output() Pin {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Pin(d.output)
}

// Outputs returns the pins currently configured as outputs.
func (d *Dev) Outputs() Pin {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Pin(^d.config)
}

func (d *Dev) readReg(reg byte) (byte, error) {
	r := make([]byte, 1)
	if err := d.c.Tx([]byte{reg}, r); err != nil {
		return 0, fmt.Errorf("tca9554: read register 0x%02X: %w", reg, err)
	}
	return r[0], nil
}

func (d *Dev) writeReg(reg, val byte) error {
	if err := d.c.Tx([]byte{reg, val}, nil); err != nil {
		return fmt.Errorf("tca9554: write register 0x%02X: %w", reg, err)
	}
	return nil
}
