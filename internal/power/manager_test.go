package power

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/voicebox-boards/epd-board-controller/internal/tca9554"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
)

type fakeExpander struct {
	outputs tca9554.Pin
	levels  tca9554.Pin
	writes  []string
	err     error
}

func (f *fakeExpander) SetDirection(pins tca9554.Pin, output bool) error {
	if f.err != nil {
		return f.err
	}
	if output {
		f.outputs |= pins
	} else {
		f.outputs &^= pins
	}
	return nil
}

func (f *fakeExpander) SetLevel(pins tca9554.Pin, high bool) error {
	if f.err != nil {
		return f.err
	}
	if high {
		f.levels |= pins
		f.writes = append(f.writes, "on")
	} else {
		f.levels &^= pins
		f.writes = append(f.writes, "off")
	}
	return nil
}

type fakeSampler struct {
	volts float64
	err   error
}

func (f *fakeSampler) ReadVoltage() (float64, error) {
	return f.volts, f.err
}

var testRails = Rails{
	EPD:     tca9554.Pin0,
	Audio:   tca9554.Pin1,
	CodecPA: tca9554.Pin3,
	Vbat:    tca9554.Pin5,
}

func TestNewManagerEnablesRails(t *testing.T) {
	exp := &fakeExpander{}
	key := &gpiotest.Pin{N: "GPIO18", L: gpio.High}
	_, err := NewManager(exp, testRails, &fakeSampler{}, key)
	require.NoError(t, err)

	supplies := tca9554.Pin0 | tca9554.Pin1 | tca9554.Pin5
	assert.Equal(t, supplies, exp.outputs)
	assert.Equal(t, supplies, exp.levels)
	assert.Equal(t, gpio.PullUp, key.P)
}

func TestNewManagerExpanderError(t *testing.T) {
	_, err := NewManager(&fakeExpander{err: errors.New("nack")}, testRails, &fakeSampler{}, nil)
	assert.Error(t, err)
}

func TestRails(t *testing.T) {
	exp := &fakeExpander{}
	m, err := NewManager(exp, testRails, &fakeSampler{}, nil)
	require.NoError(t, err)

	require.NoError(t, m.SetRail(RailCodecPA, true))
	assert.NotZero(t, exp.outputs&tca9554.Pin3)
	assert.NotZero(t, exp.levels&tca9554.Pin3)

	require.NoError(t, m.SetRail(RailEPD, false))
	assert.Zero(t, exp.levels&tca9554.Pin0)
	assert.Error(t, m.SetRail("backlight", true))

	require.NoError(t, m.PowerOff())
	assert.Equal(t, tca9554.Pin3, exp.levels)
}

func TestBatteryLevel(t *testing.T) {
	s := &fakeSampler{volts: 3.70}
	m, err := NewManager(&fakeExpander{}, testRails, s, nil)
	require.NoError(t, err)

	status := m.BatteryLevel()
	assert.Equal(t, 40, status.Level)
	assert.False(t, status.Charging)
	assert.True(t, status.Discharging)
	assert.False(t, m.IsChargingDone())

	s.err = errors.New("adc gone")
	assert.Equal(t, 40, m.BatteryLevel().Level)

	s.err = nil
	s.volts = 4.15
	assert.Equal(t, 100, m.BatteryLevel().Level)
	assert.True(t, m.IsChargingDone())
}

func TestWaitForKeyRelease(t *testing.T) {
	key := &gpiotest.Pin{N: "GPIO18", L: gpio.Low}
	m, err := NewManager(&fakeExpander{}, testRails, &fakeSampler{}, key)
	require.NoError(t, err)

	go func() {
		time.Sleep(150 * time.Millisecond)
		key.Lock()
		key.L = gpio.High
		key.Unlock()
	}()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, m.WaitForKeyRelease(ctx))
}

func TestWaitForKeyReleaseCancelled(t *testing.T) {
	key := &gpiotest.Pin{N: "GPIO18", L: gpio.Low}
	m, err := NewManager(&fakeExpander{}, testRails, &fakeSampler{}, key)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, m.WaitForKeyRelease(ctx), context.Canceled)
}
