package power

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/voicebox-boards/epd-board-controller/internal/tca9554"
)

func newTestService(t *testing.T, s *fakeSampler, powerOff func() error) (*service, *fakeExpander) {
	exp := &fakeExpander{}
	m, err := NewManager(exp, testRails, s, nil)
	require.NoError(t, err)
	return &service{manager: m, powerOff: powerOff}, exp
}

func TestServiceGetBatteryLevel(t *testing.T) {
	s, _ := newTestService(t, &fakeSampler{volts: 3.80}, nil)

	level, charging, discharging, err := s.GetBatteryLevel()
	require.Nil(t, err)
	assert.Equal(t, int32(60), level)
	assert.False(t, charging)
	assert.True(t, discharging)

	done, err := s.IsChargingDone()
	require.Nil(t, err)
	assert.False(t, done)
}

func TestServiceSetRail(t *testing.T) {
	s, exp := newTestService(t, &fakeSampler{}, nil)

	require.Nil(t, s.SetRail(RailAudio, false))
	assert.Zero(t, exp.levels&tca9554.Pin1)

	dbusErr := s.SetRail("backlight", true)
	require.NotNil(t, dbusErr)
	assert.Equal(t, dbusName+".SetRail", dbusErr.Name)
	require.Len(t, dbusErr.Body, 1)
	assert.Contains(t, dbusErr.Body[0], "backlight")

	exp.err = errors.New("nack")
	dbusErr = s.SetRail(RailEPD, true)
	require.NotNil(t, dbusErr)
	assert.Equal(t, []interface{}{"nack"}, dbusErr.Body)
}

func TestServicePowerOff(t *testing.T) {
	calls := 0
	s, _ := newTestService(t, &fakeSampler{}, func() error {
		calls++
		return nil
	})
	assert.Nil(t, s.PowerOff())
	assert.Equal(t, 1, calls)

	s.powerOff = func() error { return errors.New("rail stuck") }
	dbusErr := s.PowerOff()
	require.NotNil(t, dbusErr)
	assert.Equal(t, dbusName+".PowerOff", dbusErr.Name)
	assert.Equal(t, []interface{}{"rail stuck"}, dbusErr.Body)
}
