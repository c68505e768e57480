package power

import (
	"errors"

	"github.com/godbus/dbus"
	"github.com/godbus/dbus/introspect"
)

const (
	dbusName = "org.voicebox.Power"
	dbusPath = "/org/voicebox/Power"
)

type service struct {
	manager  *Manager
	powerOff func() error
}

func startService(m *Manager, powerOff func() error) error {
	conn, err := dbus.SystemBus()
	if err != nil {
		return err
	}
	reply, err := conn.RequestName(dbusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return err
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return errors.New("name already taken")
	}

	s := &service{
		manager:  m,
		powerOff: powerOff,
	}
	conn.Export(s, dbusPath, dbusName)
	conn.Export(genIntrospectable(s), dbusPath, "org.freedesktop.DBus.Introspectable")
	return nil
}

func genIntrospectable(v interface{}) introspect.Introspectable {
	node := &introspect.Node{
		Interfaces: []introspect.Interface{{
			Name:    dbusName,
			Methods: introspect.Methods(v),
		}},
	}
	return introspect.NewIntrospectable(node)
}

// GetBatteryLevel samples the battery and returns level, charging and discharging.
func (s *service) GetBatteryLevel() (int32, bool, bool, *dbus.Error) {
	status := s.manager.BatteryLevel()
	return int32(status.Level), status.Charging, status.Discharging, nil
}

func (s *service) IsChargingDone() (bool, *dbus.Error) {
	return s.manager.IsChargingDone(), nil
}

// SetRail switches one of "epd", "audio", "vbat" or "codec_pa".
func (s *service) SetRail(name string, on bool) *dbus.Error {
	log.Infof("Setting rail '%s' to %t", name, on)
	if err := s.manager.SetRail(name, on); err != nil {
		log.Error(err)
		return makeDbusError(".SetRail", err)
	}
	return nil
}

func (s *service) PowerOff() *dbus.Error {
	log.Info("Power off requested over dbus")
	if err := s.powerOff(); err != nil {
		return makeDbusError(".PowerOff", err)
	}
	return nil
}

func makeDbusError(name string, err error) *dbus.Error {
	return &dbus.Error{
		Name: dbusName + name,
		Body: []interface{}{err.Error()},
	}
}

// setRailWithService asks the running power manager to switch a rail.
func setRailWithService(name string, on bool) error {
	conn, err := dbus.SystemBus()
	if err != nil {
		return err
	}
	obj := conn.Object(dbusName, dbus.ObjectPath(dbusPath))
	return obj.Call(dbusName+".SetRail", 0, name, on).Err
}
