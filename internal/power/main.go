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
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/TheCacophonyProject/event-reporter/v3/eventclient"
	"github.com/TheCacophonyProject/rpi-net-manager/netmanagerclient"
	"github.com/alexflint/go-arg"
	"github.com/sirupsen/logrus"
	"github.com/voicebox-boards/epd-board-controller/i2crequest"
	"github.com/voicebox-boards/epd-board-controller/internal/ads1115"
	"github.com/voicebox-boards/epd-board-controller/internal/battery"
	"github.com/voicebox-boards/epd-board-controller/internal/buttons"
	"github.com/voicebox-boards/epd-board-controller/internal/config"
	"github.com/voicebox-boards/epd-board-controller/internal/mqtt"
	"github.com/voicebox-boards/epd-board-controller/internal/tca9554"
	"golang.org/x/sync/errgroup"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

var version = "<not set>"
var log = logrus.New()

type Args struct {
	Service  *subcommand `arg:"subcommand:service" help:"Run the power manager."`
	Battery  *Battery    `arg:"subcommand:battery" help:"Print battery readings."`
	Rail     *Rail       `arg:"subcommand:rail"    help:"Switch a power rail through the running power manager."`
	Config   string      `arg:"-c,--config" help:"board configuration file"`
	LogLevel string      `arg:"-l, --log-level" default:"info" help:"Set the logging level (debug, info, warn, error)"`
}

type subcommand struct {
}

type Battery struct {
	Count    int `arg:"-n,--count" default:"10" help:"Number of readings, 0 for no limit"`
	Interval int `arg:"-i,--interval" default:"5" help:"Seconds between readings"`
}

type Rail struct {
	Name  string `arg:"positional,required" help:"epd, audio, vbat or codec_pa"`
	State string `arg:"positional,required" help:"on or off"`
}

func (Args) Version() string {
	return version
}

var defaultArgs = Args{
	Config: config.DefaultPath,
}

func procArgs(input []string) (Args, error) {
	args := defaultArgs

	parser, err := arg.NewParser(arg.Config{}, &args)
	if err != nil {
		return Args{}, err
	}
	err = parser.Parse(input)
	if errors.Is(err, arg.ErrHelp) {
		parser.WriteHelp(os.Stdout)
		os.Exit(0)
	}
	if errors.Is(err, arg.ErrVersion) {
		fmt.Println(version)
		os.Exit(0)
	}
	return args, err
}

func Run(inputArgs []string, ver string) error {
	version = ver
	args, err := procArgs(inputArgs)
	if err != nil {
		return fmt.Errorf("failed to parse args: %v", err)
	}
	level, err := logrus.ParseLevel(args.LogLevel)
	if err != nil {
		return err
	}
	log.SetLevel(level)

	log.Infof("Running version: %s", version)

	if args.Rail != nil {
		return runRail(args.Rail)
	}

	conf, err := config.Load(args.Config)
	if err != nil {
		return err
	}

	if args.Battery != nil {
		return runBattery(conf, args.Battery)
	}
	if args.Service != nil {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runService(ctx, conf)
	}
	return errors.New("no subcommand given")
}

func runRail(r *Rail) error {
	var on bool
	switch r.State {
	case "on":
		on = true
	case "off":
		on = false
	default:
		return fmt.Errorf("invalid rail state '%s', use on or off", r.State)
	}
	return setRailWithService(r.Name, on)
}

// openConns returns connections to the expander and the ADC, either on a
// bus opened here or through the i2c service.
func openConns(conf *config.Config) (conn.Conn, conn.Conn, error) {
	if !conf.I2C.Direct {
		log.Debug("Using the i2c service for bus access")
		return &i2crequest.Dev{Addr: byte(conf.I2C.ExpanderAddress)},
			&i2crequest.Dev{Addr: byte(conf.I2C.ADCAddress)}, nil
	}
	bus, err := i2creg.Open(conf.I2C.Bus)
	if err != nil {
		return nil, nil, err
	}
	return &i2c.Dev{Bus: bus, Addr: conf.I2C.ExpanderAddress},
		&i2c.Dev{Bus: bus, Addr: conf.I2C.ADCAddress}, nil
}

func newSampler(conf *config.Config, c conn.Conn) *ads1115.Sampler {
	return &ads1115.Sampler{
		Dev:     ads1115.New(c),
		Channel: conf.Battery.ADCChannel,
		Divider: conf.Battery.Divider,
	}
}

func railsFromConfig(rc config.RailsConfig) (Rails, error) {
	var rails Rails
	var err error
	if rails.EPD, err = tca9554.PinByNumber(rc.EPD); err != nil {
		return rails, err
	}
	if rails.Audio, err = tca9554.PinByNumber(rc.Audio); err != nil {
		return rails, err
	}
	if rails.CodecPA, err = tca9554.PinByNumber(rc.CodecPA); err != nil {
		return rails, err
	}
	if rails.Vbat, err = tca9554.PinByNumber(rc.Vbat); err != nil {
		return rails, err
	}
	return rails, nil
}

func runBattery(conf *config.Config, b *Battery) error {
	if _, err := host.Init(); err != nil {
		return err
	}
	_, adcConn, err := openConns(conf)
	if err != nil {
		return err
	}
	sampler := newSampler(conf, adcConn)
	estimator := battery.NewEstimator()
	for i := 0; b.Count == 0 || i < b.Count; i++ {
		if i > 0 {
			time.Sleep(time.Duration(b.Interval) * time.Second)
		}
		v, err := sampler.ReadVoltage()
		if err != nil {
			log.Errorf("Error reading battery: %v", err)
			continue
		}
		level := estimator.UpdateLevel(battery.Volts(v))
		log.Infof("Battery: %.3fV, level %d%%", v, level)
	}
	return nil
}

func runService(ctx context.Context, conf *config.Config) error {
	log.Debug("Initializing host")
	if _, err := host.Init(); err != nil {
		return err
	}
	expConn, adcConn, err := openConns(conf)
	if err != nil {
		return err
	}

	log.Info("Connecting to IO expander")
	exp, err := tca9554.New(expConn)
	if err != nil {
		return err
	}
	rails, err := railsFromConfig(conf.Rails)
	if err != nil {
		return err
	}

	var keyPin gpio.PinIn
	if conf.Buttons.PowerPin != "" {
		p := gpioreg.ByName(conf.Buttons.PowerPin)
		if p == nil {
			return fmt.Errorf("GPIO pin %s not found", conf.Buttons.PowerPin)
		}
		keyPin = p
	}

	manager, err := NewManager(exp, rails, newSampler(conf, adcConn), keyPin)
	if err != nil {
		return err
	}
	log.Info("Waiting for power key release")
	if err := manager.WaitForKeyRelease(ctx); err != nil {
		return err
	}
	if err := manager.SetCodecPA(true); err != nil {
		return err
	}

	var publisher mqtt.Publisher
	if conf.MQTT.Broker != "" {
		log.Infof("Connecting to MQTT broker %s", conf.MQTT.Broker)
		p, err := mqtt.NewRealPublisher(conf.MQTT.Broker, conf.MQTT.ClientID, conf.MQTT.TopicPrefix)
		if err != nil {
			log.Errorf("MQTT disabled: %v", err)
		} else {
			if !p.IsConnected() {
				log.Warnf("MQTT broker %s not reachable yet, retrying in the background", conf.MQTT.Broker)
			}
			publisher = p
			defer publisher.Close()
		}
	}

	board := newBoard(manager, publisher)
	if err := startService(manager, board.powerOff); err != nil {
		return err
	}
	board.publishSystem("STARTUP")

	reporter := NewReporter(manager, conf.Battery.StatusInterval)
	reporter.Add("dbus", sendBatterySignal)
	reporter.Add("events", reportBatteryEvent)
	if publisher != nil {
		reporter.Add("mqtt", publisher.PublishBattery)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return manager.NewMonitor(conf.Battery.DirectionInterval).Run(gctx)
	})
	g.Go(func() error {
		return reporter.Run(gctx)
	})
	opts := buttons.Options{LongPress: conf.Buttons.LongPress, Debounce: conf.Buttons.Debounce}
	g.Go(func() error {
		return watchButton(gctx, conf.Buttons.Chip, conf.Buttons.Boot, opts, board.onBootButton)
	})
	g.Go(func() error {
		return watchButton(gctx, conf.Buttons.Chip, conf.Buttons.Power, opts, board.onPowerButton)
	})

	err = g.Wait()
	board.publishSystem("SHUTDOWN")
	if errors.Is(err, context.Canceled) {
		log.Info("Stopped")
		return nil
	}
	return err
}

// watchButton keeps the power manager running when a button line cannot be
// requested; the board still works without buttons.
func watchButton(ctx context.Context, chip string, offset int, opts buttons.Options, handler func(buttons.Event)) error {
	err := buttons.Watch(ctx, chip, offset, opts, handler)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Errorf("Button on %s:%d disabled: %v", chip, offset, err)
		return nil
	}
	return err
}

// board reacts to the buttons on behalf of the application.
type board struct {
	manager          *Manager
	publisher        mqtt.Publisher
	sleep            func(time.Duration)
	addEvent         func(eventclient.Event) error
	readNetworkState func() (netmanagerclient.NetworkState, error)
}

func newBoard(m *Manager, p mqtt.Publisher) *board {
	return &board{
		manager:          m,
		publisher:        p,
		sleep:            time.Sleep,
		addEvent:         eventclient.AddEvent,
		readNetworkState: netmanagerclient.ReadState,
	}
}

func (b *board) publishSystem(event string) {
	if b.publisher == nil {
		return
	}
	if err := b.publisher.PublishSystem(event, time.Now()); err != nil {
		log.Errorf("Error publishing %s: %v", event, err)
	}
}

func (b *board) onBootButton(e buttons.Event) {
	if e != buttons.Click {
		return
	}
	log.Info("Boot button clicked")
	b.publishSystem("BOOT_CLICK")
	state, err := b.readNetworkState()
	if err != nil {
		log.Errorf("Error reading network state: %v", err)
		return
	}
	if state == netmanagerclient.NS_WIFI {
		return
	}
	log.Infof("Not connected to wifi (%s), requesting wifi reconfiguration", state)
	err = b.addEvent(eventclient.Event{
		Timestamp: time.Now(),
		Type:      "wifiReconfigRequested",
		Details:   map[string]interface{}{"networkState": string(state)},
	})
	if err != nil {
		log.Errorf("Error adding event: %v", err)
	}
}

func (b *board) onPowerButton(e buttons.Event) {
	if e != buttons.LongPress {
		return
	}
	log.Info("Power button held")
	if err := b.powerOff(); err != nil {
		log.Errorf("Power off failed: %v", err)
	}
}

// powerOff shows OFF for a second and then drops the rails.
func (b *board) powerOff() error {
	b.publishSystem("OFF")
	err := b.addEvent(eventclient.Event{
		Timestamp: time.Now(),
		Type:      "powerOff",
		Details:   map[string]interface{}{"battery": b.manager.Estimator().Level()},
	})
	if err != nil {
		log.Errorf("Error adding event: %v", err)
	}
	b.sleep(time.Second)
	return b.manager.PowerOff()
}
