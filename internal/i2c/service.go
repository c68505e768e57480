package i2c

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/TheCacophonyProject/event-reporter/v3/eventclient"
	"github.com/godbus/dbus"
	"github.com/godbus/dbus/introspect"
	"github.com/voicebox-boards/epd-board-controller/internal/config"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

const (
	dbusName = "org.voicebox.i2c"
	dbusPath = "/org/voicebox/i2c"

	// maxReadLen bounds a single read request.
	maxReadLen = 256
	txRetries  = 2
	retryDelay = 20 * time.Millisecond
	pollDelay  = 2 * time.Millisecond
)

type service struct {
	requests chan Request
	// busyPin is shared with the other bus master, nil when there is none.
	busyPin gpio.PinIO
	bus     i2c.Bus

	mutex         sync.Mutex
	requestCount  int
	waitingForBus bool

	sleep    func(time.Duration)
	addEvent func(eventclient.Event) error
}

func newService(bus i2c.Bus, busyPin gpio.PinIO) *service {
	return &service{
		requests: make(chan Request, 20),
		busyPin:  busyPin,
		bus:      bus,
		sleep:    time.Sleep,
		addEvent: eventclient.AddEvent,
	}
}

// process handles queued requests one at a time.
func (s *service) process() {
	for req := range s.requests {
		req.Response <- s.processTransaction(req)
	}
}

func startService(conf config.I2CConfig) error {
	log.Info("Starting I2C service")
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

	log.Debug("Initializing host")
	if _, err := host.Init(); err != nil {
		return err
	}
	bus, err := i2creg.Open(conf.Bus)
	if err != nil {
		return err
	}

	var pin gpio.PinIO
	if conf.BusyPin != "" {
		log.Debugf("Initializing pin '%s'", conf.BusyPin)
		pin = gpioreg.ByName(conf.BusyPin)
		if pin == nil {
			return fmt.Errorf("GPIO pin %s not found", conf.BusyPin)
		}
		if err := pin.In(gpio.Float, gpio.NoEdge); err != nil {
			return err
		}
	}

	s := newService(bus, pin)
	go s.process()

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

/*
// Read the TCA9554 output register.
// Address:      0x20
// Register:     0x01
// Read length:  1
// Timeout:      100ms
dbus-send --system --print-reply --dest=org.voicebox.i2c /org/voicebox/i2c org.voicebox.i2c.Tx \
byte:0x20 \
array:byte:0x01 \
int32:1 \
int32:100
*/

// Tx queues a transaction and waits for its result.
func (s *service) Tx(address byte, write []byte, readLen int, timeout int) ([]byte, *dbus.Error) {
	if readLen < 0 || readLen > maxReadLen {
		log.Errorf("Rejecting request to 0x%x with read length %d", address, readLen)
		return nil, dbus.NewError(dbusName+".InvalidReadLen",
			[]interface{}{fmt.Sprintf("read length %d outside 0-%d", readLen, maxReadLen)})
	}
	s.mutex.Lock()
	requestID := s.requestCount
	s.requestCount++
	s.mutex.Unlock()

	responseChan := make(chan Response, 1)
	request := Request{
		RequestTime: time.Now(),
		RequestID:   requestID,
		Address:     address,
		Write:       write,
		ReadLen:     readLen,
		Timeout:     timeout,
		Response:    responseChan,
	}
	log.Debugf("Adding request '%d' to the queue", requestID)
	s.requests <- request

	response := <-responseChan
	return response.Data, response.Err
}

type Request struct {
	RequestTime time.Time
	RequestID   int
	Address     byte
	Write       []byte
	ReadLen     int
	// Timeout in milliseconds for the busy pin to be released.
	Timeout  int
	Response chan Response
}

type Response struct {
	Data []byte
	Err  *dbus.Error
}

// claimBus waits for the busy pin to go low and then drives it high.
func (s *service) claimBus(req Request, startTime time.Time) *dbus.Error {
	if s.busyPin == nil {
		return nil
	}
	log.Debug("Waiting for I2C busy pin to go low.")
	for {
		if s.busyPin.Read() == gpio.Low {
			log.Debugf("Waited %s for I2C busy pin to go low.", time.Since(startTime))
			if err := s.busyPin.Out(gpio.High); err != nil {
				return dbus.NewError(dbusName+".ErrorUsingBusyBusPin", []interface{}{err.Error()})
			}
			return nil
		}
		if time.Since(startTime) > time.Duration(req.Timeout)*time.Millisecond {
			s.mutex.Lock()
			if !s.waitingForBus {
				s.waitingForBus = true
				go s.timeBusyPin(startTime)
			}
			s.mutex.Unlock()

			log.Infof("Request '%d' timed out waiting for bus pin", req.RequestID)
			return dbus.NewError(dbusName+".BusyTimeout", nil)
		}
		s.sleep(pollDelay)
	}
}

func (s *service) releaseBus() {
	if s.busyPin == nil {
		return
	}
	if err := s.busyPin.In(gpio.Float, gpio.NoEdge); err != nil {
		log.Errorf("Error releasing busy pin: %v", err)
	}
}

// timeBusyPin records how long the other master held the bus.
func (s *service) timeBusyPin(startTime time.Time) {
	log.Info("Checking how long I2C is busy for.")
	for s.busyPin.Read() != gpio.Low {
		s.sleep(pollDelay)
	}
	s.mutex.Lock()
	s.waitingForBus = false
	s.mutex.Unlock()

	waitTime := time.Since(startTime)
	log.Infof("Waited %s for I2C busy pin to go low.", waitTime)
	err := s.addEvent(eventclient.Event{
		Timestamp: time.Now(),
		Type:      "i2cBusyPinTimeout",
		Details:   map[string]interface{}{"seconds": waitTime.Seconds()},
	})
	if err != nil {
		log.Errorf("Error adding event: %v", err)
	}
}

func (s *service) processTransaction(req Request) Response {
	startTime := time.Now()
	log.Debugf("Waited %s for request '%d' to be processed.", startTime.Sub(req.RequestTime), req.RequestID)
	if err := s.claimBus(req, startTime); err != nil {
		return Response{Err: err}
	}
	defer s.releaseBus()

	read := make([]byte, req.ReadLen)
	log.Debugf("Writing %v, reading %d bytes", req.Write, len(read))
	var err error
	for i := 0; i <= txRetries; i++ {
		txStartTime := time.Now()
		err = s.bus.Tx(uint16(req.Address), req.Write, read)
		if err == nil {
			log.Debugf("I2C Tx succeeded after %d retries, took %s", i, time.Since(txStartTime))
			log.Debugf("Response %v", read)
			return Response{Data: read}
		}
		if i < txRetries {
			log.Debugf("I2C Tx failed, retrying %d more times: %s", txRetries-i, err)
			s.sleep(retryDelay)
		}
	}
	log.Errorf("I2C Tx failed. Address 0x%x, Write %v, ReadLen %d: %v", req.Address, req.Write, req.ReadLen, err)
	return Response{
		Err: dbus.NewError(dbusName+".ErrorUsingI2CBus", []interface{}{err.Error()}),
	}
}
