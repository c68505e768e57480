// Package i2crequest sends I2C transactions through the bus owner service
// so that several processes can share the board's I2C bus.
package i2crequest

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/godbus/dbus"
	"periph.io/x/conn/v3"
)

const (
	dbusName = "org.voicebox.i2c"
	dbusPath = "/org/voicebox/i2c"

	// DefaultTimeout is how long, in milliseconds, the service may wait for the bus.
	DefaultTimeout = 1000
)

type TxResponse struct {
	Response []byte
	Err      error
}

var (
	mockMu        sync.Mutex
	mockResponses []TxResponse
	mockRequests  [][]byte
	mocking       bool
)

// MockTxResponses makes Tx return the given responses in order instead of
// calling the service. The written bytes are recorded for MockRequests.
func MockTxResponses(responses []TxResponse) {
	mockMu.Lock()
	defer mockMu.Unlock()
	mockResponses = responses
	mockRequests = nil
	mocking = true
}

// MockRequests returns the writes seen since MockTxResponses was called.
func MockRequests() [][]byte {
	mockMu.Lock()
	defer mockMu.Unlock()
	return mockRequests
}

// StopMocking restores the service transport.
func StopMocking() {
	mockMu.Lock()
	defer mockMu.Unlock()
	mocking = false
	mockResponses = nil
	mockRequests = nil
}

func mockTx(write []byte) ([]byte, error) {
	mockMu.Lock()
	defer mockMu.Unlock()
	mockRequests = append(mockRequests, append([]byte{}, write...))
	if len(mockResponses) == 0 {
		return nil, errors.New("no mocked response left")
	}
	r := mockResponses[0]
	mockResponses = mockResponses[1:]
	return r.Response, r.Err
}

func isMocking() bool {
	mockMu.Lock()
	defer mockMu.Unlock()
	return mocking
}

// Tx writes to and then reads readLen bytes from the device at address.
func Tx(address byte, write []byte, readLen, timeout int) ([]byte, error) {
	if isMocking() {
		return mockTx(write)
	}
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, err
	}
	obj := conn.Object(dbusName, dbusPath)

	var response []byte
	if err := obj.Call(dbusName+".Tx", 0, address, write, readLen, timeout).Store(&response); err != nil {
		return nil, err
	}

	return response, nil
}

// CheckAddress returns nil when a device acknowledges at address.
func CheckAddress(address byte, timeout int) error {
	_, err := Tx(address, []byte{0x00}, 1, timeout)
	return err
}

// Dev is a device reached through the bus owner service. It satisfies
// conn.Conn so device drivers can use it in place of an i2c.Dev.
type Dev struct {
	Addr    byte
	Timeout time.Duration
}

func (d *Dev) String() string {
	return fmt.Sprintf("%s(0x%02X)", dbusName, d.Addr)
}

func (d *Dev) Duplex() conn.Duplex {
	return conn.Half
}

func (d *Dev) Tx(w, r []byte) error {
	timeout := DefaultTimeout
	if d.Timeout > 0 {
		timeout = int(d.Timeout / time.Millisecond)
	}
	resp, err := Tx(d.Addr, w, len(r), timeout)
	if err != nil {
		return err
	}
	if len(resp) != len(r) {
		return fmt.Errorf("expected %d bytes from 0x%02X, got %d", len(r), d.Addr, len(resp))
	}
	copy(r, resp)
	return nil
}
