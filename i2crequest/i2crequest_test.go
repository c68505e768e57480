package i2crequest

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDevTxUsesService(t *testing.T) {
	MockTxResponses([]TxResponse{
		{Response: []byte{}},
		{Response: []byte{0xAB}},
	})
	defer StopMocking()

	d := &Dev{Addr: 0x20}
	require.NoError(t, d.Tx([]byte{0x01, 0xFF}, nil))

	r := make([]byte, 1)
	require.NoError(t, d.Tx([]byte{0x03}, r))
	assert.Equal(t, byte(0xAB), r[0])

	assert.Equal(t, [][]byte{{0x01, 0xFF}, {0x03}}, MockRequests())
}

func TestDevTxShortResponse(t *testing.T) {
	MockTxResponses([]TxResponse{{Response: []byte{0x01}}})
	defer StopMocking()

	d := &Dev{Addr: 0x48}
	assert.Error(t, d.Tx([]byte{0x00}, make([]byte, 2)))
}

func TestCheckAddressError(t *testing.T) {
	busErr := errors.New("org.voicebox.i2c.ErrorUsingI2CBus")
	MockTxResponses([]TxResponse{{Err: busErr}})
	defer StopMocking()

	assert.Equal(t, busErr, CheckAddress(0x20, 100))
}
