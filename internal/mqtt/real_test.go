package mqtt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/voicebox-boards/epd-board-controller/internal/battery"
)

func TestRealPublisherWithBrokerDown(t *testing.T) {
	defer func(d time.Duration) { connectTimeout = d }(connectTimeout)
	connectTimeout = 100 * time.Millisecond

	// Nothing listens on port 1.
	p, err := NewRealPublisher("tcp://127.0.0.1:1", "epd-board-test", "voicebox/test")
	require.NoError(t, err)
	require.NotNil(t, p)
	defer p.Close()

	assert.False(t, p.IsConnected())
	assert.ErrorIs(t, p.PublishSystem("STARTUP", time.Now()), ErrNotConnected)
	assert.ErrorIs(t, p.PublishBattery(battery.Status{Level: 60}, time.Now()), ErrNotConnected)
}
