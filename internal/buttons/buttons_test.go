package buttons

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/warthog618/go-gpiocdev"
)

func TestClassifier(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := Classifier{LongPress: 2 * time.Second}

	assert.Equal(t, None, c.Release(start), "release without press")

	c.Press(start)
	assert.Equal(t, None, c.Held(start.Add(time.Second)))
	assert.Equal(t, Click, c.Release(start.Add(300*time.Millisecond)))

	c.Press(start)
	assert.Equal(t, LongPress, c.Release(start.Add(2*time.Second)))

	c.Press(start)
	assert.Equal(t, LongPress, c.Held(start.Add(3*time.Second)))
	assert.Equal(t, None, c.Held(start.Add(4*time.Second)), "long press is only sent once")
	assert.Equal(t, None, c.Release(start.Add(5*time.Second)))
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func TestButtonEdges(t *testing.T) {
	var events []Event
	clk := &clock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := newButton(Options{LongPress: time.Hour}, func(e Event) { events = append(events, e) })
	b.now = clk.now

	b.onEdge(gpiocdev.LineEvent{Type: gpiocdev.LineEventFallingEdge})
	clk.t = clk.t.Add(100 * time.Millisecond)
	b.onEdge(gpiocdev.LineEvent{Type: gpiocdev.LineEventRisingEdge})

	b.onEdge(gpiocdev.LineEvent{Type: gpiocdev.LineEventFallingEdge})
	clk.t = clk.t.Add(2 * time.Hour)
	b.checkHeld()
	b.onEdge(gpiocdev.LineEvent{Type: gpiocdev.LineEventRisingEdge})

	assert.Equal(t, []Event{Click, LongPress}, events)
	assert.Nil(t, b.timer)
}

func TestEventString(t *testing.T) {
	assert.Equal(t, "click", Click.String())
	assert.Equal(t, "long press", LongPress.String())
	assert.Equal(t, "none", None.String())
}
