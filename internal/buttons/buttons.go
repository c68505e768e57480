// Package buttons turns active-low push button edges into click and long
// press events.
package buttons

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

type Event int

const (
	None Event = iota
	Click
	LongPress
)

func (e Event) String() string {
	switch e {
	case Click:
		return "click"
	case LongPress:
		return "long press"
	default:
		return "none"
	}
}

// Classifier decides what a press was from when it started and ended.
// A long press is reported once, either while the button is still held
// (Held) or at release, whichever comes first.
type Classifier struct {
	LongPress time.Duration

	pressed   bool
	pressedAt time.Time
	longSent  bool
}

func (c *Classifier) Press(at time.Time) {
	c.pressed = true
	c.pressedAt = at
	c.longSent = false
}

// Held returns LongPress the first time the button has been held long enough.
func (c *Classifier) Held(at time.Time) Event {
	if !c.pressed || c.longSent || at.Sub(c.pressedAt) < c.LongPress {
		return None
	}
	c.longSent = true
	return LongPress
}

func (c *Classifier) Release(at time.Time) Event {
	if !c.pressed {
		return None
	}
	c.pressed = false
	if c.longSent {
		return None
	}
	if at.Sub(c.pressedAt) >= c.LongPress {
		return LongPress
	}
	return Click
}

// Options for Watch.
type Options struct {
	LongPress time.Duration
	// Debounce is applied by the kernel, zero disables it.
	Debounce time.Duration
}

type button struct {
	mu         sync.Mutex
	classifier Classifier
	handler    func(Event)
	timer      *time.Timer
	now        func() time.Time
}

func newButton(opts Options, handler func(Event)) *button {
	return &button{
		classifier: Classifier{LongPress: opts.LongPress},
		handler:    handler,
		now:        time.Now,
	}
}

func (b *button) onEdge(evt gpiocdev.LineEvent) {
	b.mu.Lock()
	var e Event
	switch evt.Type {
	case gpiocdev.LineEventFallingEdge:
		b.classifier.Press(b.now())
		b.stopTimer()
		b.timer = time.AfterFunc(b.classifier.LongPress, b.checkHeld)
	case gpiocdev.LineEventRisingEdge:
		b.stopTimer()
		e = b.classifier.Release(b.now())
	}
	b.mu.Unlock()
	if e != None {
		b.handler(e)
	}
}

func (b *button) checkHeld() {
	b.mu.Lock()
	e := b.classifier.Held(b.now())
	b.mu.Unlock()
	if e != None {
		b.handler(e)
	}
}

// stopTimer must be called with b.mu held.
func (b *button) stopTimer() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}

// Watch requests the line and calls handler for each event until ctx is
// cancelled. handler runs on the gpiocdev event goroutine or a timer
// goroutine and should not block for long.
func Watch(ctx context.Context, chip string, offset int, opts Options, handler func(Event)) error {
	b := newButton(opts, handler)
	reqOpts := []gpiocdev.LineReqOption{
		gpiocdev.AsInput,
		gpiocdev.WithPullUp,
		gpiocdev.WithBothEdges,
		gpiocdev.WithEventHandler(b.onEdge),
	}
	if opts.Debounce > 0 {
		reqOpts = append(reqOpts, gpiocdev.WithDebounce(opts.Debounce))
	}
	line, err := gpiocdev.RequestLine(chip, offset, reqOpts...)
	if err != nil {
		return fmt.Errorf("request line %s:%d: %w", chip, offset, err)
	}
	<-ctx.Done()
	b.mu.Lock()
	b.stopTimer()
	b.mu.Unlock()
	if err := line.Close(); err != nil {
		return err
	}
	return ctx.Err()
}
