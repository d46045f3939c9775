// Package gomidi feeds MIDI drum hits to the scheduler. A NoteOn on a mapped
// note becomes a HitMsg stamped with the scheduler's own clock, so input and
// promotion share one time base. Requires cgo for the rtmidi driver; builds
// without cgo use player.NullMIDIInput instead.
package gomidi

import (
	"errors"
	"fmt"
	"strings"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"

	"github.com/miyako/dtxplay"
	"github.com/miyako/dtxplay/player"
)

type Context struct {
	driver *rtmididrv.Driver
	in     drivers.In
	stop   func()

	broker *player.Broker
	clock  dtxplay.Clock
	cfg    dtxplay.PlayConfig
}

// NewContext opens the MIDI driver. A failed driver is not an error here;
// TryToOpenBy will report it if the caller actually wants input.
func NewContext(broker *player.Broker, clock dtxplay.Clock, cfg dtxplay.PlayConfig) *Context {
	c := &Context{broker: broker, clock: clock, cfg: cfg}
	// there is not much we can do if this fails, so c.driver stays nil to
	// indicate no driver available
	c.driver, _ = rtmididrv.New()
	return c
}

// TryToOpenBy opens the first input port whose name starts with namePrefix,
// or the first port of all when takeFirst is set.
func (c *Context) TryToOpenBy(namePrefix string, takeFirst bool) error {
	if c.driver == nil {
		return errors.New("no MIDI driver available")
	}
	ins, err := c.driver.Ins()
	if err != nil {
		return fmt.Errorf("listing MIDI inputs: %w", err)
	}
	for _, in := range ins {
		if takeFirst || strings.HasPrefix(in.String(), namePrefix) {
			return c.open(in)
		}
	}
	return fmt.Errorf("no MIDI input matching %q", namePrefix)
}

func (c *Context) open(in drivers.In) error {
	if err := in.Open(); err != nil {
		return fmt.Errorf("opening MIDI input %s: %w", in.String(), err)
	}
	stop, err := midi.ListenTo(in, c.handleMessage)
	if err != nil {
		in.Close()
		return fmt.Errorf("listening to MIDI input %s: %w", in.String(), err)
	}
	c.in = in
	c.stop = stop
	return nil
}

func (c *Context) handleMessage(msg midi.Message, timestampms int32) {
	var channel, key, velocity uint8
	if !msg.GetNoteOn(&channel, &key, &velocity) || velocity == 0 {
		return
	}
	lane, ok := c.cfg.LaneForMIDINote(int(key))
	if !ok {
		return
	}
	// Non-blocking like every send toward the scheduler; a dropped hit under
	// a full queue is better than a stalled MIDI callback.
	player.TrySend(c.broker.ToPlayer, any(player.HitMsg{Lane: lane, TimeMs: c.clock.NowMs()}))
}

func (c *Context) Close() {
	if c.stop != nil {
		c.stop()
	}
	if c.in != nil && c.in.IsOpen() {
		c.in.Close()
	}
	if c.driver != nil {
		c.driver.Close()
	}
}
