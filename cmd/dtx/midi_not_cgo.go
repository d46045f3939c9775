//go:build !cgo

package main

import (
	"github.com/miyako/dtxplay"
	"github.com/miyako/dtxplay/player"
)

func newMIDIInput(broker *player.Broker, clock dtxplay.Clock, cfg dtxplay.PlayConfig) player.MIDIInput {
	return player.NullMIDIInput{}
}
