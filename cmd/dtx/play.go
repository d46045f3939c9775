package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/miyako/dtxplay/compiler"
	"github.com/miyako/dtxplay/oto"
	"github.com/miyako/dtxplay/parser"
	"github.com/miyako/dtxplay/player"
)

var (
	playMIDIPrefix string
	playFirstMIDI  bool
	playRate       int
	playTailSec    float64
)

var playCmd = &cobra.Command{
	Use:   "play <chart>",
	Short: "Play a chart in real time; with a MIDI input, judge your hits",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		chart, err := parser.ParseFile(args[0])
		if err != nil {
			return err
		}
		for _, w := range chart.Warnings {
			fmt.Fprintf(os.Stderr, "warning: %s\n", w)
		}
		timeline, err := compiler.Compile(chart)
		if err != nil {
			return err
		}

		judged := playMIDIPrefix != "" || playFirstMIDI
		if !judged {
			// Without an input device the chart auto-plays: every note fires
			// at its own time instead of waiting half a window to be missed.
			for i := range timeline {
				timeline[i].Autoplay = true
			}
		}

		ctx, err := oto.NewContext(playRate)
		if err != nil {
			return err
		}
		sink := ctx.NewSink()
		defer sink.Close()
		for _, err := range sink.Preload(&chart.Resources, filepath.Dir(args[0])) {
			fmt.Fprintf(os.Stderr, "warning: %v\n", err)
		}

		broker := player.NewBroker()
		pl := player.NewPlayer(broker, sink, sink, timeline, cfg)
		go pl.Run()

		midi := newMIDIInput(broker, sink, cfg)
		defer midi.Close()
		if judged {
			if err := midi.TryToOpenBy(playMIDIPrefix, playFirstMIDI); err != nil {
				return err
			}
		}

		interrupt := make(chan os.Signal, 1)
		signal.Notify(interrupt, os.Interrupt)

		fmt.Printf("playing %q by %s (%d events)\n", chart.Title, chart.Artist, len(timeline))
		player.TrySend(broker.ToPlayer, any(player.StartMsg{}))

		done := false
		for !done {
			select {
			case msg := <-broker.ToModel:
				switch {
				case msg.Judgment != nil:
					j := msg.Judgment
					fmt.Printf("%8.1fms  %-12s %s (%+.1fms)\n",
						j.Event.TimeMs, j.Event.Channel.Lane, j.Tier, j.DeltaMs)
				case msg.Done:
					done = true
				case msg.Alert != "":
					fmt.Fprintln(os.Stderr, msg.Alert)
				}
			case <-interrupt:
				done = true
			}
		}

		// Let the last samples and the BGM tail ring out before teardown.
		time.Sleep(time.Duration(playTailSec * float64(time.Second)))
		player.TrySend(broker.ClosePlayer, struct{}{})
		player.TimeoutReceive(broker.FinishedPlayer, 3*time.Second)
		return nil
	},
}

func init() {
	playCmd.Flags().StringVar(&playMIDIPrefix, "midi", "", "open the MIDI input whose name starts with this prefix")
	playCmd.Flags().BoolVar(&playFirstMIDI, "first-midi", false, "open the first available MIDI input")
	playCmd.Flags().IntVar(&playRate, "rate", 44100, "output sample rate")
	playCmd.Flags().Float64Var(&playTailSec, "tail", 3, "seconds to keep playing after the last event")
	rootCmd.AddCommand(playCmd)
}
