package main

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/miyako/dtxplay"
	"github.com/miyako/dtxplay/compiler"
	"github.com/miyako/dtxplay/parser"
)

var (
	compileJSON bool
	compileYAML bool
	compileSeed int64
)

// timelineEvent is the flat serialization of one event, used by validation
// tooling that diffs compiled timelines between runs or implementations.
type timelineEvent struct {
	TimeMs     float64 `json:"timeMs" yaml:"time_ms"`
	DurationMs float64 `json:"durationMs,omitempty" yaml:"duration_ms,omitempty"`
	Measure    int     `json:"measure" yaml:"measure"`
	Channel    string  `json:"channel" yaml:"channel"`
	Kind       string  `json:"kind" yaml:"kind"`
	Lane       string  `json:"lane,omitempty" yaml:"lane,omitempty"`
	Slot       int     `json:"slot" yaml:"slot"`
	Resource   string  `json:"resource,omitempty" yaml:"resource,omitempty"`
	Autoplay   bool    `json:"autoplay" yaml:"autoplay"`
}

var compileCmd = &cobra.Command{
	Use:   "compile <chart>",
	Short: "Compile a chart into its millisecond-accurate event timeline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := []parser.Option{}
		if cmd.Flags().Changed("seed") {
			rng := rand.New(rand.NewPCG(uint64(compileSeed), 0))
			opts = append(opts, parser.WithRandom(func(n int) int { return rng.IntN(n) + 1 }))
		}
		chart, err := parser.ParseFile(args[0], opts...)
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
		if !compileJSON && !compileYAML {
			fmt.Printf("%d events, %.1f ms\n", len(timeline), timeline.DurationMs())
			return nil
		}
		dump := make([]timelineEvent, len(timeline))
		for i, ev := range timeline {
			dump[i] = timelineEvent{
				TimeMs:     ev.TimeMs,
				DurationMs: ev.DurationMs,
				Measure:    ev.Measure,
				Channel:    ev.Channel.Code,
				Kind:       ev.Channel.Kind.String(),
				Slot:       ev.Slot,
				Autoplay:   ev.Autoplay,
			}
			if ev.Channel.Lane != dtxplay.LaneNone {
				dump[i].Lane = ev.Channel.Lane.String()
			}
			if ev.Ref != nil {
				dump[i].Resource = ev.Ref.Kind.String() + ":" + ev.Ref.ID
			}
		}
		var out []byte
		if compileJSON {
			out, err = json.MarshalIndent(dump, "", "  ")
		} else {
			out, err = yaml.Marshal(dump)
		}
		if err != nil {
			return fmt.Errorf("marshaling timeline: %w", err)
		}
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	compileCmd.Flags().BoolVarP(&compileJSON, "json", "j", false, "print the timeline as json")
	compileCmd.Flags().BoolVarP(&compileYAML, "yaml", "y", false, "print the timeline as yaml")
	compileCmd.Flags().Int64Var(&compileSeed, "seed", 0, "fixed seed for #RANDOM draws, for reproducible output")
	rootCmd.AddCommand(compileCmd)
}
