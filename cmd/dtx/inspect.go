package main

import (
	"fmt"
	"os"

	"github.com/davecgh/go-spew/spew"
	"github.com/spf13/cobra"

	"github.com/miyako/dtxplay"
	"github.com/miyako/dtxplay/parser"
)

var inspectDump bool

var inspectCmd = &cobra.Command{
	Use:   "inspect <chart>",
	Short: "Parse a chart and report its resources, chips and warnings",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		chart, err := parser.ParseFile(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("title:   %s\n", chart.Title)
		fmt.Printf("artist:  %s\n", chart.Artist)
		fmt.Printf("bpm:     %g\n", chart.BPM)
		if chart.Level != "" {
			fmt.Printf("level:   %s\n", chart.Level)
		}
		if chart.BGMWav != "" {
			fmt.Printf("bgm wav: %s\n", chart.BGMWav)
		}
		for _, kind := range []dtxplay.ResourceKind{dtxplay.Sound, dtxplay.Image, dtxplay.Video, dtxplay.TempoValue} {
			if n := chart.Resources.Count(kind); n > 0 {
				fmt.Printf("%-8s %d declared\n", kind.String()+"s:", n)
			}
		}
		fmt.Printf("chips:   %d\n", len(chart.Chips))
		for _, w := range chart.Warnings {
			fmt.Fprintf(os.Stderr, "warning: %s\n", w)
		}
		if inspectDump {
			spew.Fdump(os.Stdout, chart.Resources.All(dtxplay.Sound))
			spew.Fdump(os.Stdout, chart.Chips)
		}
		return nil
	},
}

func init() {
	inspectCmd.Flags().BoolVar(&inspectDump, "dump", false, "dump the full resource table and chip arena")
	rootCmd.AddCommand(inspectCmd)
}
