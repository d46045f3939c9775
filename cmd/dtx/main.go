package main

import (
	"github.com/spf13/cobra"

	"github.com/miyako/dtxplay"
	"github.com/miyako/dtxplay/version"
)

var rootCmd = &cobra.Command{
	Use:     "dtx",
	Short:   "Chart timeline compiler and playback scheduler for DTX-style charts",
	Version: version.VersionOrHash,
}

var configPath string

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "play configuration yaml (windows, polyphony, chokes, midi map)")
}

func loadConfig() (dtxplay.PlayConfig, error) {
	if configPath == "" {
		return dtxplay.DefaultPlayConfig(), nil
	}
	return dtxplay.LoadPlayConfig(configPath)
}

func main() {
	cobra.CheckErr(rootCmd.Execute())
}
