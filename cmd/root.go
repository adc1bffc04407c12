package cmd

import "github.com/spf13/cobra"

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "cardbridge",
		Short:         "cardbridge: host card editor plugins behind a trusted message bridge",
		Long:          "cardbridge loads card editor plugins, speaks the plugin bridge protocol with them over websockets or framed streams, and persists their card configuration.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.AddCommand(
		newVersionCmd(),
		newServeCmd(),
	)

	return rootCmd
}
