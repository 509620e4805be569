package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	var cfgPath string
	root := &cobra.Command{
		Use:           "inkchat",
		Short:         "Chat with your PDFs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default ~/.inkchat/config.yaml)")

	root.AddCommand(
		serveCMD(&cfgPath),
		tuiCMD(&cfgPath),
		ingestCMD(&cfgPath),
		askCMD(&cfgPath),
		deleteCMD(&cfgPath),
		migrateCMD(&cfgPath),
		configCMD(&cfgPath),
		modelsCMD(&cfgPath),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
