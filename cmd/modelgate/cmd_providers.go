package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/user/modelgate/internal/config"
)

func init() {
	rootCmd.AddCommand(providersCmd)
}

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List configured providers and their capabilities",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		registry, err := config.BuildRegistry(cfg)
		if err != nil {
			return err
		}
		for _, name := range registry.Names() {
			caps, err := registry.Capabilities(name)
			if err != nil {
				return err
			}
			marker := " "
			if name == cfg.Default {
				marker = "*"
			}
			fmt.Fprintf(os.Stdout, "%s %-12s model=%-28s streaming=%-5v tools=%v\n",
				marker, name, cfg.ModelFor(name), caps.Streaming, caps.ToolCalling)
		}
		return nil
	},
}
