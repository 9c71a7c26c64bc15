package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/konard/RDmitryV-Trial-RDV/internal/store/memory"
)

func newToolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "Print the parameter schemas of the research tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			registry, err := newRegistry(cfg, memory.New(), nil)
			if err != nil {
				return err
			}
			encoder := json.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent("", "  ")
			return encoder.Encode(registry.Schemas())
		},
	}
}
