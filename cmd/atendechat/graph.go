package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/listiago/atendechat/internal/presentation/graph"
	"github.com/listiago/atendechat/pkg/adapters/file"
)

var graphCmd = &cobra.Command{
	Use:   "graph FILE",
	Short: "Export the flow graph visualization",
	Long:  `Reads a flow definition and outputs a Mermaid diagram (graph TD) of its nodes and connections.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		flow, err := file.ReadFlow(args[0])
		if err != nil {
			return fmt.Errorf("read flow: %w", err)
		}
		fmt.Fprint(cmd.OutOrStdout(), graph.GenerateMermaid(flow, nil))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(graphCmd)
}
