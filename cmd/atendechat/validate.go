package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/listiago/atendechat/internal/validator"
	"github.com/listiago/atendechat/pkg/adapters/file"
)

var validateCmd = &cobra.Command{
	Use:   "validate FILE",
	Short: "Check a flow definition for consistency",
	Long:  `Decodes a flow (JSON or YAML) and runs the activation checks: entry node, dangling connections, branch coverage and suspending cycles.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		flow, err := file.ReadFlow(args[0])
		if err != nil {
			return fmt.Errorf("read flow: %w", err)
		}
		if err := validator.Validate(flow); err != nil {
			return fmt.Errorf("validation failed: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Flow %s is valid ✅\n", flow.ID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
