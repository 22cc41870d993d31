package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/NatureBlueee/Towow-sub000/cmd/resonance/commands"
)

var rootCmd = &cobra.Command{
	Use:           "resonance",
	Short:         "Resonance node CLI",
	Long:          `Command line interface for submitting signals, reporting outcomes and managing agents on a resonance node.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(commands.SubmitCmd)
	rootCmd.AddCommand(commands.ResultCmd)
	rootCmd.AddCommand(commands.CancelCmd)
	rootCmd.AddCommand(commands.RetryCmd)
	rootCmd.AddCommand(commands.OfferCmd)
	rootCmd.AddCommand(commands.EchoCmd)
	rootCmd.AddCommand(commands.AgentsCmd)
	rootCmd.AddCommand(commands.ScenesCmd)
	rootCmd.AddCommand(commands.TemplateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
