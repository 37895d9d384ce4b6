package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Show metadata and row counts for a result store",
	Long:  `Open a result store and print its location, creation time and entity counts.`,
	RunE:  runInspect,
}

func init() {
	rootCmd.AddCommand(inspectCmd)
	addStoreFlags(inspectCmd)
}

func runInspect(cmd *cobra.Command, _ []string) error {
	s, err := openStore(cmd.Context())
	if err != nil {
		return err
	}

	summary, err := s.Info(cmd.Context())
	if err != nil {
		return fmt.Errorf("reading store info: %w", err)
	}

	out, err := yaml.Marshal(summary)
	if err != nil {
		return fmt.Errorf("encoding store info: %w", err)
	}

	_, err = os.Stdout.Write(out)

	return err
}
