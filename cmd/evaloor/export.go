package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ethpandaops/evaloor/pkg/resultstore"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Flatten a result store into a CSV table",
	Long:  `Flatten every recorded result of a store into one CSV row per result.`,
	RunE:  runExport,
}

var exportOut string

func init() {
	rootCmd.AddCommand(exportCmd)
	addStoreFlags(exportCmd)

	exportCmd.Flags().StringVar(&exportOut, "out", "", "output CSV file path (defaults to stdout)")
}

func runExport(cmd *cobra.Command, _ []string) error {
	s, err := openStore(cmd.Context())
	if err != nil {
		return err
	}

	rows, err := s.ToTable(cmd.Context())
	if err != nil {
		return fmt.Errorf("flattening result store: %w", err)
	}

	out := os.Stdout

	if exportOut != "" {
		f, err := os.Create(exportOut)
		if err != nil {
			return fmt.Errorf("creating output file: %w", err)
		}
		defer f.Close()

		out = f
	}

	if err := resultstore.WriteCSV(out, rows); err != nil {
		return fmt.Errorf("writing csv: %w", err)
	}

	if exportOut != "" {
		log.WithFields(logrus.Fields{
			"rows": len(rows),
			"out":  exportOut,
		}).Info("Exported result table")
	}

	return nil
}
