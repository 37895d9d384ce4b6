package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ethpandaops/evaloor/pkg/config"
	"github.com/ethpandaops/evaloor/pkg/resultstore"
)

// Store identity flags shared by the inspect and export commands.
var (
	paradigm   string
	evaluation string
	suffix     string
)

func addStoreFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&paradigm, "paradigm", "", "paradigm kind of the store")
	cmd.Flags().StringVar(&evaluation, "evaluation", "", "evaluation kind of the store")
	cmd.Flags().StringVar(&suffix, "suffix", "", "optional store suffix")

	for _, flag := range []string{"paradigm", "evaluation"} {
		if err := cmd.MarkFlagRequired(flag); err != nil {
			panic(err)
		}
	}
}

// openStore loads the configuration and opens the identified store.
// The overwrite flag is deliberately not exposed here.
func openStore(ctx context.Context) (resultstore.Store, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	id := resultstore.StoreID{
		Evaluation: evaluation,
		Paradigm:   paradigm,
		Suffix:     suffix,
	}

	s := resultstore.New(log, cfg, id, false)
	if err := s.Init(ctx); err != nil {
		return nil, fmt.Errorf("opening result store: %w", err)
	}

	return s, nil
}
