package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vanshika/amlwatch/internal/generator"
)

func newDatagenCmd() *cobra.Command {
	cfg := generator.DefaultConfig()
	var (
		outputDir   string
		writeStdout bool
	)

	cmd := &cobra.Command{
		Use:   "datagen",
		Short: "Generate synthetic flagged records in the auditor's on-chain shape",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg.RawShare = clampProbability(cfg.RawShare)

			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()

			records, err := generator.New(cfg).Generate(ctx)
			if err != nil {
				return fmt.Errorf("generation failed: %w", err)
			}

			if writeStdout {
				return generator.Encode(cmd.OutOrStdout(), records)
			}
			path, err := generator.WriteRecords(records, outputDir)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Generated %d flagged records into %s\n", len(records), path)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&cfg.NumRecords, "records", cfg.NumRecords, "number of flagged records to generate")
	flags.IntVar(&cfg.NumWallets, "wallets", cfg.NumWallets, "size of the wallet pool records draw from")
	flags.Float64Var(&cfg.SimpleShare, "simple-share", cfg.SimpleShare, "relative weight of sender/receiver records")
	flags.Float64Var(&cfg.LayerShare, "layer-share", cfg.LayerShare, "relative weight of multi-hop layering records")
	flags.Float64Var(&cfg.ClusterShare, "cluster-share", cfg.ClusterShare, "relative weight of linked-cluster records")
	flags.IntVar(&cfg.MaxHops, "max-hops", cfg.MaxHops, "maximum accounts in a layering path")
	flags.Float64Var(&cfg.RawShare, "raw-share", cfg.RawShare, "fraction of undecodable on-chain strings")
	flags.Int64Var(&cfg.Seed, "seed", cfg.Seed, "random seed for deterministic generation")
	flags.StringVar(&outputDir, "output-dir", "data", "directory to write flagged.json")
	flags.BoolVar(&writeStdout, "stdout", false, "write records to stdout instead of a file")
	return cmd
}

func clampProbability(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}
