package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vanshika/amlwatch/internal/app"
	"github.com/vanshika/amlwatch/internal/config"
	"github.com/vanshika/amlwatch/internal/domain"
	"github.com/vanshika/amlwatch/internal/logging"
	"github.com/vanshika/amlwatch/internal/record"
	"github.com/vanshika/amlwatch/internal/service"
)

var errMissingCredentials = errors.New("--email and AMLCTL_PASSWORD are required to sync from the auditor")

func newIngestCmd() *cobra.Command {
	var (
		file    string
		email   string
		workers int
	)

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Project flagged records into the graph store, from the auditor or a file",
		Long: `ingest builds the graph of every flagged record and upserts it into Neo4j.
Without --file it logs in to the auth service and reads the auditor's flagged
log; the password is taken from AMLCTL_PASSWORD.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cfg.Graph.URI == "" {
				return fmt.Errorf("GRAPH_URI is required for ingest")
			}
			logger := logging.New(cfg.Logging).With("component", "ingest")
			ctx := cmd.Context()

			var items []domain.FlaggedTransaction
			if file != "" {
				if items, err = loadFlaggedFile(file); err != nil {
					return err
				}
				if len(items) == 0 {
					return fmt.Errorf("no flagged records in %s", file)
				}
			}

			application, err := app.New(ctx, logger, cfg, app.Options{SyncWorkers: workers})
			if err != nil {
				return err
			}
			defer func() {
				if err := application.Close(ctx); err != nil {
					logger.Warn("closing resources failed", "error", err)
				}
			}()

			var report service.SyncReport
			if file != "" {
				report, err = application.Service.ImportFlagged(ctx, items)
			} else {
				password := os.Getenv("AMLCTL_PASSWORD")
				if email == "" || password == "" {
					return errMissingCredentials
				}
				login, loginErr := application.Service.Login(ctx, email, password)
				if loginErr != nil {
					return fmt.Errorf("login: %w", loginErr)
				}
				defer func() { _ = application.Service.Logout(ctx, login.Session) }()
				report, err = application.Service.SyncFlagged(ctx, login.Session)
			}

			logger.Info("ingest complete",
				"fetched", report.Fetched,
				"synced", report.Synced,
				"skipped", report.Skipped,
			)
			fmt.Fprintf(cmd.OutOrStdout(), "fetched=%d synced=%d skipped=%d\n", report.Fetched, report.Synced, report.Skipped)
			return err
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&file, "file", "f", "", "read flagged records (JSON array) from this file")
	flags.StringVar(&email, "email", "", "auditor or admin account used to read the flagged log")
	flags.IntVar(&workers, "workers", 4, "number of concurrent upsert workers")
	return cmd
}

// loadFlaggedFile reads a JSON array of raw flagged records. Entries that are
// not JSON objects are dropped.
func loadFlaggedFile(path string) ([]domain.FlaggedTransaction, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	items := make([]domain.FlaggedTransaction, 0, len(raws))
	for _, raw := range raws {
		if f, ok := record.Decode(raw); ok {
			items = append(items, f)
		}
	}
	return items, nil
}
