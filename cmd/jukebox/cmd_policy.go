/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"

	"github.com/friendsincode/jukebox/internal/bandit"
	"github.com/friendsincode/jukebox/internal/clock"
	"github.com/friendsincode/jukebox/internal/config"
	"github.com/friendsincode/jukebox/internal/db"
	"github.com/friendsincode/jukebox/internal/server"
)

var (
	policyContext string
	policyOutput  string
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Inspect the vibe selection policy",
}

var policyShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the learned value of every vibe",
	Long: `Print the learned value of every vibe per day-and-time context.

Contexts that were never rewarded are shown with the prior value.

The badger store (the default) admits one process at a time, so stop
"jukebox serve" before running this against it. The db and redis stores can
be read while the server runs.

Examples:
  # Every context, as a table
  jukebox policy show

  # One context, as YAML
  jukebox policy show --context Monday-Morning --output yaml
`,
	RunE: runPolicyShow,
}

func init() {
	policyShowCmd.Flags().StringVar(&policyContext, "context", "", "Only show one context, e.g. Monday-Morning")
	policyShowCmd.Flags().StringVarP(&policyOutput, "output", "o", "table", "Output format: table or yaml")
	policyCmd.AddCommand(policyShowCmd)
}

func runPolicyShow(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	var database *gorm.DB
	if cfg.PolicyStore == config.PolicyStoreDatabase {
		var err error
		database, err = db.Connect(cfg)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer db.Close(database)
	}

	snapshots, closeSnapshots, err := openSnapshots(cfg, database)
	if err != nil {
		return err
	}
	defer closeSnapshots()

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()
	table, err := snapshots.Load(ctx)
	if err != nil {
		return fmt.Errorf("load policy: %w", err)
	}

	rows, err := policyRows(table, policyContext)
	if err != nil {
		return err
	}
	return renderPolicy(cmd.OutOrStdout(), rows, policyOutput)
}

func openSnapshots(cfg *config.Config, database *gorm.DB) (bandit.SnapshotStore, func() error, error) {
	snapshots, closeSnapshots, err := server.OpenPolicyStore(cfg, database)
	if err == nil {
		return snapshots, closeSnapshots, nil
	}
	if cfg.PolicyStore == config.PolicyStoreBadger {
		return nil, nil, fmt.Errorf("policy store in %s is locked or unreadable (is jukebox serve running? stop it first): %w", cfg.PolicyDir(), err)
	}
	return nil, nil, fmt.Errorf("open policy store: %w", err)
}

type policyRow struct {
	Context string             `yaml:"context"`
	Values  map[string]float64 `yaml:"values"`
}

// policyRows expands a snapshot into one row per context, filling untouched
// actions with the prior.
func policyRows(table bandit.Table, only string) ([]policyRow, error) {
	var contexts []string
	if only != "" {
		parsed, err := clock.ParseContext(only)
		if err != nil {
			return nil, err
		}
		contexts = []string{parsed.String()}
	} else {
		for ctx := range table {
			contexts = append(contexts, ctx)
		}
		sort.Strings(contexts)
	}

	rows := make([]policyRow, 0, len(contexts))
	for _, ctx := range contexts {
		values := make(map[string]float64, len(bandit.DefaultActions))
		for _, action := range bandit.DefaultActions {
			values[string(action)] = bandit.Prior
		}
		for action, v := range table[ctx] {
			values[string(action)] = v
		}
		rows = append(rows, policyRow{Context: ctx, Values: values})
	}
	return rows, nil
}

func renderPolicy(w io.Writer, rows []policyRow, format string) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(rows); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		return enc.Close()
	case "table", "":
		if len(rows) == 0 {
			_, err := fmt.Fprintln(w, "no policy snapshot yet")
			return err
		}
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "CONTEXT\tACTION\tVALUE")
		for _, row := range rows {
			for _, action := range bandit.DefaultActions {
				fmt.Fprintf(tw, "%s\t%s\t%.4f\n", row.Context, action, row.Values[string(action)])
			}
		}
		return tw.Flush()
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}
