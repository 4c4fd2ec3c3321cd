package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/logsift/logsift/internal/export"
	"github.com/logsift/logsift/internal/store"
)

var (
	exportType   string
	exportOutput string
	exportLimit  int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export database tables to Parquet files",
	Long: `Export log data to Parquet. The export type selects which tables are
written: parsing errors, error-level logs, the stack traces attached to
them, JSON logs, or everything.

Examples:
  logsift export --type parsing
  logsift export --type logs --output errors.parquet
  logsift export --type full-db --limit 100000`,
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVarP(&exportType, "type", "t", "all", "what to export: parsing, logs, stack-traces, json, all, full-db")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "output file name (single-file export types only)")
	exportCmd.Flags().IntVar(&exportLimit, "limit", 0, "cap rows per exported table (0 = no cap)")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	typ, err := export.ParseType(exportType)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo := store.NewRepo(envCfg.DBPath)
	if err := repo.Open(); err != nil {
		return err
	}
	defer repo.Close()

	limit := envCfg.ExportLimit
	if cmd.Flags().Changed("limit") {
		limit = exportLimit
	}

	exp := export.New(repo, limit, log.Logger)
	results, err := exp.Export(ctx, typ, exportOutput)
	if err != nil {
		return err
	}

	if len(results) == 0 {
		fmt.Println("Nothing to export: no matching rows.")
		return nil
	}
	fmt.Println("Export Summary:")
	var total int
	for _, r := range results {
		fmt.Printf("  %s (%d rows)\n", r.Path, r.Rows)
		total += r.Rows
	}
	fmt.Printf("  %d file(s), %d rows total\n", len(results), total)
	return nil
}
