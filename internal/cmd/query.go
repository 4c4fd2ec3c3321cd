package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/logsift/logsift/internal/query"
	"github.com/logsift/logsift/internal/store"
)

var queryCmd = &cobra.Command{
	Use:   "query [sql]",
	Short: "Run ad-hoc SQL against the log database",
	Long: `Run a single SQL statement against the log database and print the
result as CSV on stdout, header row first. With no statement, print an
overview of the tables instead.

Examples:
  logsift query "SELECT level, COUNT(*) FROM logs GROUP BY level"
  logsift query "SELECT * FROM parsing_errors LIMIT 10" > errors.csv
  logsift query`,
	RunE: runQuery,
}

func init() {
	rootCmd.AddCommand(queryCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
	db, err := store.OpenReadOnly(envCfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	if len(args) == 0 {
		infos, err := query.Describe(db)
		if err != nil {
			return err
		}
		fmt.Println("Database Tables:")
		for _, info := range infos {
			fmt.Printf("\n%s (%d rows)\n", info.Name, info.RowCount)
			fmt.Printf("  %s\n", strings.Join(info.Columns, ", "))
		}
		return nil
	}

	sqlText := strings.Join(args, " ")
	if _, err := query.Run(db, sqlText, os.Stdout); err != nil {
		return err
	}
	return nil
}
