package cmd

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/logsift/logsift/internal/store"
)

var statsRuns int

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show database statistics and recent ingest runs",
	RunE:  runStats,
}

func init() {
	statsCmd.Flags().IntVar(&statsRuns, "runs", 5, "number of recent ingest runs to show")
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	repo := store.NewRepo(envCfg.DBPath)
	if err := repo.Open(); err != nil {
		return err
	}
	defer repo.Close()

	counts, err := repo.TableCounts()
	if err != nil {
		return err
	}
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Printf("Database: %s\n\nTable Counts:\n", envCfg.DBPath)
	for _, name := range names {
		fmt.Printf("  %-16s %d\n", name, counts[name])
	}

	levels, err := repo.LevelDistribution()
	if err != nil {
		return err
	}
	if len(levels) > 0 {
		fmt.Println("\nLevel Distribution:")
		for _, lc := range levels {
			fmt.Printf("  %-16s %d\n", lc.Level, lc.Count)
		}
	}

	runs, err := repo.RecentRuns(statsRuns)
	if err != nil {
		return err
	}
	if len(runs) > 0 {
		fmt.Println("\nRecent Ingest Runs:")
		for _, run := range runs {
			id := run.ID
			if len(id) > 8 {
				id = id[:8]
			}
			started := time.Unix(0, run.StartedAtNs).Format("2006-01-02 15:04:05")
			elapsed := "-"
			if run.FinishedAtNs > 0 {
				elapsed = time.Duration(run.FinishedAtNs - run.StartedAtNs).Round(time.Millisecond).String()
			}
			fmt.Printf("  %s  %s  files=%d/%d  entries=%d  errors=%d  %s\n",
				id, started, run.FilesIngested, run.FilesSeen,
				run.Entries, run.Errors, elapsed)
		}
	}
	return nil
}
