package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"papertrade/internal/store"
)

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Export a day's filled orders to parquet",
	Long: `Archive writes the FILLED orders created on --date (UTC) to
<archive_dir>/fills/<date>.parquet, merging with any earlier export of the
same day by order id.

Example:
  papertrade-cli archive --date 2024-06-03`,
	Args: cobra.NoArgs,
	RunE: runArchive,
}

var (
	archiveDate string
	archiveList bool
)

func init() {
	rootCmd.AddCommand(archiveCmd)

	archiveCmd.Flags().StringVarP(&archiveDate, "date", "d", "", "day to export, YYYY-MM-DD (default today, UTC)")
	archiveCmd.Flags().BoolVar(&archiveList, "list", false, "list archived days instead of exporting")
}

func runArchive(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	fa := store.NewFillArchive(cfg.Storage.ArchiveDir)
	out := cmd.OutOrStdout()

	if archiveList {
		days, err := fa.ListDays()
		if err != nil {
			return err
		}
		for _, d := range days {
			fmt.Fprintln(out, d)
		}
		return nil
	}

	day := time.Now().UTC()
	if archiveDate != "" {
		if day, err = time.Parse("2006-01-02", archiveDate); err != nil {
			return fmt.Errorf("--date: %w", err)
		}
	}

	ledger, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		return err
	}
	defer ledger.Close()

	n, err := fa.ExportDay(cmd.Context(), ledger, day)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "archived %d fills for %s\n", n, day.Format("2006-01-02"))
	return nil
}
