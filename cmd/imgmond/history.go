package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Byukusenge-Andrew/IoT-Image-Monitor/pkg/daemon/journal"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View upload history",
	Long: `View the journal of completed uploads.

Every file that reached a terminal state is recorded: successful uploads
with their archive destination, failures with their last error.`,
	RunE: runHistory,
}

var historyFailedCmd = &cobra.Command{
	Use:   "failed",
	Short: "List files that failed permanently",
	RunE:  runHistoryFailed,
}

var historyLimit int

func init() {
	historyCmd.PersistentFlags().IntVarP(&historyLimit, "limit", "l", 20, "maximum number of entries to show")
	historyCmd.AddCommand(historyFailedCmd)
	rootCmd.AddCommand(historyCmd)
}

// openJournal opens the journal at the configured path.
func openJournal() (*journal.Journal, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return journal.Open(cfg.Journal.Path)
}

// runHistory lists recent successful uploads.
func runHistory(cmd *cobra.Command, args []string) error {
	jnl, err := openJournal()
	if err != nil {
		return err
	}
	defer func() { _ = jnl.Close() }()

	records, err := jnl.ListUploads(historyLimit)
	if err != nil {
		return err
	}

	if len(records) == 0 {
		fmt.Println("No uploads recorded.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "COMPLETED\tSIZE\tATTEMPTS\tARCHIVED AS")
	for _, rec := range records {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n",
			rec.CompletedAt.Format("2006-01-02 15:04:05"),
			humanize.Bytes(uint64(rec.Size)),
			rec.Attempts,
			rec.ArchivePath)
	}
	return w.Flush()
}

// runHistoryFailed lists files awaiting operator intervention.
func runHistoryFailed(cmd *cobra.Command, args []string) error {
	jnl, err := openJournal()
	if err != nil {
		return err
	}
	defer func() { _ = jnl.Close() }()

	records, err := jnl.ListFailures(historyLimit)
	if err != nil {
		return err
	}

	if len(records) == 0 {
		fmt.Println("No failures recorded.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "FAILED\tATTEMPTS\tPATH\tERROR")
	for _, rec := range records {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\n",
			rec.CompletedAt.Format("2006-01-02 15:04:05"),
			rec.Attempts,
			rec.Path,
			rec.Error)
	}
	return w.Flush()
}
