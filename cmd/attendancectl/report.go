package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"attendance/internal/attendance"
	"attendance/internal/model"
	"attendance/internal/repository/sqlstore"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print attendance records",
	Long: `Print attendance records joined with user names, optionally
restricted to one date and one category.

Example:
  attendancectl report --date 2024-03-05 --category AI`,
	RunE: runReport,
}

func init() {
	rootCmd.AddCommand(reportCmd)

	reportCmd.Flags().String("date", "", "Only records of this date (YYYY-MM-DD), \"today\" for the current date")
	reportCmd.Flags().String("category", "", "Only records of this category")
	reportCmd.Flags().Bool("json", false, "Output as JSON")
}

func runReport(cmd *cobra.Command, args []string) error {
	filter := model.AttendanceFilter{
		Date:     mustGetString(cmd, "date"),
		Category: mustGetString(cmd, "category"),
	}
	if filter.Date == "today" {
		filter.Date = time.Now().Format(attendance.DateLayout)
	}
	if filter.Date != "" {
		if _, err := time.Parse(attendance.DateLayout, filter.Date); err != nil {
			return fmt.Errorf("invalid --date %q: expected YYYY-MM-DD", filter.Date)
		}
	}

	db, err := openDB(cmd.Context(), cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	entries, err := sqlstore.NewAttendanceRepository(db).List(cmd.Context(), filter)
	if err != nil {
		return fmt.Errorf("failed to list attendance: %w", err)
	}

	if mustGetBool(cmd, "json") {
		if entries == nil {
			entries = []model.AttendanceEntry{}
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}

	if len(entries) == 0 {
		fmt.Println("No attendance records found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DATE\tTIME\tCATEGORY\tENROLLMENT\tNAME\tSTATUS")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", e.Date, e.Time, e.Category, e.Identity, e.Name, e.Status)
	}
	w.Flush()

	fmt.Printf("\nTotal: %d records\n", len(entries))
	return nil
}
