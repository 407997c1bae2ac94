package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"attendance/internal/labelmap"
	"attendance/internal/model"
	"attendance/internal/repository/sqlstore"
)

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "List and manage enrolled users",
	RunE:  runUsersList,
}

var usersAddCmd = &cobra.Command{
	Use:   "add <enrollment> [name]",
	Short: "Add a user or rename an existing one",
	Long: `Add a user by enrollment number. When the user exists and a name is
given, the name is updated.

Example:
  attendancectl users add E42 "Ada Lovelace"`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runUsersAdd,
}

var usersImportCmd = &cobra.Command{
	Use:   "import <labelmap>",
	Short: "Create users for every enrollment in a label map",
	Long: `Read a label map file (one "label,enrollment" pair per line) and make
sure every enrollment number has a users row. Existing names are kept.`,
	Args: cobra.ExactArgs(1),
	RunE: runUsersImport,
}

func init() {
	rootCmd.AddCommand(usersCmd)
	usersCmd.AddCommand(usersAddCmd)
	usersCmd.AddCommand(usersImportCmd)

	usersCmd.Flags().Bool("json", false, "Output as JSON")
}

func runUsersList(cmd *cobra.Command, args []string) error {
	db, err := openDB(cmd.Context(), cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	users, err := sqlstore.NewUserRepository(db).List(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list users: %w", err)
	}

	if mustGetBool(cmd, "json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(users)
	}

	if len(users) == 0 {
		fmt.Println("No users enrolled")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ENROLLMENT\tNAME")
	fmt.Fprintln(w, "----------\t----")
	for _, u := range users {
		fmt.Fprintf(w, "%s\t%s\n", u.EnrollmentNumber, u.Name)
	}
	w.Flush()

	fmt.Printf("\nTotal: %d users\n", len(users))
	return nil
}

func runUsersAdd(cmd *cobra.Command, args []string) error {
	db, err := openDB(cmd.Context(), cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	user := &model.User{EnrollmentNumber: strings.TrimSpace(args[0])}
	if len(args) > 1 {
		user.Name = strings.TrimSpace(args[1])
	}
	if user.EnrollmentNumber == "" {
		return fmt.Errorf("enrollment number is required")
	}

	if err := sqlstore.NewUserRepository(db).Upsert(cmd.Context(), user); err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	fmt.Printf("Saved user %s\n", user.EnrollmentNumber)
	return nil
}

func runUsersImport(cmd *cobra.Command, args []string) error {
	labels, err := labelmap.Load(args[0])
	if err != nil {
		return err
	}

	enrollments := labels.Enrollments()
	if len(enrollments) == 0 {
		fmt.Println("Label map is empty, nothing to import")
		return nil
	}

	db, err := openDB(cmd.Context(), cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	repo := sqlstore.NewUserRepository(db)

	bar := progressbar.NewOptions(len(enrollments),
		progressbar.OptionSetDescription("Importing users"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetItsString("users"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionFullWidth(),
	)

	failed := 0
	for _, enrollment := range enrollments {
		if err := repo.Upsert(cmd.Context(), &model.User{EnrollmentNumber: enrollment}); err != nil {
			fmt.Fprintf(os.Stderr, "\nFailed to import %s: %v\n", enrollment, err)
			failed++
		}
		bar.Add(1)
	}
	bar.Finish()

	fmt.Printf("\nImported %d users (%d failed)\n", len(enrollments)-failed, failed)
	if failed > 0 {
		return fmt.Errorf("%d users could not be imported", failed)
	}
	return nil
}
