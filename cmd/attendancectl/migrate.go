package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		defer db.Close()

		fmt.Printf("Schema is up to date (%s)\n", db.Driver())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
