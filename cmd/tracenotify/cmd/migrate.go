package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/solatis/tracenotify/internal/core/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.Flags().Bool("status", false, "show migration status without applying")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	if status, _ := cmd.Flags().GetBool("status"); status {
		statuses, err := db.MigrateStatus(database)
		if err != nil {
			return fmt.Errorf("failed to read migration status: %w", err)
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "MIGRATION\tAPPLIED\tAPPLIED AT\tMS")
		for _, s := range statuses {
			at := "-"
			if s.AppliedAt != nil {
				at = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
			fmt.Fprintf(w, "%s\t%t\t%s\t%d\n", s.ID, s.Applied, at, s.ExecutionMs)
		}
		return w.Flush()
	}

	if err := db.MigrateUp(database); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	fmt.Println("migrations applied")
	return nil
}
