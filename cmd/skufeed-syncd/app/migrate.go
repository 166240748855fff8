package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/skufeed/inventory-sync-server/database"
	"github.com/skufeed/inventory-sync-server/internal/config"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Database migration tool",
	Long:  `Database migration tool for managing schema versions. Use with 'up' or 'down' subcommands.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return cmd.Usage()
	},
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending database migrations",
	RunE:  runMigrateUp,
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back database migrations",
	Long: `Roll back database migrations. With --num-steps it rolls back that many
migrations; without, it rolls back everything.`,
	RunE: runMigrateDown,
}

func init() {
	migrateCmd.PersistentFlags().BoolP("yes", "y", false, "Answer yes to all questions")
	migrateCmd.PersistentFlags().UintP("num-steps", "n", 0, "Number of steps to migrate (0 = all)")
	migrateCmd.PersistentFlags().String("config", "", "Path to configuration file (YAML format, required)")

	if err := migrateCmd.MarkPersistentFlagRequired("config"); err != nil {
		panic(err)
	}

	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
}

// migrationConnString loads the config named by the command's --config flag
// and builds the database connection string.
func migrationConnString(cmd *cobra.Command) (string, *config.DatabaseConfig, error) {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return "", nil, fmt.Errorf("failed to get config flag: %w", err)
	}

	cfg, err := config.LoadConfig(config.WithConfigPath(configPath))
	if err != nil {
		return "", nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Database == nil {
		return "", nil, fmt.Errorf("database configuration is required")
	}

	connString, err := cfg.Database.GetConnectionString()
	if err != nil {
		return "", nil, err
	}
	return connString, cfg.Database, nil
}

func confirmMigration(cmd *cobra.Command, action string, dbCfg *config.DatabaseConfig) (bool, error) {
	yes, err := cmd.Flags().GetBool("yes")
	if err != nil {
		return false, fmt.Errorf("failed to get yes flag: %w", err)
	}
	if yes {
		return true, nil
	}

	fmt.Printf("About to %s on %s@%s:%d/%s\nContinue? (yes/no): ",
		action, dbCfg.User, dbCfg.Host, dbCfg.Port, dbCfg.Database)
	var response string
	if _, err := fmt.Scanln(&response); err != nil {
		return false, fmt.Errorf("failed to read user input: %w", err)
	}
	return response == "yes" || response == "y", nil
}

func runMigrateUp(cmd *cobra.Command, _ []string) error {
	connString, dbCfg, err := migrationConnString(cmd)
	if err != nil {
		return err
	}

	ok, err := confirmMigration(cmd, "apply migrations", dbCfg)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Println("Migration cancelled")
		return nil
	}

	if err := database.MigrateUp(connString); err != nil {
		return err
	}

	version, dirty, err := database.GetVersion(connString)
	if err != nil {
		fmt.Printf("Migrations applied, but version lookup failed: %v\n", err)
		return nil
	}
	if dirty {
		fmt.Printf("Warning: database is in a dirty state at version %d\n", version)
		return nil
	}
	fmt.Printf("Migrations applied successfully. Current version: %d\n", version)
	return nil
}

func runMigrateDown(cmd *cobra.Command, _ []string) error {
	connString, dbCfg, err := migrationConnString(cmd)
	if err != nil {
		return err
	}

	steps, err := cmd.Flags().GetUint("num-steps")
	if err != nil {
		return fmt.Errorf("failed to get num-steps flag: %w", err)
	}

	ok, err := confirmMigration(cmd, "roll back migrations", dbCfg)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Println("Migration cancelled")
		return nil
	}

	if err := database.MigrateDown(connString, steps); err != nil {
		return err
	}
	fmt.Println("Rollback complete")
	return nil
}
