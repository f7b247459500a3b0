package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"VPN-MiniApp/config"
	"VPN-MiniApp/internal/db"
	"VPN-MiniApp/internal/logger"
)

func newMigrateCommand() *cobra.Command {
	var seed bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update database tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			gdb, err := db.Open(cfg.DatabaseURL)
			if err != nil {
				return err
			}
			if err := db.Migrate(gdb); err != nil {
				return err
			}
			logger.Info("migrations applied")
			if !seed {
				return nil
			}
			n, err := db.NewStore(gdb).SeedPackages(cmd.Context(), db.DefaultPackages())
			if err != nil {
				return err
			}
			logger.Info("catalog seeded", zap.Int("packages", n))
			return nil
		},
	}
	cmd.Flags().BoolVar(&seed, "seed", true, "insert default packages into an empty catalog")
	return cmd
}
