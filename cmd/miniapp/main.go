package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"VPN-MiniApp/internal/logger"
)

func main() {
	defer logger.Sync()
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		logger.Error("command failed", zap.Error(err))
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "vpn-miniapp",
		Short:         "Backend of the VPN subscription mini-app",
		Long:          `vpn-miniapp serves the Telegram mini-app API, accepts Bybit Pay webhooks and runs the launcher bot.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(newServeCommand(), newMigrateCommand())
	return cmd
}
