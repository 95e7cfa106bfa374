package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Kamyshanskii/pdf-engine/config"
	"github.com/Kamyshanskii/pdf-engine/internal/worker"
)

func workerCMD() *cobra.Command {
	var cfgPath string
	var run = &cobra.Command{
		Use:   "worker",
		Short: "Run the document job worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			logger := log.New(os.Stdout, "[WORKER] ", log.LstdFlags)

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			return worker.Run(ctx, cfg, logger)
		},
	}
	run.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return run
}
