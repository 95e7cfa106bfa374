package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Kamyshanskii/pdf-engine/config"
	"github.com/Kamyshanskii/pdf-engine/internal/worker"
)

func main() {
	cfgPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg := config.LoadConfig(*cfgPath)
	logger := log.New(os.Stdout, "[WORKER] ", log.LstdFlags)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := worker.Run(ctx, cfg, logger); err != nil {
		log.Fatalf("worker exited: %v", err)
	}
}
