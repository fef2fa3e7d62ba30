package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"github.com/you-humble/mediascribe/internal/app"
)

func main() {
	cfgPath := flag.String("config", "./configs/local.yaml", "path to the worker config")
	flag.Parse()

	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()

	a := app.New(*cfgPath)
	if err := a.Run(ctx); err != nil {
		log.Fatalln("worker:", err)
	}
}
