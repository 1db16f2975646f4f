package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/ghalamif/TraceFlow"
)

func main() {
	flow, err := traceflow.Conf("../../data/config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	summary, err := flow.Run(ctx)
	if err != nil && err != context.Canceled {
		log.Fatalf("runtime error: %v", err)
	}
	log.Printf("done: %d events on %d timelines", summary.EventsProcessed, summary.TimelinesOpened)
}
