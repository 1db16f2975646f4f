// Prints every mapped event to stdout instead of shipping it anywhere, by
// swapping the ingest transport for an in-process one.
package main

import (
	"context"
	"fmt"
	"log"

	"github.com/ghalamif/TraceFlow"
)

type stdoutTransport struct{}

type immediateAck struct{}

func (immediateAck) Wait(ctx context.Context) ([]int, error) { return nil, nil }

func (*stdoutTransport) OpenTimeline(ctx context.Context, tl *traceflow.Timeline) error {
	fmt.Printf("timeline %s name=%q attrs=%d\n", tl.ID, tl.Name, len(tl.Attrs))
	return nil
}

func (*stdoutTransport) SubmitBatch(ctx context.Context, events []*traceflow.TimedEvent) (traceflow.BatchAck, error) {
	for _, ev := range events {
		fmt.Printf("%d timeline=%s attrs=%d\n", ev.Timestamp, ev.Timeline, len(ev.Attrs))
	}
	return immediateAck{}, nil
}

func (*stdoutTransport) Close() error { return nil }

func main() {
	flow, err := traceflow.Conf("../../data/config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := flow.Run(ctx, traceflow.StreamOutTransport(&stdoutTransport{})); err != nil && err != context.Canceled {
		log.Fatalf("runtime error: %v", err)
	}
}
