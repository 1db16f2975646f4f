package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ghalamif/TraceFlow"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	var err error

	switch cmd {
	case "import":
		err = importCommand(os.Args[2:])
	case "collect":
		err = collectCommand(os.Args[2:])
	case "validate":
		err = validateCommand(os.Args[2:])
	case "stats":
		err = statsCommand(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		printUsage()
		err = fmt.Errorf("unknown command %q", cmd)
	}

	if err != nil {
		log.Fatalf("traceflow %s: %v", cmd, err)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `traceflow - trace normalization and ingest

Usage:
  traceflow import  -config <file> [trace-dir ...]   import recorded traces
  traceflow collect -config <file> [-session <name>] collect from a live relay
  traceflow validate -config <file>                  check a configuration
  traceflow stats   [-url <metrics-url>]             stream run metrics`)
}

// interruptibleContext cancels on the first interrupt so the run can drain
// gracefully; a second interrupt exits immediately with the conventional
// 128+SIGINT status.
func interruptibleContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigc := make(chan os.Signal, 2)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigc
		log.Println("interrupt: draining (interrupt again to exit immediately)")
		cancel()
		<-sigc
		os.Exit(130)
	}()
	return ctx, cancel
}

func importCommand(args []string) error {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	cfgPath := fs.String("config", "./traceflow.yaml", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := traceflow.LoadConfig(*cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if dirs := fs.Args(); len(dirs) > 0 {
		cfg.Import.Inputs = dirs
	}
	if len(cfg.Import.Inputs) == 0 {
		return fmt.Errorf("no trace directories: pass them as arguments or set import.inputs")
	}
	// Importing must not fall back to live collection on a half-edited
	// config.
	cfg.Relay.Addr = ""

	ctx, cancel := interruptibleContext()
	defer cancel()

	flow, err := traceflow.ConfFromConfig(cfg)
	if err != nil {
		return err
	}
	summary, err := flow.Run(ctx)
	printSummary(summary)
	return err
}

func collectCommand(args []string) error {
	fs := flag.NewFlagSet("collect", flag.ExitOnError)
	cfgPath := fs.String("config", "./traceflow.yaml", "Path to configuration file")
	session := fs.String("session", "", "Tracing session name (overrides relay.session)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := traceflow.LoadConfig(*cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if *session != "" {
		cfg.Relay.Session = *session
	}
	if cfg.Relay.Addr == "" {
		return fmt.Errorf("relay.addr is required for collect")
	}
	cfg.Import.Inputs = nil

	ctx, cancel := interruptibleContext()
	defer cancel()

	flow, err := traceflow.ConfFromConfig(cfg)
	if err != nil {
		return err
	}
	summary, err := flow.Run(ctx)
	printSummary(summary)
	return err
}

func validateCommand(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	cfgPath := fs.String("config", "./traceflow.yaml", "Path to configuration file to validate")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if _, err := traceflow.LoadConfig(*cfgPath); err != nil {
		return err
	}
	fmt.Printf("config %s looks good\n", *cfgPath)
	return nil
}

func printSummary(s traceflow.Summary) {
	var rejected uint64
	for _, n := range s.EventsRejected {
		rejected += n
	}
	fmt.Printf("processed=%d submitted=%d rejected=%d timelines=%d batches=%d retries=%d\n",
		s.EventsProcessed, s.EventsSubmitted, rejected,
		s.TimelinesOpened, s.BatchesSubmitted, s.Retries)
}

func statsCommand(args []string) error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	url := fs.String("url", "http://localhost:9600/metrics", "Prometheus metrics endpoint")
	interval := fs.Duration("interval", 2*time.Second, "Refresh interval")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	fmt.Printf("Streaming metrics from %s (Ctrl+C to stop)\n", *url)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := printMetricsSnapshot(*url); err != nil {
				fmt.Fprintf(os.Stderr, "stats error: %v\n", err)
			}
		}
	}
}

func printMetricsSnapshot(url string) error {
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	targets := map[string]float64{
		"traceflow_events_ingested_total": 0,
		"traceflow_timelines_total":       0,
		"traceflow_batches_inflight":      0,
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "#") {
			continue
		}
		for key := range targets {
			if strings.HasPrefix(line, key+" ") {
				var value float64
				if _, err := fmt.Sscanf(line, key+" %f", &value); err == nil {
					targets[key] = value
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	fmt.Printf("[%s] ingested=%.0f timelines=%.0f inflight=%.0f\n",
		time.Now().Format(time.RFC3339),
		targets["traceflow_events_ingested_total"],
		targets["traceflow_timelines_total"],
		targets["traceflow_batches_inflight"])
	return nil
}
