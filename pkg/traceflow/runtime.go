package traceflow

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ghalamif/TraceFlow/internal/adapters/ctffile"
	"github.com/ghalamif/TraceFlow/internal/adapters/ingest"
	"github.com/ghalamif/TraceFlow/internal/adapters/observability"
	"github.com/ghalamif/TraceFlow/internal/adapters/relay"
	"github.com/ghalamif/TraceFlow/internal/app/config"
	"github.com/ghalamif/TraceFlow/internal/app/pipeline"
	"github.com/ghalamif/TraceFlow/internal/app/registry"
	"github.com/ghalamif/TraceFlow/internal/domain"
	"github.com/ghalamif/TraceFlow/internal/ports"
)

// RuntimeOption customizes the dependencies used by Runtime.
type RuntimeOption func(*runtimeOverrides)

type runtimeOverrides struct {
	sources       []ports.Source
	trace         *domain.TraceInfo
	decoders      []ctffile.Decoder
	relay         ports.Relay
	transport     ports.IngestTransport
	observability ports.Observability
}

// WithSources injects caller-provided sources along with the trace metadata
// they belong to, bypassing both the file decoder and the relay client.
func WithSources(trace domain.TraceInfo, srcs ...ports.Source) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.trace = &trace
		o.sources = append(o.sources, srcs...)
	}
}

// WithDecoder injects a custom trace decoder instead of opening the
// configured input directories.
func WithDecoder(dec ctffile.Decoder) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.decoders = append(o.decoders, dec)
	}
}

// WithRelay injects a custom relay implementation (embedded relays, fakes).
func WithRelay(r ports.Relay) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.relay = r
	}
}

// WithTransport injects a custom ingest transport so events can be sent to
// any backend.
func WithTransport(t ports.IngestTransport) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.transport = t
	}
}

// WithObservability plugs in a custom observability backend.
func WithObservability(obs ports.Observability) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.observability = obs
	}
}

// Runtime wires sources → multiplexer → mapper → ingest session and exposes
// lifecycle hooks for embedding collection inside any Go service.
type Runtime struct {
	cfg       *config.Config
	obs       ports.Observability
	transport ports.IngestTransport

	sources  []ports.Source
	trace    domain.TraceInfo
	decoders []ctffile.Decoder
	client   *relay.Client

	metricsSrv  *http.Server
	gaugeStopCh chan struct{}
	summary     pipeline.Summary
}

// NewRuntime bootstraps the default adapters: trace-directory decoders or a
// live relay client on the intake side, the TCP ingest transport and
// Prometheus observability on the way out. RuntimeOption values override
// any dependency.
func NewRuntime(cfg *config.Config, opts ...RuntimeOption) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	var overrides runtimeOverrides
	for _, opt := range opts {
		if opt != nil {
			opt(&overrides)
		}
	}

	obs := overrides.observability
	if obs == nil {
		obs = observability.NewPromObs()
	}

	transport := overrides.transport
	if transport == nil {
		var err error
		transport, err = ingest.NewTransport(cfg.Ingest.Endpoint, ingest.Options{
			AuthToken: cfg.Ingest.AuthToken,
			RunID:     cfg.RunID,
			Compress:  cfg.Ingest.Compress,
		}, cfg.Policy)
		if err != nil {
			return nil, err
		}
	}

	rt := &Runtime{cfg: cfg, obs: obs, transport: transport}

	switch {
	case len(overrides.sources) > 0:
		rt.sources = overrides.sources
		if overrides.trace != nil {
			rt.trace = *overrides.trace
		}
	case len(overrides.decoders) > 0:
		if err := rt.useDecoders(overrides.decoders); err != nil {
			return nil, err
		}
	case len(cfg.Import.Inputs) > 0:
		decoders, err := openInputs(cfg.Import)
		if err != nil {
			return nil, err
		}
		if err := rt.useDecoders(decoders); err != nil {
			closeDecoders(decoders)
			return nil, err
		}
		rt.decoders = decoders
	case cfg.Relay.Addr != "" || overrides.relay != nil:
		rl := overrides.relay
		if rl == nil {
			rl = relay.NewWireRelay(cfg.Relay.Addr, cfg.Policy)
		}
		rt.client = relay.NewClient(rl, relay.Options{
			Session:         cfg.Relay.Session,
			SessionNotFound: relay.SessionNotFoundAction(cfg.Relay.SessionNotFoundAction),
			PollInterval:    cfg.Relay.PollInterval,
			BufferCapacity:  cfg.Relay.BufferCapacity,
		}, cfg.Policy, obs)
	default:
		return nil, fmt.Errorf("no intake configured: set import.inputs or relay.addr")
	}

	return rt, nil
}

// Run executes one collection end to end and blocks until every source has
// ended (file import) or the context is cancelled (live collection). It
// returns the run summary; a fatal delivery failure is reported as an
// error with the summary describing what was acknowledged before it.
func (rt *Runtime) Run(ctx context.Context) (pipeline.Summary, error) {
	rt.startMetrics()
	defer rt.stopMetrics()
	defer func() {
		if err := rt.closeIntake(); err != nil {
			rt.obs.LogError("intake_close", err)
		}
	}()
	defer rt.transport.Close()

	clientDone := make(chan error, 1)
	clientCtx, cancelClient := context.WithCancel(ctx)
	defer cancelClient()

	if rt.client != nil {
		trace, sources, err := rt.client.Discover(ctx)
		if err != nil {
			return pipeline.Summary{}, err
		}
		rt.trace = trace
		rt.sources = sources
		go func() { clientDone <- rt.client.Run(clientCtx) }()
	} else {
		close(clientDone)
	}

	runID, err := uuid.Parse(rt.cfg.RunID)
	if err != nil {
		runID = uuid.New()
	}
	reg := registry.New(rt.trace, runID, len(rt.sources), rt.registryOptions()...)
	if target, ok := reg.MergeTarget(); ok {
		if err := rt.checkMergeTarget(target); err != nil {
			return pipeline.Summary{}, err
		}
	}

	p := pipeline.New(rt.sources, reg, rt.transport, rt.cfg.Policy, rt.obs)
	summary, runErr := p.Run(ctx)
	rt.summary = summary

	cancelClient()
	if cerr := <-clientDone; cerr != nil && runErr == nil &&
		!errors.Is(cerr, context.Canceled) && !errors.Is(cerr, context.DeadlineExceeded) {
		runErr = cerr
	}
	return summary, runErr
}

// Summary returns the most recent run's accounting.
func (rt *Runtime) Summary() pipeline.Summary { return rt.summary }

func (rt *Runtime) useDecoders(decoders []ctffile.Decoder) error {
	if len(decoders) == 0 {
		return fmt.Errorf("no decoders provided")
	}
	rt.trace = decoders[0].TraceInfo()
	for _, dec := range decoders {
		// Every input must belong to the same recorded trace; timeline ids
		// are derived in a single trace UUID namespace per run.
		if got := dec.TraceInfo().UUID; got != rt.trace.UUID {
			return fmt.Errorf("input trace UUID mismatch: %s vs %s", got, rt.trace.UUID)
		}
		rt.sources = append(rt.sources, ctffile.Sources(dec)...)
	}
	return nil
}

// checkMergeTarget refuses a merge_streams id that matches no source, so a
// typo cannot silently collapse the whole trace onto a made-up timeline.
func (rt *Runtime) checkMergeTarget(target domain.StreamID) error {
	for _, src := range rt.sources {
		if src.Identity().Stream == target {
			return nil
		}
	}
	return fmt.Errorf("import.merge_streams: stream %d not present in the trace", target)
}

func (rt *Runtime) registryOptions() []registry.Option {
	var opts []registry.Option
	if rt.cfg.Import.MergeStreams != nil {
		opts = append(opts, registry.WithMergeStream(domain.StreamID(*rt.cfg.Import.MergeStreams)))
	}
	if extra := attrsFromMap(rt.cfg.Timelines.Additional); len(extra) > 0 {
		opts = append(opts, registry.WithExtraAttrs(extra))
	}
	if ov := attrsFromMap(rt.cfg.Timelines.Override); len(ov) > 0 {
		opts = append(opts, registry.WithOverrideAttrs(ov))
	}
	return opts
}

func (rt *Runtime) startMetrics() {
	if rt.cfg.Metrics.Addr == "" {
		return
	}
	type registered interface{ Registry() *prometheus.Registry }
	po, ok := rt.obs.(registered)
	if !ok {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(po.Registry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	rt.metricsSrv = &http.Server{Addr: rt.cfg.Metrics.Addr, Handler: mux}
	go func() {
		if err := rt.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("metrics server exited: %v", err)
		}
	}()

	if rt.client != nil {
		rt.gaugeStopCh = make(chan struct{})
		go rt.recordResourceGauges(rt.gaugeStopCh, time.Second)
	}
}

func (rt *Runtime) recordResourceGauges(stop <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			rt.obs.SetGauge("traceflow_relay_buffered_records", float64(rt.client.BufferedRecords()))
		}
	}
}

func (rt *Runtime) stopMetrics() {
	if rt.gaugeStopCh != nil {
		close(rt.gaugeStopCh)
		rt.gaugeStopCh = nil
	}
	if rt.metricsSrv == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = rt.metricsSrv.Shutdown(shutdownCtx)
}

func (rt *Runtime) closeIntake() error {
	var errs []error
	for _, dec := range rt.decoders {
		if err := dec.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, src := range rt.sources {
		if err := src.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func openInputs(imp config.ImportConfig) ([]ctffile.Decoder, error) {
	ov := ctffile.Overrides{
		TraceName:               imp.TraceName,
		ClockClassOffsetSeconds: imp.ClockClassOffsetSeconds,
		ClockClassOffsetNanos:   imp.ClockClassOffsetNanos,
		ForceUnixEpoch:          imp.ForceUnixEpoch,
	}
	if imp.TraceUUID != "" {
		id, err := uuid.Parse(imp.TraceUUID)
		if err != nil {
			return nil, fmt.Errorf("import.trace_uuid: %w", err)
		}
		ov.TraceUUID = &id
	}

	var decoders []ctffile.Decoder
	for _, dir := range imp.Inputs {
		dec, err := ctffile.Open(dir, ov)
		if err != nil {
			closeDecoders(decoders)
			return nil, err
		}
		decoders = append(decoders, dec)
	}
	return decoders, nil
}

func closeDecoders(decoders []ctffile.Decoder) {
	for _, dec := range decoders {
		_ = dec.Close()
	}
}

func attrsFromMap(m map[string]string) []domain.Attr {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]domain.Attr, 0, len(keys))
	for _, k := range keys {
		out = append(out, domain.Attr{Key: k, Val: domain.String(m[k])})
	}
	return out
}
