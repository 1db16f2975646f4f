package pipeline

import (
	"errors"
	"fmt"
)

// ErrPipelineFatal wraps failures that abort the whole run: retry-ceiling
// exhaustion or a protocol-level rejection of the session itself. Trace
// ingestion for a run is all-or-nothing; partial silent loss is never
// acceptable.
var ErrPipelineFatal = errors.New("traceflow: fatal pipeline error")

func fatalf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrPipelineFatal}, args...)...)
}

func errTimestampRegression(got, prev uint64) error {
	return fmt.Errorf("timestamp %d regressed below the stream's previous emission %d", got, prev)
}

func errClockUnresolved(clock uint64) error {
	return fmt.Errorf("clock value %d observed but its clock domain never resolved before source end", clock)
}
