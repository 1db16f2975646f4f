package domain

// Well-known attribute keys of the target ingest model. Downstream
// consumers rely on these names being stable.

// Timeline attribute keys.
const (
	TimelineKeyName         = "timeline.name"
	TimelineKeyDescription  = "timeline.description"
	TimelineKeyRunID        = "timeline.run_id"
	TimelineKeyTimeDomain   = "timeline.time_domain"
	TimelineKeyClockStyle   = "timeline.clock_style"
	TimelineKeyIngestSource = "timeline.ingest_source"

	TimelineKeyTraceName        = "timeline.internal.ctf.trace.name"
	TimelineKeyTraceUUID        = "timeline.internal.ctf.trace.uuid"
	TimelineKeyTraceStreamCount = "timeline.internal.ctf.trace.stream_count"
	TimelineKeyTraceEnvPrefix   = "timeline.internal.ctf.trace.env."

	TimelineKeyStreamID              = "timeline.internal.ctf.stream.id"
	TimelineKeyStreamName            = "timeline.internal.ctf.stream.name"
	TimelineKeyStreamCPU             = "timeline.internal.ctf.stream.cpu"
	TimelineKeyStreamClockFreq       = "timeline.internal.ctf.stream.clock.frequency"
	TimelineKeyStreamClockOffsetSecs = "timeline.internal.ctf.stream.clock.offset_seconds"
	TimelineKeyStreamClockOffsetCyc  = "timeline.internal.ctf.stream.clock.offset_cycles"
	TimelineKeyStreamClockPrecision  = "timeline.internal.ctf.stream.clock.precision"
	TimelineKeyStreamClockUnixEpoch  = "timeline.internal.ctf.stream.clock.unix_epoch_origin"
	TimelineKeyStreamClockName       = "timeline.internal.ctf.stream.clock.name"
	TimelineKeyStreamClockDesc       = "timeline.internal.ctf.stream.clock.description"
	TimelineKeyStreamClockUUID       = "timeline.internal.ctf.stream.clock.uuid"

	TimelineKeyMergeStream = "timeline.internal.config.merge_stream_id"

	TimelineKeyCustomPrefix = "timeline."
)

// Event attribute keys.
const (
	EventKeyName      = "event.name"
	EventKeyTimestamp = "event.timestamp"

	EventKeyStreamID      = "event.internal.ctf.stream_id"
	EventKeyClassID       = "event.internal.ctf.id"
	EventKeyLogLevel      = "event.internal.ctf.log_level"
	EventKeyClockSnapshot = "event.internal.ctf.clock_snapshot"

	EventKeyCommonContextPrefix   = "event.internal.ctf.common_context."
	EventKeySpecificContextPrefix = "event.internal.ctf.specific_context."
	EventKeyPacketContextPrefix   = "event.internal.ctf.packet_context."
	EventKeyFieldPrefix           = "event."

	// Well-known process context keys derived from tracer-embedded context
	// fields so consumers never have to guess the tracer's spelling.
	EventKeyPID         = "event.pid"
	EventKeyTID         = "event.tid"
	EventKeyProcessName = "event.process"
)

// IngestSourceValue identifies this pipeline as the producer of a timeline.
const IngestSourceValue = "ctf"
