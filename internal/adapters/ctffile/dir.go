package ctffile

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/ghalamif/TraceFlow/internal/domain"
)

const manifestFile = "manifest.mp"

type manifest struct {
	Trace   domain.TraceInfo `msgpack:"trace"`
	Streams []StreamInfo     `msgpack:"streams"`
}

type streamFile struct {
	f      *os.File
	dec    *msgpack.Decoder
	broken error
}

// DirDecoder reads a recorded trace directory: manifest.mp with the trace
// and stream metadata, and one stream_<id>.mp file per stream holding a
// concatenated msgpack sequence of records.
type DirDecoder struct {
	man   manifest
	files map[domain.StreamID]*streamFile
}

// Open validates the directory and opens every stream file. A directory
// without a readable manifest is rejected outright; a trace without
// metadata cannot be mapped.
func Open(dir string, ov Overrides) (*DirDecoder, error) {
	raw, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if err != nil {
		return nil, fmt.Errorf("trace %s is missing its metadata manifest: %w", dir, err)
	}
	var man manifest
	if err := msgpack.Unmarshal(raw, &man); err != nil {
		return nil, fmt.Errorf("trace %s: corrupt manifest: %w", dir, err)
	}
	if len(man.Streams) == 0 {
		return nil, fmt.Errorf("trace %s declares no streams", dir)
	}

	ov.applyTrace(&man.Trace)
	for i := range man.Streams {
		ov.applyClock(man.Streams[i].Clock)
	}

	d := &DirDecoder{man: man, files: make(map[domain.StreamID]*streamFile, len(man.Streams))}
	for _, s := range man.Streams {
		f, err := os.Open(filepath.Join(dir, fmt.Sprintf("stream_%d.mp", s.ID)))
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("trace %s: stream %d: %w", dir, s.ID, err)
		}
		d.files[s.ID] = &streamFile{f: f, dec: msgpack.NewDecoder(bufio.NewReader(f))}
	}
	return d, nil
}

func (d *DirDecoder) TraceInfo() domain.TraceInfo { return d.man.Trace }

func (d *DirDecoder) Streams() []StreamInfo { return d.man.Streams }

// Next decodes the next record of one stream. It returns io.EOF at the
// clean end of the file; any decode failure poisons the stream, since a
// partially consumed msgpack value leaves no resynchronization point.
func (d *DirDecoder) Next(stream domain.StreamID) (*domain.RawRecord, error) {
	sf, ok := d.files[stream]
	if !ok {
		return nil, fmt.Errorf("unknown stream %d", stream)
	}
	if sf.broken != nil {
		return nil, sf.broken
	}
	var rec domain.RawRecord
	if err := sf.dec.Decode(&rec); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		sf.broken = fmt.Errorf("stream %d: corrupt record: %w", stream, err)
		return nil, sf.broken
	}
	rec.Stream = stream
	return &rec, nil
}

func (d *DirDecoder) Close() error {
	var first error
	for _, sf := range d.files {
		if err := sf.f.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
