package decode

import "bytes"

// Record is one complete decoded line of a streaming response, without its
// terminator. A Record may be empty (keep-alive) and must be skippable by
// the consumer without side effects.
type Record []byte

// TailPolicy controls what happens to a non-empty unterminated tail when
// the stream ends without a final line boundary. Backends that always
// terminate their last record never exercise this; for the ones that do
// not, the choice is deliberate and configurable rather than accidental.
type TailPolicy int

const (
	// TailYield emits the dangling tail as a final Record on Finish.
	// This is the default: yielding loses no data.
	TailYield TailPolicy = iota
	// TailDrop discards the dangling tail on Finish.
	TailDrop
)

// LineDecoder incrementally splits an arbitrary byte stream into complete
// Records. Incoming chunks may fall on any boundary; the decoder retains
// the unterminated suffix between calls. It holds no locks and performs no
// I/O; one decoder serves exactly one connection and must not be shared.
type LineDecoder struct {
	tail   []byte
	policy TailPolicy
}

// NewLineDecoder creates a decoder with the given end-of-stream policy.
func NewLineDecoder(policy TailPolicy) *LineDecoder {
	return &LineDecoder{policy: policy}
}

// Feed appends chunk to the retained tail and returns every Record now
// complete, in order. Records are copies; the caller may reuse chunk.
// Empty Records are returned too, so skipping keep-alives stays a consumer
// decision. A missing delimiter simply grows the tail; there is no failure
// mode at this layer.
func (d *LineDecoder) Feed(chunk []byte) []Record {
	if len(chunk) == 0 {
		return nil
	}
	d.tail = append(d.tail, chunk...)

	var records []Record
	for {
		i := bytes.IndexByte(d.tail, '\n')
		if i < 0 {
			return records
		}
		records = append(records, copyRecord(d.tail[:i]))
		d.tail = d.tail[i+1:]
	}
}

// Finish flushes the decoder at end of stream. Under TailYield a non-empty
// unterminated tail is returned as a final Record; under TailDrop it is
// discarded. Either way the decoder is left empty.
func (d *LineDecoder) Finish() (Record, bool) {
	defer func() { d.tail = nil }()
	if len(d.tail) == 0 || d.policy == TailDrop {
		return nil, false
	}
	return copyRecord(d.tail), true
}

// Pending returns the number of buffered unterminated bytes. Diagnostic.
func (d *LineDecoder) Pending() int { return len(d.tail) }

// copyRecord detaches a line from the shared tail buffer, trimming one
// optional trailing '\r' so CRLF streams decode identically to LF streams.
func copyRecord(line []byte) Record {
	if n := len(line); n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	}
	rec := make(Record, len(line))
	copy(rec, line)
	return rec
}
