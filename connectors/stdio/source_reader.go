package stdio

import (
	"bufio"
	"bytes"
	"strconv"
	"sync"
	"time"

	"reduction.dev/sourcemux/connectors"
	"reduction.dev/sourcemux/workers/wmark"
)

// maxMessageSize is the maximum size of a single message that can be read.
// Messages larger than this end the input with an error.
const maxMessageSize = 64 << 10

type message struct {
	data    []byte
	arrival time.Time
}

// SourceReader scans the input on its own goroutine so that Advance never
// blocks.
type SourceReader struct {
	messages chan message
	errs     chan error
	done     chan struct{}
	stopScan sync.Once

	current   message
	seq       int
	watermark time.Time
	eof       bool
}

func newSourceReader(config SourceConfig) *SourceReader {
	r := &SourceReader{
		messages:  make(chan message, 1024),
		errs:      make(chan error, 1),
		done:      make(chan struct{}),
		watermark: wmark.MinTimestamp,
	}
	go r.scan(config)
	return r
}

func (r *SourceReader) scan(config SourceConfig) {
	defer close(r.messages)

	scanner := bufio.NewScanner(config.In)
	scanner.Buffer(make([]byte, 4096), maxMessageSize)
	delimiter := config.Framing.Delimiter
	scanner.Split(func(data []byte, atEOF bool) (advance int, token []byte, err error) {
		if i := bytes.Index(data, delimiter); i >= 0 {
			return i + len(delimiter), data[:i], nil
		}
		if atEOF && len(data) > 0 {
			return len(data), data, nil
		}
		return 0, nil, nil
	})

	for scanner.Scan() {
		record := make([]byte, len(scanner.Bytes()))
		copy(record, scanner.Bytes())
		select {
		case r.messages <- message{data: record, arrival: config.Clock.Now()}:
		case <-r.done:
			return
		}
	}
	if err := scanner.Err(); err != nil {
		r.errs <- err
	}
}

func (r *SourceReader) Start() (bool, error) {
	return r.Advance()
}

func (r *SourceReader) Advance() (bool, error) {
	if r.eof {
		return false, nil
	}
	select {
	case msg, ok := <-r.messages:
		if !ok {
			return false, r.finish()
		}
		r.current = msg
		r.seq++
		if msg.arrival.After(r.watermark) {
			r.watermark = msg.arrival
		}
		return true, nil
	default:
		return false, nil
	}
}

// finish marks the end of input, surfacing any scan error as terminal.
func (r *SourceReader) finish() error {
	r.eof = true
	select {
	case err := <-r.errs:
		return connectors.NewTerminalError(err)
	default:
		r.watermark = wmark.MaxTimestamp
		return nil
	}
}

func (r *SourceReader) Current() []byte {
	return r.current.data
}

func (r *SourceReader) CurrentTimestamp() time.Time {
	return r.current.arrival
}

func (r *SourceReader) CurrentRecordID() []byte {
	return []byte(strconv.Itoa(r.seq))
}

func (r *SourceReader) Watermark() time.Time {
	return r.watermark
}

func (r *SourceReader) CheckpointMark() connectors.CheckpointMark {
	return nil
}

// Close stops scanning. A scan blocked in a read of the input returns once
// that read does.
func (r *SourceReader) Close() error {
	r.stopScan.Do(func() { close(r.done) })
	return nil
}

var _ connectors.UnboundedReader = (*SourceReader)(nil)
