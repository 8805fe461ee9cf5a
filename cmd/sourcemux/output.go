package main

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"reduction.dev/sourcemux/workers/sourcemux"
)

// printOutput writes one line per record. Instances share the writer.
type printOutput struct {
	index int
	w     io.Writer
	mu    *sync.Mutex
	count *atomic.Int64
}

// printer builds the outputs of every instance and counts what they print.
type printer struct {
	w     io.Writer
	mu    sync.Mutex
	count atomic.Int64
}

func newPrinter(w io.Writer) *printer {
	return &printer{w: w}
}

func (p *printer) newOutput(index int) sourcemux.Output {
	return &printOutput{index: index, w: p.w, mu: &p.mu, count: &p.count}
}

// summary reports the number of printed records with grouped digits.
func (p *printer) summary(instances int) string {
	return message.NewPrinter(language.English).Sprintf("printed %d records from %d instances", p.count.Load(), instances)
}

func (o *printOutput) EmitRecord(record sourcemux.Record) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, err := fmt.Fprintf(o.w, "%d\t%s\t%s\t%s\n", o.index, record.Timestamp.Format(time.RFC3339Nano), record.RecordID, record.Value); err != nil {
		return err
	}
	o.count.Add(1)
	return nil
}

func (o *printOutput) EmitWatermark(wm time.Time) {
	slog.Debug("watermark", "instance", o.index, "watermark", wm)
}
