package sourcemux_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"reduction.dev/sourcemux/connectors"
	"reduction.dev/sourcemux/connectors/embedded"
	"reduction.dev/sourcemux/workers/sourcemux"
	"reduction.dev/sourcemux/workers/wmark"
)

func TestLocalReader_StartsBeforeFirstAdvance(t *testing.T) {
	reader := &scriptedReader{watermarks: []time.Time{time.Unix(5, 0)}}
	lr := sourcemux.NewLocalReader(embedded.Split{Index: 0, Count: 1}, reader, false)

	ok, err := lr.Advance()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, reader.starts)
	assert.Equal(t, 0, reader.advances)

	_, err = lr.Advance()
	require.NoError(t, err)
	assert.Equal(t, 1, reader.starts)
	assert.Equal(t, 1, reader.advances)
}

func TestLocalReader_PositionedReaderIsNeverStarted(t *testing.T) {
	reader := &scriptedReader{watermarks: []time.Time{time.Unix(5, 0)}}
	lr := sourcemux.NewLocalReader(embedded.Split{Index: 0, Count: 1}, reader, true)
	assert.True(t, lr.Started())

	_, err := lr.Advance()
	require.NoError(t, err)
	assert.Equal(t, 0, reader.starts)
	assert.Equal(t, 1, reader.advances)
}

func TestLocalReader_WatermarkNeverRegresses(t *testing.T) {
	reader := &scriptedReader{watermarks: []time.Time{
		time.Unix(10, 0),
		time.Unix(7, 0),
		time.Unix(12, 0),
	}}
	lr := sourcemux.NewLocalReader(embedded.Split{Index: 0, Count: 1}, reader, false)

	assert.Equal(t, time.Unix(10, 0), lr.Watermark())
	assert.Equal(t, time.Unix(10, 0), lr.Watermark())
	assert.Equal(t, time.Unix(12, 0), lr.Watermark())
	assert.False(t, lr.Finished())
}

func TestLocalReader_FinishesAtMaxWatermark(t *testing.T) {
	reader := &scriptedReader{watermarks: []time.Time{wmark.MaxTimestamp}}
	lr := sourcemux.NewLocalReader(embedded.Split{Index: 0, Count: 1}, reader, false)

	_, err := lr.Start()
	require.NoError(t, err)
	assert.True(t, lr.Finished())
}

func TestLocalReader_ReturnsErrorsUnchanged(t *testing.T) {
	boom := errors.New("partition unavailable")
	reader := &scriptedReader{err: boom}
	lr := sourcemux.NewLocalReader(embedded.Split{Index: 0, Count: 1}, reader, false)

	_, err := lr.Advance()
	assert.Equal(t, boom, err)
}

func TestLocalReader_Current(t *testing.T) {
	source := embedded.NewSource(embedded.SourceConfig{ElementsPerSplit: 3, StartTime: time.Unix(100, 0)})
	split := embedded.Split{Index: 1, Count: 2}
	reader, err := source.NewReader(split, nil)
	require.NoError(t, err)
	lr := sourcemux.NewLocalReader(split, reader, false)

	_, err = lr.Advance()
	require.NoError(t, err)
	_, err = lr.Advance()
	require.NoError(t, err)

	assert.Equal(t, sourcemux.Record{
		Value:     []byte("3"),
		RecordID:  []byte("1/1"),
		Timestamp: time.Unix(100, 0).Add(time.Millisecond),
	}, lr.Current())
	assert.Equal(t, split, lr.Partition())
	require.NoError(t, lr.Close())
}

// scriptedReader always has data and reports the scripted watermarks in
// order, repeating the last one.
type scriptedReader struct {
	watermarks []time.Time
	err        error
	starts     int
	advances   int
}

func (r *scriptedReader) Start() (bool, error) {
	r.starts++
	return r.err == nil, r.err
}

func (r *scriptedReader) Advance() (bool, error) {
	r.advances++
	return r.err == nil, r.err
}

func (r *scriptedReader) Current() []byte             { return []byte("v") }
func (r *scriptedReader) CurrentTimestamp() time.Time { return time.Unix(0, 0) }
func (r *scriptedReader) CurrentRecordID() []byte     { return []byte("id") }

func (r *scriptedReader) Watermark() time.Time {
	if len(r.watermarks) == 0 {
		return wmark.MinTimestamp
	}
	wm := r.watermarks[0]
	if len(r.watermarks) > 1 {
		r.watermarks = r.watermarks[1:]
	}
	return wm
}

func (r *scriptedReader) CheckpointMark() connectors.CheckpointMark { return nil }
func (r *scriptedReader) Close() error                              { return nil }

var _ connectors.UnboundedReader = (*scriptedReader)(nil)
