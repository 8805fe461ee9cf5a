package kinesis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kinesis"
	kinesistypes "github.com/aws/aws-sdk-go-v2/service/kinesis/types"
	"reduction.dev/sourcemux/connectors"
	"reduction.dev/sourcemux/workers/wmark"
)

// shardReader reads one shard. Records from a GetRecords call are buffered
// and handed out one at a time. Retryable errors only delay the next call.
type shardReader struct {
	source  *Source
	shardID string
	log     *slog.Logger

	// The continuation token for the next read. Only lasts 5m and then expires.
	shardIterator string
	// The sequence number of the last record handed out.
	sequenceNumber string

	buffer      []kinesistypes.Record
	current     *kinesistypes.Record
	closed      bool // Kinesis reported the end of the shard
	watermarker *wmark.Watermarker
	backoff     connectors.Backoff
	nextFetch   time.Time
}

func newShardReader(source *Source, shardID string) *shardReader {
	return &shardReader{
		source:      source,
		shardID:     shardID,
		log:         source.log.With("shard", shardID),
		watermarker: &wmark.Watermarker{},
	}
}

func (r *shardReader) Start() (bool, error) {
	return r.Advance()
}

func (r *shardReader) Advance() (bool, error) {
	if len(r.buffer) == 0 {
		if err := r.fetch(); err != nil {
			return false, err
		}
	}
	if len(r.buffer) == 0 {
		if r.closed {
			r.finish()
		}
		return false, nil
	}

	record := r.buffer[0]
	r.buffer = r.buffer[1:]
	r.current = &record
	r.sequenceNumber = aws.ToString(record.SequenceNumber)
	r.watermarker.AdvanceTime(r.CurrentTimestamp())
	if len(r.buffer) == 0 && r.closed {
		r.finish()
	}
	return true, nil
}

// fetch refills the buffer unless the shard is closed, the reader is backing
// off or the last call came back empty too recently.
func (r *shardReader) fetch() error {
	now := r.source.config.Clock.Now()
	if r.closed || !r.backoff.Ready(now) || now.Before(r.nextFetch) {
		return nil
	}

	err := r.getRecords(now)
	if err == nil {
		r.backoff.Succeeded()
		return nil
	}
	if connectors.IsRetryable(err) {
		r.backoff.Failed(now)
		r.log.Warn("reading kinesis shard failed, will retry", "err", err)
		return nil
	}
	return err
}

func (r *shardReader) getRecords(now time.Time) error {
	if r.shardIterator == "" {
		if err := r.refreshShardIterator(); err != nil {
			return err
		}
	}

	out, err := r.source.api.GetRecords(context.Background(), r.getRecordsInput())

	// Check for expired iterator and refresh if needed
	var expiredIterator *kinesistypes.ExpiredIteratorException
	if errors.As(err, &expiredIterator) {
		if err := r.refreshShardIterator(); err != nil {
			return err
		}
		out, err = r.source.api.GetRecords(context.Background(), r.getRecordsInput())
	}
	if err != nil {
		return fmt.Errorf("kinesis get records for shard %s: %w", r.shardID, sourceErrorFrom(err))
	}

	r.buffer = append(r.buffer, out.Records...)
	if out.NextShardIterator == nil {
		r.closed = true
	} else {
		r.shardIterator = *out.NextShardIterator
	}

	if len(out.Records) == 0 {
		r.nextFetch = now.Add(r.source.config.EmptyPollInterval)
		// Nothing is behind the latest record so no older data can arrive.
		if aws.ToInt64(out.MillisBehindLatest) == 0 {
			r.watermarker.AdvanceTime(now)
		}
	}
	return nil
}

func (r *shardReader) getRecordsInput() *kinesis.GetRecordsInput {
	return &kinesis.GetRecordsInput{
		StreamARN:     &r.source.config.StreamARN,
		ShardIterator: &r.shardIterator,
		Limit:         aws.Int32(r.source.config.RecordsLimit),
	}
}

func (r *shardReader) refreshShardIterator() error {
	input := &kinesis.GetShardIteratorInput{
		StreamARN: &r.source.config.StreamARN,
		ShardId:   &r.shardID,
	}
	if r.sequenceNumber == "" {
		input.ShardIteratorType = kinesistypes.ShardIteratorTypeTrimHorizon
	} else {
		input.ShardIteratorType = kinesistypes.ShardIteratorTypeAfterSequenceNumber
		input.StartingSequenceNumber = &r.sequenceNumber
	}

	out, err := r.source.api.GetShardIterator(context.Background(), input)
	if err != nil {
		return fmt.Errorf("kinesis get shard iterator for shard %s: %w", r.shardID, sourceErrorFrom(err))
	}
	r.shardIterator = aws.ToString(out.ShardIterator)
	return nil
}

func (r *shardReader) finish() {
	r.closed = true
	r.watermarker.Finish()
}

func (r *shardReader) Current() []byte {
	return r.current.Data
}

// CurrentTimestamp is the time Kinesis received the record.
func (r *shardReader) CurrentTimestamp() time.Time {
	return aws.ToTime(r.current.ApproximateArrivalTimestamp)
}

func (r *shardReader) CurrentRecordID() []byte {
	return []byte(r.shardID + "/" + aws.ToString(r.current.SequenceNumber))
}

func (r *shardReader) Watermark() time.Time {
	return r.watermarker.CurrentWatermark()
}

func (r *shardReader) CheckpointMark() connectors.CheckpointMark {
	return &ShardMark{
		ShardID:        r.shardID,
		SequenceNumber: r.sequenceNumber,
		Finished:       r.closed && len(r.buffer) == 0,
	}
}

func (r *shardReader) Close() error {
	r.buffer = nil
	return nil
}

var _ connectors.UnboundedReader = (*shardReader)(nil)

func sourceErrorFrom(err error) *connectors.SourceError {
	switch {
	case errors.As(err, new(*kinesistypes.AccessDeniedException)):
		return connectors.NewTerminalError(err)
	case errors.As(err, new(*kinesistypes.InvalidArgumentException)):
		return connectors.NewTerminalError(err)
	case errors.As(err, new(*kinesistypes.ResourceNotFoundException)):
		return connectors.NewTerminalError(err)
	default:
		// All other errors are retryable
		return connectors.NewRetryableError(err)
	}
}
