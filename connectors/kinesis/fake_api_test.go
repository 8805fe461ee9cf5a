package kinesis_test

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kinesis"
	kinesistypes "github.com/aws/aws-sdk-go-v2/service/kinesis/types"
)

// fakeAPI serves shards from memory. Shard iterators are "shardID:position"
// where position is the index of the next record.
type fakeAPI struct {
	mu              sync.Mutex
	shards          map[string]*fakeShard
	order           []string
	getRecordsErr   error
	getRecordsCalls int
	pageSize        int
	expireNext      bool
}

type fakeShard struct {
	records []kinesistypes.Record
	closed  bool
}

func newFakeAPI(shardIDs ...string) *fakeAPI {
	api := &fakeAPI{shards: make(map[string]*fakeShard)}
	for _, id := range shardIDs {
		api.shards[id] = &fakeShard{}
		api.order = append(api.order, id)
	}
	return api
}

func (f *fakeAPI) put(shardID string, arrival time.Time, data ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	shard := f.shards[shardID]
	for _, d := range data {
		shard.records = append(shard.records, kinesistypes.Record{
			Data:                        []byte(d),
			SequenceNumber:              aws.String(fmt.Sprintf("%05d", len(shard.records))),
			ApproximateArrivalTimestamp: aws.Time(arrival),
		})
	}
}

func (f *fakeAPI) closeShard(shardID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shards[shardID].closed = true
}

func (f *fakeAPI) setGetRecordsError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getRecordsErr = err
}

func (f *fakeAPI) ListShards(ctx context.Context, params *kinesis.ListShardsInput, _ ...func(*kinesis.Options)) (*kinesis.ListShardsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	// One shard per page so callers must follow NextToken.
	start := 0
	if params.NextToken != nil {
		if params.StreamARN != nil {
			return nil, &kinesistypes.InvalidArgumentException{Message: aws.String("StreamARN and NextToken both set")}
		}
		start, _ = strconv.Atoi(*params.NextToken)
	}
	out := &kinesis.ListShardsOutput{}
	if start < len(f.order) {
		out.Shards = []kinesistypes.Shard{{ShardId: aws.String(f.order[start])}}
	}
	if start+1 < len(f.order) {
		out.NextToken = aws.String(strconv.Itoa(start + 1))
	}
	return out, nil
}

func (f *fakeAPI) GetShardIterator(ctx context.Context, params *kinesis.GetShardIteratorInput, _ ...func(*kinesis.Options)) (*kinesis.GetShardIteratorOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	position := 0
	if params.ShardIteratorType == kinesistypes.ShardIteratorTypeAfterSequenceNumber {
		seq, err := strconv.Atoi(aws.ToString(params.StartingSequenceNumber))
		if err != nil {
			return nil, &kinesistypes.InvalidArgumentException{Message: aws.String("bad sequence number")}
		}
		position = seq + 1
	}
	return &kinesis.GetShardIteratorOutput{
		ShardIterator: aws.String(fmt.Sprintf("%s:%d", *params.ShardId, position)),
	}, nil
}

func (f *fakeAPI) GetRecords(ctx context.Context, params *kinesis.GetRecordsInput, _ ...func(*kinesis.Options)) (*kinesis.GetRecordsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getRecordsCalls++

	if f.getRecordsErr != nil {
		return nil, f.getRecordsErr
	}
	if f.expireNext {
		f.expireNext = false
		return nil, &kinesistypes.ExpiredIteratorException{Message: aws.String("expired")}
	}

	var shardID string
	var position int
	if _, err := fmt.Sscanf(strings.Replace(*params.ShardIterator, ":", " ", 1), "%s %d", &shardID, &position); err != nil {
		return nil, &kinesistypes.InvalidArgumentException{Message: aws.String("bad iterator")}
	}
	shard := f.shards[shardID]

	end := len(shard.records)
	if f.pageSize > 0 {
		end = min(end, position+f.pageSize)
	}
	out := &kinesis.GetRecordsOutput{
		Records:            shard.records[position:end],
		MillisBehindLatest: aws.Int64(int64(len(shard.records) - end)),
	}
	if !shard.closed || end < len(shard.records) {
		out.NextShardIterator = aws.String(fmt.Sprintf("%s:%d", shardID, end))
	}
	return out, nil
}
