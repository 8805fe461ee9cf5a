package kinesis

import (
	"context"
	"fmt"
	"slices"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/kinesis"
	"reduction.dev/sourcemux/util/ptr"
)

// API is the part of the Kinesis client the source uses.
type API interface {
	ListShards(ctx context.Context, params *kinesis.ListShardsInput, optFns ...func(*kinesis.Options)) (*kinesis.ListShardsOutput, error)
	GetShardIterator(ctx context.Context, params *kinesis.GetShardIteratorInput, optFns ...func(*kinesis.Options)) (*kinesis.GetShardIteratorOutput, error)
	GetRecords(ctx context.Context, params *kinesis.GetRecordsInput, optFns ...func(*kinesis.Options)) (*kinesis.GetRecordsOutput, error)
}

var _ API = (*kinesis.Client)(nil)

type NewClientParams struct {
	// The kinesis endpoint to use. Normally left blank but used for testing
	// against local emulators.
	Endpoint string
	Region   string
	// The AWS credentials profile name to use instead of default when credentials
	// falls back to credentials config file.
	Profile string
	// Static credentials take precedence over the default provider chain.
	AccessKeyID     string
	SecretAccessKey string
}

func NewClient(ctx context.Context, params NewClientParams) (*kinesis.Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		func(lo *config.LoadOptions) error {
			if params.Region != "" {
				lo.Region = params.Region
			}
			if params.Profile != "" {
				lo.SharedConfigProfile = params.Profile
			}
			if params.AccessKeyID != "" {
				lo.Credentials = credentials.NewStaticCredentialsProvider(params.AccessKeyID, params.SecretAccessKey, "")
			}
			return nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("kinesis load config: %w", err)
	}

	return kinesis.NewFromConfig(cfg, func(opts *kinesis.Options) {
		if params.Endpoint != "" {
			opts.BaseEndpoint = ptr.New(params.Endpoint)
		}
	}), nil
}

// ListShardIDs returns the ids of every shard in the stream in ascending order.
func ListShardIDs(ctx context.Context, api API, streamARN string) ([]string, error) {
	var shardIDs []string
	var nextToken *string
	for {
		input := &kinesis.ListShardsInput{NextToken: nextToken}
		// StreamARN and NextToken can't be set on the same request.
		if nextToken == nil {
			input.StreamARN = aws.String(streamARN)
		}

		out, err := api.ListShards(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("list shards: %w", sourceErrorFrom(err))
		}
		for _, s := range out.Shards {
			shardIDs = append(shardIDs, aws.ToString(s.ShardId))
		}

		if out.NextToken == nil {
			break
		}
		nextToken = out.NextToken
	}

	slices.Sort(shardIDs)
	return shardIDs, nil
}
