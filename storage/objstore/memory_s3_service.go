package objstore

import (
	"bytes"
	"context"
	"io"
	"path"
	"slices"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// MemoryS3Service is an in-memory implementation of the S3Service for testing.
// ListObjectsV2 returns pages of at most MaxKeys objects, or 1,000 when unset.
type MemoryS3Service struct {
	mu   sync.Mutex
	data map[string][]byte
}

func NewMemoryS3Service() *MemoryS3Service {
	return &MemoryS3Service{
		data: make(map[string][]byte),
	}
}

func (m *MemoryS3Service) GetObject(ctx context.Context, input *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.data[path.Join(*input.Bucket, *input.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}

	return &s3.GetObjectOutput{
		Body: io.NopCloser(bytes.NewReader(bytes.Clone(data))),
	}, nil
}

func (m *MemoryS3Service) ListObjectsV2(ctx context.Context, input *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	bucketAndPrefix := *input.Bucket + "/" + aws.ToString(input.Prefix)
	var keys []string
	for key := range m.data {
		if strings.HasPrefix(key, bucketAndPrefix) {
			keys = append(keys, strings.TrimPrefix(key, *input.Bucket+"/"))
		}
	}
	slices.Sort(keys)

	// Continuation tokens are the last key of the previous page.
	if token := aws.ToString(input.ContinuationToken); token != "" {
		start, _ := slices.BinarySearch(keys, token)
		keys = keys[min(start+1, len(keys)):]
	}

	maxKeys := int(aws.ToInt32(input.MaxKeys))
	if maxKeys <= 0 {
		maxKeys = 1000
	}

	output := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	if len(keys) > maxKeys {
		keys = keys[:maxKeys]
		output.IsTruncated = aws.Bool(true)
		output.NextContinuationToken = aws.String(keys[len(keys)-1])
	}
	for _, key := range keys {
		output.Contents = append(output.Contents, types.Object{Key: aws.String(key)})
	}
	output.KeyCount = aws.Int32(int32(len(output.Contents)))
	return output, nil
}

func (m *MemoryS3Service) PutObject(ctx context.Context, input *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	buf, err := io.ReadAll(input.Body)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[path.Join(*input.Bucket, *input.Key)] = buf
	return &s3.PutObjectOutput{}, nil
}

func (m *MemoryS3Service) DeleteObject(ctx context.Context, input *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, path.Join(*input.Bucket, *input.Key))
	return &s3.DeleteObjectOutput{}, nil
}

// Keys returns every stored "bucket/key" in order.
func (m *MemoryS3Service) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.data))
	for key := range m.data {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}

var _ S3Service = (*MemoryS3Service)(nil)
