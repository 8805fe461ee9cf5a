package locations

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// New creates a StorageLocation type from the given path. Returns an
// S3Location if the path is an S3 URI, otherwise returns a local file
// system location.
func New(ctx context.Context, path string) (StorageLocation, error) {
	if strings.HasPrefix(path, "s3://") {
		cfg, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
		}

		return NewS3Location(s3.NewFromConfig(cfg), path)
	}

	return NewLocalDirectory(path), nil
}
