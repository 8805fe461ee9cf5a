package kinesis

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"reduction.dev/sourcemux/clocks"
)

const (
	defaultRecordsLimit = 1000
	defaultEmptyPoll    = time.Second
)

// SourceConfig contains configuration for the Kinesis source connector
type SourceConfig struct {
	StreamARN string
	Client    NewClientParams

	// API replaces the client created from Client, mostly for tests.
	API API
	// Clock provides arrival times for idle watermarks and backoff. Defaults to
	// the system clock.
	Clock clocks.Clock

	// RecordsLimit caps the records returned by one GetRecords call.
	RecordsLimit int32
	// EmptyPollInterval is the wait between GetRecords calls that returned
	// nothing, keeping readers under the per shard read limits.
	EmptyPollInterval time.Duration
}

func (c SourceConfig) Validate() error {
	var errs []error
	if c.StreamARN == "" {
		errs = append(errs, errors.New("kinesis source requires a stream ARN"))
	}
	if _, err := url.Parse(c.Client.Endpoint); err != nil {
		errs = append(errs, fmt.Errorf("invalid kinesis source endpoint %q: %w", c.Client.Endpoint, err))
	}
	if c.RecordsLimit < 0 || c.RecordsLimit > 10000 {
		errs = append(errs, fmt.Errorf("kinesis records limit must be between 1 and 10000, got %d", c.RecordsLimit))
	}
	return errors.Join(errs...)
}

func (c SourceConfig) withDefaults() SourceConfig {
	if c.Clock == nil {
		c.Clock = clocks.NewSystemClock()
	}
	if c.RecordsLimit == 0 {
		c.RecordsLimit = defaultRecordsLimit
	}
	if c.EmptyPollInterval == 0 {
		c.EmptyPollInterval = defaultEmptyPoll
	}
	return c
}
