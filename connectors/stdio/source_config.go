package stdio

import (
	"errors"
	"io"
	"os"

	"reduction.dev/sourcemux/clocks"
)

type SourceConfig struct {
	// In is read until EOF. Defaults to stdin.
	In      io.Reader
	Framing Framing
	// Clock stamps records with their arrival time.
	Clock clocks.Clock
}

type Framing struct {
	// Delimiter separates records. Defaults to a newline.
	Delimiter []byte
}

func (c SourceConfig) Validate() error {
	if c.Framing.Delimiter != nil && len(c.Framing.Delimiter) == 0 {
		return errors.New("stdio framing delimiter can't be empty")
	}
	return nil
}

func (c SourceConfig) withDefaults() SourceConfig {
	if c.In == nil {
		c.In = os.Stdin
	}
	if c.Framing.Delimiter == nil {
		c.Framing.Delimiter = []byte("\n")
	}
	if c.Clock == nil {
		c.Clock = clocks.NewSystemClock()
	}
	return c
}
