package svpcap

import (
	"fmt"

	"github.com/takehaya/svpcap/pkg/logger"
	"github.com/takehaya/svpcap/pkg/svgen"
)

type Config struct {
	LoggerConfig logger.Config

	// From For CLI Flags
	Params svgen.Params
	Output string
}

func (c *Config) Validate() error {
	if c.Output == "" {
		return fmt.Errorf("output file path is required")
	}
	return nil
}
