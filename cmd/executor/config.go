package executor

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Config only covers the process mode; the listener comes from server.Config
// and the loop itself from executor.Config.
type Config struct {
	ServeAPI bool `envconfig:"EXECUTOR_SERVE_API" default:"false"`
}

func GetConfig() *Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return &config
}
