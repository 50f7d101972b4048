package signals

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// "db" reads the ingestion table on the read-only database, "http" the signal API.
	Source      string        `envconfig:"SIGNAL_SOURCE" default:"db"`
	APIBaseURL  string        `envconfig:"SIGNAL_API_BASE_URL" default:"https://signals.example.com/v1"`
	APIKey      string        `envconfig:"SIGNAL_API_KEY"`
	APITimeout  time.Duration `envconfig:"SIGNAL_API_TIMEOUT" default:"30s"`
	APIPageSize int           `envconfig:"SIGNAL_API_PAGE_SIZE" default:"100"`
	APIMaxPages int           `envconfig:"SIGNAL_API_MAX_PAGES" default:"20"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
