package connectors

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	ExchangeBaseURL       string        `envconfig:"EXCHANGE_BASE_URL" default:"https://clob.example.com"`
	ExchangeAPIKey        string        `envconfig:"EXCHANGE_API_KEY"`
	ExchangeAPISecret     string        `envconfig:"EXCHANGE_API_SECRET"`
	ExchangeTimeout       time.Duration `envconfig:"EXCHANGE_TIMEOUT" default:"10s"`
	ExchangeRetries       int           `envconfig:"EXCHANGE_RETRIES" default:"2"`
	ExchangeRatePerSecond float64       `envconfig:"EXCHANGE_RATE_PER_SECOND" default:"5"`
	ExchangeBurst         int           `envconfig:"EXCHANGE_BURST" default:"10"`
	ExchangeCancelBatch   int           `envconfig:"EXCHANGE_CANCEL_BATCH" default:"20"`
	// Route every order to the in-memory dry-run exchange.
	ExchangeDryRun bool `envconfig:"EXCHANGE_DRY_RUN" default:"false"`

	MarketDataBaseURL string        `envconfig:"MARKET_DATA_BASE_URL" default:"https://gamma.example.com"`
	MarketDataTimeout time.Duration `envconfig:"MARKET_DATA_TIMEOUT" default:"10s"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
