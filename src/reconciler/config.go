package reconciler

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	Epsilon    decimal.Decimal `envconfig:"RECONCILE_EPSILON" default:"0.01"`
	StaleAfter time.Duration   `envconfig:"RECONCILE_STALE_AFTER" default:"15m"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
