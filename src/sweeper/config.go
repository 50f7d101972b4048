package sweeper

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	OrderTimeout   time.Duration `envconfig:"SWEEP_ORDER_TIMEOUT" default:"5m"`
	FollowUpWindow time.Duration `envconfig:"SWEEP_FOLLOWUP_WINDOW" default:"24h"`
	StaleAfter     time.Duration `envconfig:"SWEEP_STALE_AFTER" default:"15m"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
