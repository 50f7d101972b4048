package executor

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	LoopPeriod            time.Duration `envconfig:"LOOP_PERIOD" default:"3m"`
	CycleStaleAfter       time.Duration `envconfig:"CYCLE_STALE_AFTER" default:"15m"`
	MaxParallelStrategies int           `envconfig:"MAX_PARALLEL_STRATEGIES" default:"4"`
	SignalPageSize        int           `envconfig:"SIGNAL_PAGE_SIZE" default:"100"`
	MaxSignalsPerCycle    int           `envconfig:"MAX_SIGNALS_PER_CYCLE" default:"500"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
