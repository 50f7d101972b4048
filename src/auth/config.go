package auth

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Config holds bcrypt hashes of the bearer tokens, never the tokens.
type Config struct {
	AdminTokenHash     string `envconfig:"ADMIN_TOKEN_HASH"`
	SchedulerTokenHash string `envconfig:"SCHEDULER_TOKEN_HASH"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
