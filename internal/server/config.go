package server

import "time"

// Config holds the serve mode configuration.
type Config struct {
	Addr         string        `mapstructure:"addr"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	// InvokeRate and InvokeBurst bound manual invocations per client.
	InvokeRate  float64 `mapstructure:"invoke_rate"`
	InvokeBurst int     `mapstructure:"invoke_burst"`
	// Swagger serves the API documentation UI at /swagger/.
	Swagger bool `mapstructure:"swagger"`
}

// DefaultConfig returns the serve mode defaults. The poll interval matches
// the plug-status schedule of the deployed functions.
func DefaultConfig() Config {
	return Config{
		Addr:         ":8080",
		PollInterval: 2 * time.Minute,
		InvokeRate:   2,
		InvokeBurst:  10,
	}
}
