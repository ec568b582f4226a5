package switchbot

import "time"

// PlugMiniJP is the vendor device type reported for the plugs this module controls.
const PlugMiniJP = "Plug Mini (JP)"

// Config holds configuration for the SwitchBot API client.
type Config struct {
	Token      string        `mapstructure:"token"`      //nolint:gosec // G101: config field name, not a credential
	SecretKey  string        `mapstructure:"secret_key"` //nolint:gosec // G101: config field name, not a credential
	BaseURL    string        `mapstructure:"base_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
	DeviceType string        `mapstructure:"device_type"`
	RateLimit  float64       `mapstructure:"rate_limit"` // requests per second, 0 disables
	Burst      int           `mapstructure:"burst"`
	MaxRetries int           `mapstructure:"max_retries"`
	BaseDelay  time.Duration `mapstructure:"base_delay"`
}

// DefaultConfig returns sensible defaults for the SwitchBot client.
// Token and SecretKey are empty and must be supplied by the environment.
func DefaultConfig() Config {
	return Config{
		BaseURL:    "https://api.switch-bot.com",
		Timeout:    10 * time.Second,
		DeviceType: PlugMiniJP,
		RateLimit:  2,
		Burst:      5,
		MaxRetries: 2,
		BaseDelay:  500 * time.Millisecond,
	}
}

// Credentials returns the token/secret pair used to sign requests.
func (c Config) Credentials() Credentials {
	return Credentials{Token: c.Token, SecretKey: c.SecretKey}
}

// Retry returns the executor retry policy embedded in the config.
func (c Config) Retry() RetryConfig {
	return RetryConfig{MaxRetries: c.MaxRetries, BaseDelay: c.BaseDelay}
}
