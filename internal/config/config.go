// Package config loads nepenthes configuration from file and environment
// variables and builds the process logger.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/HerbHall/nepenthes/internal/function"
	"github.com/HerbHall/nepenthes/internal/notify"
	"github.com/HerbHall/nepenthes/internal/server"
	"github.com/HerbHall/nepenthes/internal/switchbot"
	"github.com/HerbHall/nepenthes/internal/telemetry"
	"github.com/spf13/viper"
)

// envBindings maps config keys to the environment variable names the
// deployed functions have always used. The NEPENTHES_ prefixed form of each
// key is accepted as well.
var envBindings = map[string]string{
	"switchbot.token":      "SB_TOKEN",
	"switchbot.secret_key": "SB_SECRET_KEY",
	"metrics.namespace":    "METRIC_NAMESPACE",
	"pushover.api_key":     "PUSHOVER_API_KEY",
	"pushover.user_key":    "PAGEE_USER_KEY",
	"sns.topic_arn":        "FORMATTED_TOPIC_ARN",
}

const envPrefix = "NEPENTHES"

// PlugConfig names one plug. ID, or the environment variable named by
// IDEnv, pre-seeds the device id cache.
type PlugConfig struct {
	Name  string `mapstructure:"name"`
	ID    string `mapstructure:"id"`
	IDEnv string `mapstructure:"id_env"`
}

// MetricsConfig holds metric publishing configuration.
type MetricsConfig struct {
	Namespace string `mapstructure:"namespace"`
}

// PlugOnConfig names the plug switched on by the plug-on function.
type PlugOnConfig struct {
	Device string `mapstructure:"device"`
}

// SNSConfig holds the fan-out topic for formatted alarms.
type SNSConfig struct {
	TopicARN string `mapstructure:"topic_arn"`
}

// Settings is the typed view of the whole configuration.
type Settings struct {
	SwitchBot switchbot.Config      `mapstructure:"switchbot"`
	Metrics   MetricsConfig         `mapstructure:"metrics"`
	Plugs     []PlugConfig          `mapstructure:"plugs"`
	PlugOn    PlugOnConfig          `mapstructure:"plug_on"`
	Pushover  notify.PushoverConfig `mapstructure:"pushover"`
	SNS       SNSConfig             `mapstructure:"sns"`
	Serve     server.Config         `mapstructure:"serve"`
	MQTT      telemetry.Config      `mapstructure:"mqtt"`
}

// Load reads configuration from file and environment variables.
func Load(configPath string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("nepenthes")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/nepenthes")
	}

	// Environment variable support: NEPENTHES_SERVE_ADDR=:9090
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range envBindings {
		prefixed := envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, env); err != nil {
			return nil, fmt.Errorf("binding %s: %w", env, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		// Config file not found is fine -- use defaults
	}

	return v, nil
}

func setDefaults(v *viper.Viper) {
	sb := switchbot.DefaultConfig()
	v.SetDefault("switchbot.token", "")
	v.SetDefault("switchbot.secret_key", "")
	v.SetDefault("switchbot.base_url", sb.BaseURL)
	v.SetDefault("switchbot.timeout", sb.Timeout)
	v.SetDefault("switchbot.device_type", sb.DeviceType)
	v.SetDefault("switchbot.rate_limit", sb.RateLimit)
	v.SetDefault("switchbot.burst", sb.Burst)
	v.SetDefault("switchbot.max_retries", sb.MaxRetries)
	v.SetDefault("switchbot.base_delay", sb.BaseDelay)

	v.SetDefault("metrics.namespace", "NHomeZero")

	v.SetDefault("plugs", []map[string]any{
		{"name": "N. Pi", "id_env": "SB_PI_DEVICE_ID"},
		{"name": "N. Fan", "id_env": "SB_FAN_DEVICE_ID"},
	})
	v.SetDefault("plug_on.device", "N. Pi")

	po := notify.DefaultPushoverConfig()
	v.SetDefault("pushover.api_key", "")
	v.SetDefault("pushover.user_key", "")
	v.SetDefault("pushover.url", po.URL)
	v.SetDefault("pushover.priority", po.Priority)
	v.SetDefault("pushover.retry", po.Retry)
	v.SetDefault("pushover.expire", po.Expire)
	v.SetDefault("pushover.sound", po.Sound)
	v.SetDefault("pushover.timeout", po.Timeout)

	v.SetDefault("sns.topic_arn", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	sv := server.DefaultConfig()
	v.SetDefault("serve.addr", sv.Addr)
	v.SetDefault("serve.poll_interval", sv.PollInterval)
	v.SetDefault("serve.invoke_rate", sv.InvokeRate)
	v.SetDefault("serve.invoke_burst", sv.InvokeBurst)
	v.SetDefault("serve.swagger", sv.Swagger)

	mq := telemetry.DefaultConfig()
	v.SetDefault("mqtt.broker_url", mq.BrokerURL)
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.client_id", mq.ClientID)
	v.SetDefault("mqtt.topic", mq.Topic)
	v.SetDefault("mqtt.qos", mq.QoS)
	v.SetDefault("mqtt.timeout", mq.Timeout)
}

// Unmarshal decodes v into Settings and resolves plug ids from the
// environment.
func Unmarshal(v *viper.Viper) (*Settings, error) {
	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	for i := range s.Plugs {
		p := &s.Plugs[i]
		if p.ID == "" && p.IDEnv != "" {
			p.ID = os.Getenv(p.IDEnv)
		}
	}
	return &s, nil
}

// PlugNames returns the configured plug names in order.
func (s *Settings) PlugNames() []string {
	names := make([]string, 0, len(s.Plugs))
	for _, p := range s.Plugs {
		names = append(names, p.Name)
	}
	return names
}

// MissingError lists required options that are not set.
type MissingError struct {
	Target string
	Keys   []string
}

func (e *MissingError) Error() string {
	return fmt.Sprintf("%s: missing required configuration: %s", e.Target, strings.Join(e.Keys, ", "))
}

// Require checks that every option the named function needs is set. It
// returns a *MissingError naming all missing keys.
func (s *Settings) Require(target string) error {
	type check struct {
		key string
		ok  bool
	}
	creds := []check{
		{"switchbot.token", s.SwitchBot.Token != ""},
		{"switchbot.secret_key", s.SwitchBot.SecretKey != ""},
	}
	namespace := check{"metrics.namespace", s.Metrics.Namespace != ""}

	var checks []check
	switch target {
	case function.NamePlugStatus:
		checks = append(creds, namespace, check{"plugs", len(s.Plugs) > 0 && s.Plugs[0].Name != ""})
	case function.NamePlugOn:
		checks = append(creds, check{"plug_on.device", s.PlugOn.Device != ""})
	case function.NameLogPuller:
		checks = []check{namespace}
	case function.NamePushover:
		checks = []check{
			{"pushover.api_key", s.Pushover.APIKey != ""},
			{"pushover.user_key", s.Pushover.UserKey != ""},
		}
	case function.NameAlarmEmail:
		checks = []check{{"sns.topic_arn", s.SNS.TopicARN != ""}}
	default:
		return fmt.Errorf("unknown function %q", target)
	}

	var missing []string
	for _, c := range checks {
		if !c.ok {
			missing = append(missing, c.key)
		}
	}
	if len(missing) > 0 {
		return &MissingError{Target: target, Keys: missing}
	}
	return nil
}
