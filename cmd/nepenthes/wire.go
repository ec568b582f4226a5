package main

import (
	"context"
	"fmt"

	"github.com/HerbHall/nepenthes/internal/config"
	"github.com/HerbHall/nepenthes/internal/function"
	"github.com/HerbHall/nepenthes/internal/metrics"
	"github.com/HerbHall/nepenthes/internal/notify"
	"github.com/HerbHall/nepenthes/internal/switchbot"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"go.uber.org/zap"
)

// allFunctions is the registration order used by serve mode.
var allFunctions = []string{
	function.NamePlugStatus,
	function.NamePlugOn,
	function.NameLogPuller,
	function.NamePushover,
	function.NameAlarmEmail,
}

// components builds the shared collaborators of the functions on first use,
// so a process that runs only one function never creates clients it does
// not need.
type components struct {
	settings *config.Settings
	logger   *zap.Logger

	// Overridable in tests; created from the default AWS config when nil.
	cloudwatchAPI metrics.PutMetricDataAPI
	snsAPI        notify.PublishAPI
	loadAWS       func(ctx context.Context) (aws.Config, error)

	awsCfg    *aws.Config
	plugs     *switchbot.Plugs
	publisher *metrics.Publisher
}

func newComponents(settings *config.Settings, logger *zap.Logger) *components {
	return &components{
		settings: settings,
		logger:   logger,
		loadAWS: func(ctx context.Context) (aws.Config, error) {
			return awsconfig.LoadDefaultConfig(ctx)
		},
	}
}

func (c *components) awsConfig(ctx context.Context) (aws.Config, error) {
	if c.awsCfg != nil {
		return *c.awsCfg, nil
	}
	cfg, err := c.loadAWS(ctx)
	if err != nil {
		return aws.Config{}, fmt.Errorf("loading AWS config: %w", err)
	}
	c.awsCfg = &cfg
	c.logger.Debug("AWS config loaded", zap.String("region", cfg.Region))
	return cfg, nil
}

func (c *components) plugController() *switchbot.Plugs {
	if c.plugs != nil {
		return c.plugs
	}
	cfg := c.settings.SwitchBot
	logger := c.logger.Named("switchbot")

	client := switchbot.NewClient(cfg)
	cache := switchbot.NewCache(client, cfg.DeviceType, logger)
	seeded := 0
	for _, p := range c.settings.Plugs {
		if p.ID != "" {
			cache.Seed(p.Name, p.ID)
			seeded++
		}
	}
	exec := switchbot.NewExecutor(cache, cfg.Retry(), logger)
	c.plugs = switchbot.NewPlugs(client, exec)

	logger.Info("switchbot client configured",
		zap.String("base_url", cfg.BaseURL),
		zap.Int("seeded_devices", seeded),
		zap.Int("max_retries", cfg.MaxRetries),
	)
	return c.plugs
}

func (c *components) metricPublisher(ctx context.Context) (*metrics.Publisher, error) {
	if c.publisher != nil {
		return c.publisher, nil
	}
	api := c.cloudwatchAPI
	if api == nil {
		cfg, err := c.awsConfig(ctx)
		if err != nil {
			return nil, err
		}
		api = cloudwatch.NewFromConfig(cfg)
	}
	c.publisher = metrics.NewPublisher(api, c.logger.Named("metrics"))
	return c.publisher, nil
}

func (c *components) alarmTopic(ctx context.Context) (*notify.Topic, error) {
	api := c.snsAPI
	if api == nil {
		cfg, err := c.awsConfig(ctx)
		if err != nil {
			return nil, err
		}
		api = sns.NewFromConfig(cfg)
	}
	return notify.NewTopic(api, c.settings.SNS.TopicARN, c.logger.Named("sns")), nil
}

// build constructs the named function. Callers check requirements first.
func (c *components) build(ctx context.Context, name string) (function.Function, error) {
	logger := c.logger.Named(name)
	namespace := c.settings.Metrics.Namespace

	switch name {
	case function.NamePlugStatus:
		pub, err := c.metricPublisher(ctx)
		if err != nil {
			return nil, err
		}
		return function.NewPlugStatus(c.plugController(), pub, namespace, c.settings.PlugNames(), logger), nil
	case function.NamePlugOn:
		return function.NewPlugOn(c.plugController(), c.settings.PlugOn.Device, logger), nil
	case function.NameLogPuller:
		pub, err := c.metricPublisher(ctx)
		if err != nil {
			return nil, err
		}
		return function.NewLogPuller(pub, namespace, logger), nil
	case function.NamePushover:
		return function.NewPushover(notify.NewPushover(c.settings.Pushover, c.logger.Named("pushover")), logger), nil
	case function.NameAlarmEmail:
		topic, err := c.alarmTopic(ctx)
		if err != nil {
			return nil, err
		}
		return function.NewAlarmEmail(topic, logger), nil
	default:
		return nil, fmt.Errorf("%w: %q", function.ErrUnknownFunction, name)
	}
}

// registerFunctions registers each named function whose configuration is
// complete. In strict mode a missing option is an error; otherwise the
// function is skipped with a warning.
func registerFunctions(ctx context.Context, c *components, reg *function.Registry, names []string, strict bool) error {
	for _, name := range names {
		if err := c.settings.Require(name); err != nil {
			if strict {
				return err
			}
			c.logger.Warn("function disabled", zap.String("function", name), zap.Error(err))
			continue
		}
		f, err := c.build(ctx, name)
		if err != nil {
			return fmt.Errorf("building %s: %w", name, err)
		}
		if err := reg.Register(f); err != nil {
			return err
		}
	}
	return nil
}
