// Command nepenthes runs the plug control and alarm functions, either one
// invocation at a time (Lambda or stdin) or as a long-running server.
package main

//go:generate swag init -g main.go -d ./,../../internal/server,../../internal/function -o ../../api/swagger --outputTypes go

//	@title			nepenthes API
//	@version		0.1.0
//	@description	Manual invocation and inspection of the plug control and alarm functions.
//	@BasePath		/api/v1

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/HerbHall/nepenthes/internal/config"
	"github.com/HerbHall/nepenthes/internal/function"
	"github.com/HerbHall/nepenthes/internal/version"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const usage = `usage: nepenthes [-config path] <command> [args]

commands:
  lambda [function]   serve a Lambda runtime for one function (default: $_HANDLER)
  invoke <function>   run one function with the event read from stdin
  serve               run every configured function behind an HTTP server
  version             print version information

functions: plug-status, plug-on, log-puller, pushover, alarm-email
`

func main() {
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	configPath := flag.String("config", "", "path to configuration file")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	if args[0] == "version" {
		v := version.Map()
		fmt.Printf("nepenthes %s (commit %s, built %s, %s)\n", v["version"], v["git_commit"], v["build_date"], v["go_version"])
		return
	}

	// Load configuration (before logger, so log level/format can be configured).
	v, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	settings, err := config.Unmarshal(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to decode configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := config.NewLogger(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	logConfigSource(v, logger)

	ctx := context.Background()
	c := newComponents(settings, logger)

	switch args[0] {
	case "lambda":
		name := os.Getenv("_HANDLER")
		if len(args) > 1 {
			name = args[1]
		}
		runLambda(ctx, c, name, logger)
	case "invoke":
		if len(args) < 2 {
			flag.Usage()
			os.Exit(2)
		}
		if err := runInvoke(ctx, c, args[1], os.Stdin, os.Stdout); err != nil {
			logger.Error("invocation failed", zap.String("function", args[1]), zap.Error(err))
			_ = logger.Sync()
			os.Exit(1)
		}
	case "serve":
		if err := runServe(ctx, c, settings, logger); err != nil {
			logger.Error("serve failed", zap.Error(err))
			_ = logger.Sync()
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", args[0])
		flag.Usage()
		os.Exit(2)
	}
}

func logConfigSource(v *viper.Viper, logger *zap.Logger) {
	if f := v.ConfigFileUsed(); f != "" {
		logger.Debug("configuration loaded",
			zap.String("component", "config"),
			zap.String("source", f),
		)
		return
	}
	logger.Debug("no configuration file found, using defaults and environment",
		zap.String("component", "config"),
	)
}

// singleRegistry registers only name, treating missing configuration as
// fatal.
func singleRegistry(ctx context.Context, c *components, name string) (*function.Registry, error) {
	if name == "" {
		return nil, errors.New("no function named")
	}
	reg := function.NewRegistry(c.logger.Named("registry"))
	if err := registerFunctions(ctx, c, reg, []string{name}, true); err != nil {
		return nil, err
	}
	return reg, nil
}

func runLambda(ctx context.Context, c *components, name string, logger *zap.Logger) {
	reg, err := singleRegistry(ctx, c, name)
	if err != nil {
		logger.Fatal("function not available", zap.String("function", name), zap.Error(err))
	}
	logger.Info("lambda handler starting",
		zap.String("function", name),
		zap.String("version", version.Short()),
	)
	lambda.Start(func(ctx context.Context, event json.RawMessage) (any, error) {
		return reg.Invoke(ctx, name, event)
	})
}

// runInvoke runs name once with the event read from in and writes the JSON
// result to out. Empty input is sent as an empty object.
func runInvoke(ctx context.Context, c *components, name string, in io.Reader, out io.Writer) error {
	reg, err := singleRegistry(ctx, c, name)
	if err != nil {
		return err
	}

	event, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("reading event: %w", err)
	}
	if len(event) == 0 {
		event = []byte("{}")
	}
	if !json.Valid(event) {
		return errors.New("event is not valid JSON")
	}

	result, err := reg.Invoke(ctx, name, event)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
