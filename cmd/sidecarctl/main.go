package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/guseggert/sidecar/config"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	app := &cli.App{
		Name:  "sidecarctl",
		Usage: "run the inference backend as a supervised sidecar and drive its jobs",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "Path to a YAML config file. Defaults to sidecar.yaml in the working or user config directory.",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "One of [debug,info,warn,error].",
			},
			&cli.BoolFlag{
				Name:  "dev-log",
				Usage: "Human-readable development logging.",
			},
			&cli.IntFlag{
				Name:  "port",
				Usage: "The port the backend listens on, 0 for a free one.",
			},
			&cli.StringFlag{
				Name:  "backend-url",
				Usage: "The backend to send jobs to. Defaults to http://127.0.0.1:<port>.",
			},
		},
		Commands: []*cli.Command{
			runCommand(),
			generateCommand(),
			chatCommand(),
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// flagKeys maps command-line flags to config keys.
var flagKeys = map[string]string{
	"log-level":     "log.level",
	"dev-log":       "log.development",
	"port":          "port",
	"backend-url":   "backend_url",
	"python":        "python",
	"backend-dir":   "backend_dir",
	"resources-dir": "resources_dir",
	"user-data-dir": "user_data_dir",
	"ready-timeout": "ready_timeout",
	"seed":          "seed_user_data",
}

// loadConfig loads the config file and environment, with the flags that were set on top.
func loadConfig(ctx *cli.Context) (config.Config, error) {
	overrides := map[string]any{}
	for flag, key := range flagKeys {
		if !ctx.IsSet(flag) {
			continue
		}
		overrides[key] = ctx.Value(flag)
	}
	if d, ok := overrides["ready_timeout"].(time.Duration); ok {
		overrides["ready_timeout"] = d.String()
	}
	cfg, err := config.Load(ctx.String("config"), overrides)
	if err != nil {
		return config.Config{}, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg config.Log) (*zap.SugaredLogger, error) {
	var level zapcore.Level
	err := level.UnmarshalText([]byte(cfg.Level))
	if err != nil {
		return nil, fmt.Errorf("parsing log level: %w", err)
	}
	zapCfg := zap.NewProductionConfig()
	if cfg.Development {
		zapCfg = zap.NewDevelopmentConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	logger, err := zapCfg.Build()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	return logger.Sugar(), nil
}
