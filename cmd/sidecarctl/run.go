package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/guseggert/sidecar/config"
	inet "github.com/guseggert/sidecar/internal/net"
	"github.com/guseggert/sidecar/sidecar"
	"github.com/guseggert/sidecar/userdata"
	"github.com/spf13/afero"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "start the backend and keep it supervised until interrupted; SIGHUP retries a failed start",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "python",
				Usage: "The Python interpreter to run the backend with.",
			},
			&cli.StringFlag{
				Name:  "backend-dir",
				Usage: "The directory containing the entry script.",
			},
			&cli.StringFlag{
				Name:  "resources-dir",
				Usage: "Run in packaged mode, with the interpreter and backend bundled in this directory.",
			},
			&cli.StringFlag{
				Name:  "user-data-dir",
				Usage: "The writable per-user directory exposed to the backend.",
			},
			&cli.DurationFlag{
				Name:  "ready-timeout",
				Usage: "Fail a start that doesn't become ready in time. 0 waits forever.",
			},
			&cli.BoolFlag{
				Name:  "seed",
				Usage: "Copy bundled defaults into the user data directory before starting.",
			},
		},
		Action: func(ctx *cli.Context) error {
			cfg, err := loadConfig(ctx)
			if err != nil {
				return err
			}
			log, err := newLogger(cfg.Log)
			if err != nil {
				return err
			}
			defer log.Sync()

			cwd, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("getting working directory: %w", err)
			}
			paths, err := cfg.Resolve(cwd)
			if err != nil {
				return fmt.Errorf("resolving backend paths: %w", err)
			}
			log.Infow("resolved backend paths", "Python", paths.Python, "BackendDir", paths.BackendDir, "UserDataDir", paths.UserDataDir, "Packaged", paths.Packaged)

			return run(ctx.Context, log, cfg, paths)
		},
	}
}

func run(ctx context.Context, log *zap.SugaredLogger, cfg config.Config, paths config.Paths) error {
	sup := sidecar.NewSupervisor(
		sidecar.WithLogger(log),
		sidecar.WithReadyTimeout(cfg.ReadyTimeout),
		sidecar.WithStopTimeout(cfg.StopTimeout),
	)
	launch := func(ctx context.Context) (sidecar.Command, error) {
		port, err := inet.ResolvePort(cfg.Port)
		if err != nil {
			return sidecar.Command{}, err
		}
		l := sidecar.Launch{
			Python:      paths.Python,
			BackendDir:  paths.BackendDir,
			EntryScript: cfg.EntryScript,
			UserDataDir: paths.UserDataDir,
			Port:        port,
			PathPrepend: paths.PathPrepend,
		}
		return l.Command(), nil
	}
	opts := []sidecar.RetryOption{sidecar.WithRetryLogger(log)}
	if cfg.SeedUserData {
		fs := afero.NewOsFs()
		opts = append(opts, sidecar.WithPrepare(func(ctx context.Context, progress func(string)) error {
			return userdata.Initialize(fs, paths.BackendDir, paths.UserDataDir, progress)
		}))
	}
	retry := sidecar.NewRetrySupervisor(sup, launch, opts...)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigs)

	// the sidecar must not outlive us
	defer func() {
		err := retry.Shutdown(context.Background())
		if err != nil {
			log.Errorw("error stopping sidecar", "Error", err)
		}
	}()

	err := retry.Launch(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\nSend SIGHUP to retry.\n", err)
	}

	for {
		select {
		case ev := <-sup.Events():
			// a retry leaves events of the previous sidecar behind
			if !sup.IsCurrent(ev) {
				continue
			}
			printEvent(ev)
		case sig := <-sigs:
			if sig != syscall.SIGHUP {
				fmt.Println("Stopping backend...")
				return nil
			}
			fmt.Println("Restarting backend...")
			err := retry.Retry(ctx)
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s\nSend SIGHUP to retry.\n", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func printEvent(ev sidecar.Event) {
	switch ev.Type {
	case sidecar.EventProgress:
		fmt.Println(ev.Message)
	case sidecar.EventReady:
		fmt.Printf("Backend ready on port %d.\n", ev.Port)
	case sidecar.EventError:
		fmt.Fprintf(os.Stderr, "%s\nSend SIGHUP to retry.\n", ev.Message)
	case sidecar.EventExited:
		fmt.Println("Backend exited. Send SIGHUP to start it again.")
	}
}
