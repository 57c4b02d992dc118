package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/guseggert/sidecar/api"
	"github.com/guseggert/sidecar/config"
	"github.com/guseggert/sidecar/stream"
	"github.com/guseggert/sidecar/task"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func generateCommand() *cli.Command {
	return &cli.Command{
		Name:      "generate",
		Usage:     "generate images with a running backend and follow the progress; Ctrl-C cancels",
		ArgsUsage: "<prompt>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "negative",
				Usage: "The negative prompt.",
			},
			&cli.Int64Flag{
				Name:  "seed",
				Usage: "The seed, -1 for a random one.",
				Value: -1,
			},
			&cli.IntFlag{
				Name:  "images",
				Usage: "How many images to generate.",
				Value: 1,
			},
			&cli.StringFlag{
				Name:  "model",
				Usage: "The base model to use instead of the backend's default.",
			},
		},
		Action: func(ctx *cli.Context) error {
			prompt := strings.Join(ctx.Args().Slice(), " ")
			if prompt == "" {
				return errors.New("a prompt is required")
			}
			req := api.GenerateRequest{
				Prompt:         prompt,
				NegativePrompt: ctx.String("negative"),
				BaseModelName:  ctx.String("model"),
				Seed:           ctx.Int64("seed"),
				ImageNumber:    ctx.Int("images"),
			}
			return runJob(ctx, api.KindGenerate, req)
		},
	}
}

func chatCommand() *cli.Command {
	return &cli.Command{
		Name:      "chat",
		Usage:     "send a chat message to a running backend and print the reply",
		ArgsUsage: "<message>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "system",
				Usage: "The system prompt.",
			},
		},
		Action: func(ctx *cli.Context) error {
			msg := strings.Join(ctx.Args().Slice(), " ")
			if msg == "" {
				return errors.New("a message is required")
			}
			req := api.ChatSendRequest{
				System:  ctx.String("system"),
				History: []api.ChatMessage{{Role: "user", Content: msg}},
			}
			return runJob(ctx, api.KindChat, req)
		},
	}
}

func runJob(ctx *cli.Context, kind api.Kind, payload any) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	log, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctrl := newController(log, cfg, kind)
	defer ctrl.Close()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)

	_, err = ctrl.Submit(ctx.Context, payload)
	if err != nil {
		return err
	}
	return follow(ctx.Context, ctrl, sigs)
}

func newController(log *zap.SugaredLogger, cfg config.Config, kind api.Kind) *task.Controller {
	url := cfg.URL(cfg.Port)
	client := task.NewClient(url, task.WithClientLogger(log), task.WithRetryMax(cfg.HTTPRetryMax))
	dialer := &stream.Dialer{BaseURL: url, Logger: log}
	return task.NewController(kind, client, task.DialerOpener(dialer), task.WithLogger(log))
}

// follow prints snapshots until the task is over.
func follow(ctx context.Context, ctrl *task.Controller, sigs <-chan os.Signal) error {
	for ctrl.Snapshot().State.InFlight() {
		select {
		case u := <-ctrl.Updates():
			printSnapshot(u)
		case <-sigs:
			fmt.Println("Cancelling...")
			err := ctrl.Cancel(ctx)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	// updates may have been dropped, the snapshot is authoritative
	snap := ctrl.Snapshot()

	switch snap.State {
	case task.Complete:
		for _, img := range snap.Images {
			fmt.Println(img)
		}
		if n := len(snap.History); n > 0 {
			fmt.Println(snap.History[n-1].Content)
		}
		return nil
	case task.Cancelled:
		return errors.New("cancelled")
	default:
		return fmt.Errorf("task %s failed (%s): %s", snap.TaskID, snap.Cause, snap.Err)
	}
}

func printSnapshot(snap task.Snapshot) {
	if snap.State != task.Streaming {
		return
	}
	if snap.Kind == api.KindChat {
		if n := len(snap.History); n > 0 {
			fmt.Printf("\r%s", snap.History[n-1].Content)
		}
		return
	}
	fmt.Printf("%3.0f%% %s\n", snap.Progress.Percent, snap.Progress.Status)
}
