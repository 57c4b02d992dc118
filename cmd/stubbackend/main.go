package main

import (
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/guseggert/sidecar/api"
	"github.com/guseggert/sidecar/backendstub"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	app := &cli.App{
		Name:      "stubbackend",
		Usage:     "a fake inference backend that serves scripted job streams",
		ArgsUsage: "[entry-script] [--port N]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "listen-addr",
				Usage: "The address for the HTTP server to listen on.",
				Value: "127.0.0.1:7865",
			},
			&cli.IntFlag{
				Name:  "port",
				Usage: "Listen on 127.0.0.1 with this port, instead of the listen address.",
			},
			&cli.DurationFlag{
				Name:  "startup-delay",
				Usage: "How long to print startup progress before announcing readiness.",
				Value: time.Second,
			},
			&cli.DurationFlag{
				Name:  "frame-interval",
				Usage: "The delay before each streamed frame.",
				Value: 200 * time.Millisecond,
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Debug logging.",
			},
		},
		Action: func(ctx *cli.Context) error {
			listenAddr := ctx.String("listen-addr")
			if ctx.IsSet("port") {
				listenAddr = fmt.Sprintf("127.0.0.1:%d", ctx.Int("port"))
			}
			// started the way the supervisor starts the real backend: <interpreter> <script> --port N
			if port, ok := portArg(ctx.Args().Slice()); ok {
				listenAddr = fmt.Sprintf("127.0.0.1:%d", port)
			}

			logger, err := zap.NewDevelopment()
			if err != nil {
				return fmt.Errorf("building logger: %w", err)
			}
			level := zapcore.InfoLevel
			if ctx.Bool("debug") {
				level = zapcore.DebugLevel
			}

			interval := ctx.Duration("frame-interval")
			opts := []backendstub.Option{
				backendstub.WithLogger(logger.Sugar()),
				backendstub.WithLogLevel(level),
				backendstub.WithListenAddr(listenAddr),
			}
			for _, kind := range []api.Kind{api.KindGenerate, api.KindChat} {
				script := backendstub.DefaultScript(kind)
				script.Interval = interval
				opts = append(opts, backendstub.WithScript(kind, script))
			}
			backend := backendstub.New(opts...)

			fmt.Println("Checking dependencies...")
			fmt.Println("Loading model stub.safetensors")
			time.Sleep(ctx.Duration("startup-delay"))

			sigs := make(chan os.Signal, 1)
			signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigs
				backend.Stop()
			}()

			ready := make(chan net.Addr, 1)
			go func() {
				addr := <-ready
				// the web server of the real backend logs this to stderr
				fmt.Fprintf(os.Stderr, "INFO:     Uvicorn running on http://%s (Press CTRL+C to quit)\n", addr)
			}()
			return backend.Run(ready)
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func portArg(args []string) (int, bool) {
	for i, a := range args {
		if a == "--port" && i+1 < len(args) {
			port, err := strconv.Atoi(args[i+1])
			if err == nil {
				return port, true
			}
		}
	}
	return 0, false
}
