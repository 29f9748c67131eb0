package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	memberctl "github.com/louisbranch/memberkit/internal/cmd/memberctl"
	"github.com/louisbranch/memberkit/internal/platform/config"
	"github.com/louisbranch/memberkit/internal/platform/otel"
)

func main() {
	cfg, err := memberctl.ParseConfig(flag.CommandLine, os.Args[1:], func(key string) (string, bool) {
		value, ok := os.LookupEnv(key)
		return value, ok
	})
	if err != nil {
		config.Exitf("memberctl: %v", err)
	}
	log.SetPrefix("[MEMBERCTL] ")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := otel.Setup(ctx, "memberctl")
	if err != nil {
		log.Printf("telemetry setup failed: %v", err)
	} else {
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				log.Printf("telemetry shutdown failed: %v", err)
			}
		}()
	}

	if err := memberctl.Run(ctx, cfg); err != nil {
		config.Exitf("memberctl: %v", err)
	}
}
