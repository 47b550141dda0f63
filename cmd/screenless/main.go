package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	actioncmd "github.com/openclaw/screenless/internal/cmd/action"
)

// main runs one action request (or inbound text) through the engine and
// prints the response envelope.
func main() {
	cfg, err := actioncmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	log.SetPrefix("[SCREENLESS] ")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := actioncmd.Run(ctx, cfg); err != nil {
		log.Fatalf("failed to run action: %v", err)
	}
}
