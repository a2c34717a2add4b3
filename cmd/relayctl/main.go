// Package main is relayctl, a peer for the relay service.
//
// Commands:
//
//	relayctl submit --file tasks.txt     send a batch and print its results
//	relayctl stats --addr 127.0.0.1:8090 print a running service's counters
//
// A .json file is read as {"player": [{name, games, winning}, ...]} and each
// record is sent as "games,winning"; any other file is sent one payload per
// line.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
