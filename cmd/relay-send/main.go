// Command relay-send sends one message to a netreactor relay server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cyberinferno/netreactor/cli"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := cli.ExecuteSend(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "relay-send: %v\n", err)
		cancel()
		os.Exit(1)
	}
}
