// Command netreactor serves the ftp, mail, relay or http protocol from a single
// readiness driven loop.
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

	if err := cli.Execute(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "netreactor: %v\n", err)
		cancel()
		os.Exit(1)
	}
}
