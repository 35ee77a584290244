// tcplog - a TCP relay that records every session it forwards.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"tcplog/cmd"
	ncerr "tcplog/internal/errors"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := cmd.Execute(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "tcplog: %v\n", err)
		cancel()
		os.Exit(exitCode(err))
	}
}

// exitCode is 2 for configuration problems and 1 for everything else.
func exitCode(err error) int {
	if ncerr.IsConfigError(err) {
		return 2
	}
	return 1
}
