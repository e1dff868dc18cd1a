//go:build linux

// Command preload-ctl is a placeholder: preloadd's control surface is
// reached by sending it a signal (SIGHUP reload, SIGUSR1 dump,
// SIGUSR2 save, SIGTERM/SIGINT/SIGQUIT stop; see cmd/preloadd's
// handleSignals), not by a separate client binary. A real CLI wrapper
// around `kill -SIGUSR2 $(cat /var/run/preloadd.pid)` is out of scope.
package main

import "fmt"

func main() {
	fmt.Println("preload-ctl: use kill(1) against the preloadd pid; see cmd/preloadd's signal contract")
}
