// Command fieldsync logs location anchors for a photographer's camera frames
// and resolves which anchor governs each frame.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// BuildDate can be set at build time via ldflags.
var (
	Version   = "0.0.1"
	BuildDate = "unknown"
)

// AppName names log files, the OTel service and the Graylog facility.
const AppName = "fieldsync"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	root, a := newRootCmd()
	err := root.ExecuteContext(ctx)
	a.close()
	stop()

	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
