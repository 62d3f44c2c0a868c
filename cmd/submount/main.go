package main

import (
	"fmt"
	"os"
	"runtime"
)

func init() {
	// Mount namespace switches apply to the calling thread only. Keep the
	// main goroutine on the main thread for the whole run.
	runtime.LockOSThread()
}

func main() {
	ctx, cancel := newCommandContext()
	err := newRootCmd(newApp()).ExecuteContext(ctx)
	cancel()

	if err != nil {
		fmt.Fprintf(os.Stderr, "submount: %v\n", err)
	}
	os.Exit(exitCode(err))
}
