// Command pgtrickled is pgtrickle's daemon: the scheduler loop, the
// admin HTTP surface, migration management, and a one-shot manual
// refresh trigger — the cobra-based entrypoint the teacher's bare
// app.NewServer()/srv.Run() main.go grows into once config, logging,
// and more than one subcommand enter the picture.
package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		zap.L().Sync()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
