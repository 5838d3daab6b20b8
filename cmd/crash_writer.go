package cmd

import (
	"os"
)

// CrashWriter appends every Write to fileName, reopening it each call so a
// log rotator can move the file out from under a long-running mount
// without losing subsequent writes. Used by Execute's recover handler to
// persist a panic's stack trace (registry invariant violations, unexpected
// FUSE op failures) somewhere an operator can find it after the process
// has already exited.
type CrashWriter struct {
	fileName string
}

func (w *CrashWriter) Write(p []byte) (n int, err error) {
	f, err := os.OpenFile(w.fileName, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return
	}
	defer f.Close()

	n, err = f.Write(p)

	return
}
