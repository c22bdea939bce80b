package cmd

import (
	"os"
)

// CrashWriter appends panic output to a file, so a kernel crash during
// a detached boot still leaves a trail behind once the terminal that
// launched it is gone.
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
