//go:build !windows

package agent

import (
	"os"
	"os/exec"

	"github.com/creack/pty"
)

// startPTY starts cmd attached to a pseudo-terminal and returns the
// controlling file. Some CLIs only stream incrementally when they
// detect a terminal on stdout.
func startPTY(cmd *exec.Cmd) (*os.File, error) {
	return pty.StartWithSize(cmd, &pty.Winsize{Rows: 40, Cols: 200})
}
