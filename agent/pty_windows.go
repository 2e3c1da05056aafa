//go:build windows

package agent

import (
	"fmt"
	"os"
	"os/exec"
)

func startPTY(cmd *exec.Cmd) (*os.File, error) {
	return nil, fmt.Errorf("pty not supported on windows")
}
