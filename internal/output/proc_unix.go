//go:build !windows

package output

import (
	"os/exec"
	"syscall"
)

// configureProcess puts the encoder in its own process group so a terminal
// Ctrl+C reaches only rawcast, which then closes the stream cleanly
func configureProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func killProcess(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil {
		return cmd.Process.Kill()
	}
	return nil
}
