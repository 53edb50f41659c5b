package daemonctl

import (
	"os/exec"
	"syscall"
)

// setDetached puts the daemon-run child in its own session so it survives
// `bm daemon start` exiting and doesn't receive signals sent to this
// process's group.
func setDetached(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}

func syscallSig0() syscall.Signal { return syscall.Signal(0) }

func signalTerm(pid int) error { return signalPID(pid, syscall.SIGTERM) }
func signalKill(pid int) error { return signalPID(pid, syscall.SIGKILL) }

func signalPID(pid int, sig syscall.Signal) error {
	return syscall.Kill(pid, sig)
}
