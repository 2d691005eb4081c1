//go:build unix

package arbiter

import (
	"os"
	"os/signal"
	"syscall"
)

// nudgeRequest pokes the server so it notices a posted request before its
// next poll tick. Delivery failures are ignored: the marker file is the
// source of truth.
func nudgeRequest(pid int) {
	if proc, err := os.FindProcess(pid); err == nil {
		_ = proc.Signal(syscall.SIGUSR1)
	}
}

// nudgeRelease pokes the server after the done marker is posted.
func nudgeRelease(pid int) {
	if proc, err := os.FindProcess(pid); err == nil {
		_ = proc.Signal(syscall.SIGUSR2)
	}
}

// notifyNudges routes handoff nudge signals into kick until stop is closed.
func notifyNudges(kick chan<- struct{}, stop <-chan struct{}) {
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGUSR1, syscall.SIGUSR2)
	go func() {
		defer signal.Stop(sigs)
		for {
			select {
			case <-sigs:
				select {
				case kick <- struct{}{}:
				default:
				}
			case <-stop:
				return
			}
		}
	}()
}
