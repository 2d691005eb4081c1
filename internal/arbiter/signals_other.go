//go:build !unix

package arbiter

// Non-Unix platforms have no user signals; the handshake falls back to pure
// marker-file polling.

func nudgeRequest(pid int) {}

func nudgeRelease(pid int) {}

func notifyNudges(kick chan<- struct{}, stop <-chan struct{}) {}
