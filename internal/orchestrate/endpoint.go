package orchestrate

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
)

// Listen creates the commander's IPC endpoint at socketPath: a Unix domain
// socket inside a user-private (mode 0700) directory. The transport never
// binds a TCP interface — socketPath must be a filesystem path.
//
// Only the Unix domain socket transport is implemented; there is no
// Windows named-pipe listener.
func Listen(socketPath string) (net.Listener, error) {
	dir := filepath.Dir(socketPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("orchestrate: creating endpoint dir %s: %w", dir, err)
	}
	if err := os.Chmod(dir, 0700); err != nil {
		return nil, fmt.Errorf("orchestrate: restricting endpoint dir %s: %w", dir, err)
	}
	os.Remove(socketPath) // stale socket from a prior crashed commander

	l, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("orchestrate: listening on %s: %w", socketPath, err)
	}
	if err := os.Chmod(socketPath, 0700); err != nil {
		l.Close()
		return nil, fmt.Errorf("orchestrate: restricting endpoint socket %s: %w", socketPath, err)
	}
	return l, nil
}

// Dial connects to a commander's IPC endpoint.
func Dial(socketPath string) (*Conn, error) {
	raw, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("orchestrate: dialing %s: %w", socketPath, err)
	}
	return NewConn(raw), nil
}
