//go:build !windows

package ipc

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
)

const socketPathEnv = "LYRICSYNC_SOCKET_PATH"

// socketPath is initialized from $LYRICSYNC_SOCKET_PATH if set, otherwise
// based on platform conventions:
//   - macOS: ~/Library/Caches/lyricsync/lyricsync.sock
//   - Linux/Unix: $XDG_RUNTIME_DIR/lyricsync.sock
//
// with /tmp/lyricsync-{uid}.sock as the fallback.
var socketPath = defaultSocketPath()

func defaultSocketPath() string {
	if p := os.Getenv(socketPathEnv); p != "" {
		return p
	}
	if runtime.GOOS == "darwin" {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, "Library", "Caches", "lyricsync", "lyricsync.sock")
		}
	} else if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "lyricsync.sock")
	}
	if u, err := user.Current(); err == nil {
		return fmt.Sprintf("/tmp/lyricsync-%s.sock", u.Uid)
	}
	return "/tmp/lyricsync.sock"
}

// Dial establishes a connection to the IPC socket.
// Returns an error if the socket doesn't exist or connection fails.
func Dial() (net.Conn, error) {
	return net.Dial("unix", socketPath)
}

// Listen creates a Unix domain socket listener at the configured path.
// A socket file left behind by a crashed instance is replaced.
// The socket should be cleaned up with DestroyConn() when done.
func Listen() (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(socketPath), 0700); err != nil {
		return nil, err
	}
	l, err := net.Listen("unix", socketPath)
	if err == nil {
		return l, nil
	}
	if _, statErr := os.Stat(socketPath); statErr != nil {
		return nil, err
	}
	if conn, dialErr := Dial(); dialErr == nil {
		conn.Close()
		return nil, fmt.Errorf("ipc socket %s is in use", socketPath)
	}
	if rmErr := os.Remove(socketPath); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
		return nil, rmErr
	}
	return net.Listen("unix", socketPath)
}

// DestroyConn removes the Unix socket file from the filesystem.
// Should be called during application shutdown.
func DestroyConn() error {
	return os.Remove(socketPath)
}
