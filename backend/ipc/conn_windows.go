//go:build windows

package ipc

import (
	"net"
	"os"
	"os/user"
	"regexp"
	"time"

	"github.com/Microsoft/go-winio"
)

const pipeDialTimeout = 2 * time.Second

var pipeName = defaultPipeName()

func defaultPipeName() string {
	if p := os.Getenv("LYRICSYNC_SOCKET_PATH"); p != "" {
		return p
	}
	name := `\\.\pipe\lyricsync`
	if u, err := user.Current(); err == nil {
		name += regexp.MustCompile(`[^a-zA-Z0-9]+`).ReplaceAllString(u.Username, "")
	}
	return name
}

func Dial() (net.Conn, error) {
	timeout := pipeDialTimeout
	return winio.DialPipe(pipeName, &timeout)
}

func Listen() (net.Listener, error) {
	// only the current user may connect
	return winio.ListenPipe(pipeName, &winio.PipeConfig{
		SecurityDescriptor: "D:P(A;;GA;;;OW)",
	})
}

func DestroyConn() error {
	// Windows named pipes automatically clean up
	return nil
}
