package ipc

import (
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

type fakeHandlers struct {
	mu       sync.Mutex
	calls    []string
	seekedTo int64
	fail     bool
	quit     chan struct{}
	np       *NowPlaying
}

func (f *fakeHandlers) record(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	if f.fail {
		return errors.New("no session")
	}
	return nil
}

func (f *fakeHandlers) PlayPause() error { return f.record("playpause") }
func (f *fakeHandlers) Next() error      { return f.record("next") }
func (f *fakeHandlers) Previous() error  { return f.record("previous") }

func (f *fakeHandlers) SeekTo(ms int64) error {
	f.mu.Lock()
	f.seekedTo = ms
	f.mu.Unlock()
	return f.record("seek")
}

func (f *fakeHandlers) ReloadLyrics() { f.record("reload") }

func (f *fakeHandlers) NowPlaying() (*NowPlaying, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.np, f.np != nil
}

func (f *fakeHandlers) Quit() { close(f.quit) }

func newTestServer(f *fakeHandlers) http.Handler {
	s := serverImpl{tpHandler: f, lyHandler: f, wdHandler: f}
	return s.createHandler()
}

func TestServerRoutes(t *testing.T) {
	tests := []struct {
		path       string
		fail       bool
		wantStatus int
		wantCall   string
	}{
		{PingPath, false, http.StatusOK, ""},
		{PlayPausePath, false, http.StatusOK, "playpause"},
		{NextPath, false, http.StatusOK, "next"},
		{PreviousPath, false, http.StatusOK, "previous"},
		{ReloadLyricsPath, false, http.StatusOK, "reload"},
		{SeekToMillisPath(61_500), false, http.StatusOK, "seek"},
		{TimePosPath + "?ms=abc", false, http.StatusBadRequest, ""},
		{TimePosPath, false, http.StatusBadRequest, ""},
		{NextPath, true, http.StatusInternalServerError, "next"},
		{"/unknown", false, http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		f := &fakeHandlers{fail: tt.fail}
		rec := httptest.NewRecorder()
		newTestServer(f).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, tt.path, nil))
		if rec.Code != tt.wantStatus {
			t.Errorf("POST %s: status = %d, want %d", tt.path, rec.Code, tt.wantStatus)
		}
		var gotCall string
		if len(f.calls) > 0 {
			gotCall = f.calls[0]
		}
		if gotCall != tt.wantCall {
			t.Errorf("POST %s: handler call = %q, want %q", tt.path, gotCall, tt.wantCall)
		}
	}
}

func TestClientRoundTrip(t *testing.T) {
	f := &fakeHandlers{
		quit: make(chan struct{}),
		np:   &NowPlaying{SourceID: "spotify", Title: "Song", Playing: true, PositionSec: 12.5, Line: "hello"},
	}
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	srv := &http.Server{Handler: newTestServer(f)}
	go srv.Serve(l)
	t.Cleanup(func() { srv.Close() })

	c := newClient(func() (net.Conn, error) { return net.Dial("tcp", l.Addr().String()) })
	if err := c.Ping(); err != nil {
		t.Fatalf("Ping() error: %v", err)
	}
	if err := c.SeekTo(4200); err != nil {
		t.Fatalf("SeekTo() error: %v", err)
	}
	f.mu.Lock()
	seeked := f.seekedTo
	f.mu.Unlock()
	if seeked != 4200 {
		t.Errorf("seeked to %d, want 4200", seeked)
	}

	np, err := c.NowPlaying()
	if err != nil {
		t.Fatalf("NowPlaying() error: %v", err)
	}
	if np.Title != "Song" || np.Line != "hello" || np.PositionSec != 12.5 || !np.Playing {
		t.Errorf("NowPlaying() = %+v", np)
	}

	f.mu.Lock()
	f.np = nil
	f.mu.Unlock()
	if _, err := c.NowPlaying(); err == nil || err.Error() != errNothingPlaying.Error() {
		t.Errorf("NowPlaying() without a session: err = %v, want %v", err, errNothingPlaying)
	}

	f.mu.Lock()
	f.fail = true
	f.mu.Unlock()
	if err := c.Next(); err == nil || err.Error() != "no session" {
		t.Errorf("Next() err = %v, want the handler's error", err)
	}

	if err := c.Quit(); err != nil {
		t.Fatalf("Quit() error: %v", err)
	}
	<-f.quit
}
