package ipc

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
)

// TransportHandler forwards transport commands to the followed media session.
type TransportHandler interface {
	PlayPause() error
	Next() error
	Previous() error
	SeekTo(ms int64) error
}

type LyricsHandler interface {
	ReloadLyrics()
	NowPlaying() (*NowPlaying, bool)
}

type WindowHandler interface {
	Quit()
}

type serverImpl struct {
	tpHandler TransportHandler
	lyHandler LyricsHandler
	wdHandler WindowHandler
}

var errNothingPlaying = errors.New("no media session is active")

func NewServer(tpHandler TransportHandler, lyHandler LyricsHandler, wdHandler WindowHandler) *http.Server {
	s := serverImpl{tpHandler: tpHandler, lyHandler: lyHandler, wdHandler: wdHandler}
	return &http.Server{
		Handler: s.createHandler(),
	}
}

func (s *serverImpl) createHandler() http.Handler {
	m := http.NewServeMux()
	m.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("The given path is not valid"))
	})
	m.HandleFunc(PingPath, s.makeSimpleEndpointHandler(func() error { return nil }))
	m.HandleFunc(QuitPath, s.makeSimpleEndpointHandler(func() error {
		go s.wdHandler.Quit()
		return nil
	}))
	m.HandleFunc(PlayPausePath, s.makeSimpleEndpointHandler(s.tpHandler.PlayPause))
	m.HandleFunc(PreviousPath, s.makeSimpleEndpointHandler(s.tpHandler.Previous))
	m.HandleFunc(NextPath, s.makeSimpleEndpointHandler(s.tpHandler.Next))
	m.HandleFunc(TimePosPath, func(w http.ResponseWriter, r *http.Request) {
		ms, err := strconv.ParseInt(r.URL.Query().Get("ms"), 10, 64)
		if err != nil || ms < 0 {
			s.writeErrWithStatus(w, errors.New("invalid or missing ms parameter"), http.StatusBadRequest)
			return
		}
		s.writeSimpleResponse(w, s.tpHandler.SeekTo(ms))
	})
	m.HandleFunc(ReloadLyricsPath, s.makeSimpleEndpointHandler(func() error {
		s.lyHandler.ReloadLyrics()
		return nil
	}))
	m.HandleFunc(NowPlayingPath, func(w http.ResponseWriter, r *http.Request) {
		np, ok := s.lyHandler.NowPlaying()
		if !ok {
			s.writeErrWithStatus(w, errNothingPlaying, http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(np)
	})
	return m
}

func (s *serverImpl) makeSimpleEndpointHandler(f func() error) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		s.writeSimpleResponse(w, f())
	}
}

func (s *serverImpl) writeSimpleResponse(w http.ResponseWriter, err error) {
	if err == nil {
		s.writeOK(w)
	} else {
		s.writeErrWithStatus(w, err, http.StatusInternalServerError)
	}
}

func (s *serverImpl) writeOK(w http.ResponseWriter) (int, error) {
	var r Response
	b, err := json.Marshal(&r)
	if err != nil {
		return 0, err
	}
	return w.Write(b)
}

func (s *serverImpl) writeErrWithStatus(w http.ResponseWriter, err error, status int) (int, error) {
	r := Response{Error: err.Error()}
	b, err := json.Marshal(&r)
	if err != nil {
		return 0, err
	}
	w.WriteHeader(status)
	return w.Write(b)
}
