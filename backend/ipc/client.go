package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
)

var ErrPingFail = errors.New("ping failed")

type Client struct {
	httpC http.Client
}

// Connect attempts to connect to the IPC socket as client.
func Connect() (*Client, error) {
	client := newClient(Dial)
	if err := client.Ping(); err != nil {
		return nil, err
	}
	return client, nil
}

func newClient(dial func() (net.Conn, error)) *Client {
	return &Client{httpC: http.Client{
		Transport: &http.Transport{
			DialContext: func(_ context.Context, _, _ string) (net.Conn, error) {
				return dial()
			},
		},
	}}
}

func (c *Client) Ping() error {
	if c.makeSimpleRequest(http.MethodGet, PingPath) != nil {
		return ErrPingFail
	}
	return nil
}

func (c *Client) PlayPause() error {
	return c.makeSimpleRequest(http.MethodPost, PlayPausePath)
}

func (c *Client) Next() error {
	return c.makeSimpleRequest(http.MethodPost, NextPath)
}

func (c *Client) Previous() error {
	return c.makeSimpleRequest(http.MethodPost, PreviousPath)
}

func (c *Client) SeekTo(ms int64) error {
	return c.makeSimpleRequest(http.MethodPost, SeekToMillisPath(ms))
}

func (c *Client) ReloadLyrics() error {
	return c.makeSimpleRequest(http.MethodPost, ReloadLyricsPath)
}

func (c *Client) Quit() error {
	return c.makeSimpleRequest(http.MethodPost, QuitPath)
}

func (c *Client) NowPlaying() (*NowPlaying, error) {
	resp, err := c.httpC.Get("http://lyricsync" + NowPlayingPath)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}
	var np NowPlaying
	if err := json.NewDecoder(resp.Body).Decode(&np); err != nil {
		return nil, err
	}
	return &np, nil
}

func (c *Client) makeSimpleRequest(method string, path string) error {
	var resp *http.Response
	var err error
	switch method {
	case http.MethodGet:
		resp, err = c.httpC.Get("http://lyricsync" + path)
	case http.MethodPost:
		resp, err = c.httpC.Post("http://lyricsync"+path, "application/json", nil)
	}

	if err != nil {
		log.Printf("http err: %v\n", err)
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var r Response
	json.NewDecoder(resp.Body).Decode(&r)
	if r.Error == "" {
		return errors.New(resp.Status)
	}
	return errors.New(r.Error)
}
