package lyrics

import (
	"errors"
	"fmt"
)

type Format string

const (
	FormatLRC   Format = "lrc"   // line-timed, possibly word-timed (enhanced) LRC
	FormatPlain Format = "plain" // unsynced text
)

var ErrEmptyPayload = errors.New("lyric payload is empty")

// Payload is the raw lyric data as stored by a lyric provider.
type Payload struct {
	Format          Format `json:"format"`
	Lyric           string `json:"lyric"`
	Translation     string `json:"translation,omitempty"`
	Transliteration string `json:"transliteration,omitempty"`
}

// Load parses a raw payload into a lyric set.
// Translation and transliteration tracks that fail to parse are dropped.
func Load(p *Payload) (*Set, error) {
	if p == nil || p.Lyric == "" {
		return nil, ErrEmptyPayload
	}
	if p.Format == FormatPlain {
		return &Set{Main: ParsePlain(p.Lyric), PureTimeline: true}, nil
	}

	main, err := ParseLRC(p.Lyric)
	if err != nil {
		return nil, fmt.Errorf("main lyric: %w", err)
	}
	set := &Set{Main: main, PureTimeline: !main.IsSyllabic()}
	if p.Translation != "" {
		set.Translation, _ = ParseLRC(p.Translation)
	}
	if p.Transliteration != "" {
		set.Transliteration, _ = ParseLRC(p.Transliteration)
	}
	return set, nil
}
