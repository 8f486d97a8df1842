// Cuebridge - DJ Equipment Now-Playing Bridge
// Copyright 2026 Cuepoint Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cuepointlabs/cuebridge

// Package icecast accepts Icecast/Shoutcast source connections and
// extracts in-band StreamTitle metadata, exposing the stream as an
// equipment source plugin.
package icecast

import "strings"

// metaLengthUnit scales the length-prefix byte to the true metadata
// block size.
const metaLengthUnit = 16

type parserState int

const (
	stateAudio parserState = iota
	stateLength
	stateMeta
)

// MetaParser is a streaming state machine over the ICY byte-interleaved
// protocol: metaInt bytes of opaque audio, one length-prefix byte, then
// length*16 bytes of NUL-padded metadata text, repeating. Feed may be
// called with arbitrarily chunked input; results are independent of
// where the chunk boundaries fall.
type MetaParser struct {
	metaInt    int
	state      parserState
	audioCount int
	metaNeed   int
	metaBuf    []byte
}

// NewMetaParser creates a parser for the given icy-metaint interval.
func NewMetaParser(metaInt int) *MetaParser {
	return &MetaParser{metaInt: metaInt}
}

// Feed consumes the next chunk of stream bytes and returns any metadata
// blocks completed by it, decoded as NUL-trimmed text. Zero-length
// intervals produce nothing.
func (p *MetaParser) Feed(data []byte) []string {
	var out []string
	for len(data) > 0 {
		switch p.state {
		case stateAudio:
			remain := p.metaInt - p.audioCount
			if len(data) < remain {
				p.audioCount += len(data)
				return out
			}
			data = data[remain:]
			p.audioCount = 0
			p.state = stateLength

		case stateLength:
			p.metaNeed = int(data[0]) * metaLengthUnit
			data = data[1:]
			if p.metaNeed == 0 {
				p.state = stateAudio
			} else {
				p.metaBuf = p.metaBuf[:0]
				p.state = stateMeta
			}

		case stateMeta:
			take := p.metaNeed - len(p.metaBuf)
			if take > len(data) {
				take = len(data)
			}
			p.metaBuf = append(p.metaBuf, data[:take]...)
			data = data[take:]
			if len(p.metaBuf) == p.metaNeed {
				out = append(out, strings.TrimRight(string(p.metaBuf), "\x00"))
				p.state = stateAudio
			}
		}
	}
	return out
}

// ParseStreamTitle extracts the StreamTitle='...' value from a metadata
// block and splits it into artist and title on the first " - "
// separator. Without a separator the whole string is the title. ok is
// false when the block carries no StreamTitle or an empty one.
func ParseStreamTitle(meta string) (artist, title string, ok bool) {
	const marker = "StreamTitle='"
	idx := strings.Index(meta, marker)
	if idx < 0 {
		return "", "", false
	}
	rest := meta[idx+len(marker):]
	end := strings.Index(rest, "';")
	if end < 0 {
		end = strings.LastIndex(rest, "'")
		if end < 0 {
			return "", "", false
		}
	}
	inner := strings.TrimSpace(rest[:end])
	if inner == "" {
		return "", "", false
	}
	if a, t, found := strings.Cut(inner, " - "); found {
		return strings.TrimSpace(a), strings.TrimSpace(t), true
	}
	return "", inner, true
}
