// Cuebridge - DJ Equipment Now-Playing Bridge
// Copyright 2026 Cuepoint Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cuepointlabs/cuebridge

// Package serato reads the append-only binary session log Serato DJ
// writes whenever a track is loaded, and exposes it as an equipment
// source plugin.
package serato

import (
	"encoding/binary"
	"strconv"
	"strings"
	"time"
	"unicode/utf16"
)

// Session chunk and field tags. The file is a sequence of tagged chunks:
// 4-byte ASCII tag, u32 big-endian payload length, payload. An oent
// chunk wraps a nested adat chunk whose payload is a sequence of
// {u32 field id, u32 field length, bytes} records.
const (
	tagEntry = "oent"
	tagData  = "adat"
)

const (
	fieldTitle    = 6
	fieldArtist   = 7
	fieldAlbum    = 8
	fieldGenre    = 9
	fieldBPM      = 15
	fieldKey      = 51
	fieldLoadedAt = 53
	fieldDeck     = 63
)

const chunkHeaderLen = 8

// Entry is one decoded session-log record: a track load on a deck.
type Entry struct {
	Title    string
	Artist   string
	Album    string
	Genre    string
	Key      string
	BPM      float64
	Deck     int
	LoadedAt time.Time
}

// Parse decodes complete oent chunks from buf and reports how many
// bytes it consumed. A chunk whose declared length extends past the end
// of buf is left unconsumed: the writer may still be mid-append, and the
// caller re-reads from the consumed offset on the next poll.
func Parse(buf []byte) (entries []Entry, consumed int) {
	off := 0
	for off+chunkHeaderLen <= len(buf) {
		tag := string(buf[off : off+4])
		length := int(binary.BigEndian.Uint32(buf[off+4 : off+chunkHeaderLen]))
		end := off + chunkHeaderLen + length
		if end > len(buf) || end < off {
			break
		}
		if tag == tagEntry {
			if e, ok := parseEntry(buf[off+chunkHeaderLen : end]); ok {
				entries = append(entries, e)
			}
		}
		off = end
	}
	return entries, off
}

// parseEntry scans an oent payload for its nested adat chunk.
func parseEntry(payload []byte) (Entry, bool) {
	off := 0
	for off+chunkHeaderLen <= len(payload) {
		tag := string(payload[off : off+4])
		length := int(binary.BigEndian.Uint32(payload[off+4 : off+chunkHeaderLen]))
		end := off + chunkHeaderLen + length
		if end > len(payload) || end < off {
			return Entry{}, false
		}
		if tag == tagData {
			return parseFields(payload[off+chunkHeaderLen : end]), true
		}
		off = end
	}
	return Entry{}, false
}

func parseFields(data []byte) Entry {
	var e Entry
	off := 0
	for off+chunkHeaderLen <= len(data) {
		id := binary.BigEndian.Uint32(data[off : off+4])
		length := int(binary.BigEndian.Uint32(data[off+4 : off+chunkHeaderLen]))
		end := off + chunkHeaderLen + length
		if end > len(data) || end < off {
			break
		}
		field := data[off+chunkHeaderLen : end]

		switch id {
		case fieldTitle:
			e.Title = decodeUTF16BE(field)
		case fieldArtist:
			e.Artist = decodeUTF16BE(field)
		case fieldAlbum:
			e.Album = decodeUTF16BE(field)
		case fieldGenre:
			e.Genre = decodeUTF16BE(field)
		case fieldKey:
			e.Key = decodeUTF16BE(field)
		case fieldBPM:
			// BPM is stored as UTF-16 text, not a binary float.
			if v, err := strconv.ParseFloat(strings.TrimSpace(decodeUTF16BE(field)), 64); err == nil {
				e.BPM = v
			}
		case fieldDeck:
			if len(field) >= 4 {
				e.Deck = int(binary.BigEndian.Uint32(field[:4]))
			}
		case fieldLoadedAt:
			if len(field) >= 4 {
				e.LoadedAt = time.Unix(int64(binary.BigEndian.Uint32(field[:4])), 0)
			}
		}
		off = end
	}
	return e
}

// decodeUTF16BE decodes a big-endian UTF-16 string, stopping at the
// first zero code unit.
func decodeUTF16BE(b []byte) string {
	units := make([]uint16, 0, len(b)/2)
	for i := 0; i+1 < len(b); i += 2 {
		u := binary.BigEndian.Uint16(b[i : i+2])
		if u == 0 {
			break
		}
		units = append(units, u)
	}
	return string(utf16.Decode(units))
}
