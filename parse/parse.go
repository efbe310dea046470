// Package parse extracts named fields from streamed LLM output. Each mode
// defines a tag grammar; an Extractor is fed raw text deltas and emits
// field-value deltas as tagged regions open, extend, and close. Values for
// a key that appears more than once accumulate by concatenation downstream;
// the extractor itself only reports deltas.
package parse

import (
	"bytes"
	"regexp"

	"github.com/weavel-fastllm/fastllm/errors"
)

// Mode names a structured-output tag grammar.
type Mode string

const (
	Colon               Mode = "colon"
	SquareBracket       Mode = "square_bracket"
	DoubleSquareBracket Mode = "double_square_bracket"
	HTML                Mode = "html"
)

// Valid reports whether m is a known parsing mode.
func (m Mode) Valid() bool {
	switch m {
	case Colon, SquareBracket, DoubleSquareBracket, HTML:
		return true
	}
	return false
}

// Modes returns every known parsing mode.
func Modes() []Mode {
	return []Mode{Colon, SquareBracket, DoubleSquareBracket, HTML}
}

// Delta is one parsed-field update: the key and the text appended to its
// value since the previous delta.
type Delta struct {
	Key   string
	Value string
}

// grammar pairs the start-tag pattern with the literal close tag derived
// from the captured key. Close tags are exact strings, so a stray token
// inside a value cannot terminate the region early.
type grammar struct {
	start  *regexp.Regexp
	endTag func(key string) string
}

var grammars = map[Mode]grammar{
	Colon: {
		start:  regexp.MustCompile(`(.*?): \n`),
		endTag: func(string) string { return "\n" },
	},
	SquareBracket: {
		start:  regexp.MustCompile(`\[(.*?)\]`),
		endTag: func(key string) string { return "[/" + key + "]" },
	},
	DoubleSquareBracket: {
		start:  regexp.MustCompile(`\[\[(.*?)\]\]`),
		endTag: func(key string) string { return "[[/" + key + "]]" },
	},
	HTML: {
		start:  regexp.MustCompile(`<(.*?)>`),
		endTag: func(key string) string { return "</" + key + ">" },
	},
}

// Extractor incrementally parses one stream. Not safe for concurrent use;
// each run owns its own extractor.
type Extractor struct {
	g      grammar
	buf    []byte
	pos    int
	key    string
	endTag string
	open   bool
}

// NewExtractor creates an extractor for the given mode.
func NewExtractor(mode Mode) (*Extractor, error) {
	g, ok := grammars[mode]
	if !ok {
		return nil, errors.Wrapf(errors.ErrInvalidInput, "parsing mode %q", mode)
	}
	return &Extractor{g: g}, nil
}

// Feed appends a raw text delta and returns any field deltas it completes.
// Tags split across chunk boundaries resolve once the remainder arrives.
func (e *Extractor) Feed(text string) []Delta {
	e.buf = append(e.buf, text...)

	var deltas []Delta
	for {
		if !e.open {
			loc := e.g.start.FindSubmatchIndex(e.buf[e.pos:])
			if loc == nil {
				return deltas
			}
			e.key = string(e.buf[e.pos+loc[2] : e.pos+loc[3]])
			e.endTag = e.g.endTag(e.key)
			e.pos += loc[1]
			e.open = true
			continue
		}

		avail := e.buf[e.pos:]
		if end := bytes.Index(avail, []byte(e.endTag)); end >= 0 {
			if end > 0 {
				deltas = append(deltas, Delta{Key: e.key, Value: string(avail[:end])})
			}
			e.pos += end + len(e.endTag)
			e.open = false
			continue
		}

		// No close tag yet. Emit what cannot be part of a forming close
		// tag: hold back the longest tail that prefixes the close tag.
		emit := len(avail) - tagPrefixLen(avail, e.endTag)
		if emit > 0 {
			deltas = append(deltas, Delta{Key: e.key, Value: string(avail[:emit])})
			e.pos += emit
		}
		return deltas
	}
}

// Flush returns any value text still held back for a close tag that never
// arrived. Call once at stream end.
func (e *Extractor) Flush() []Delta {
	if !e.open || e.pos >= len(e.buf) {
		return nil
	}
	d := Delta{Key: e.key, Value: string(e.buf[e.pos:])}
	e.pos = len(e.buf)
	return []Delta{d}
}

// tagPrefixLen returns the length of the longest suffix of b that is a
// proper prefix of tag.
func tagPrefixLen(b []byte, tag string) int {
	max := len(tag) - 1
	if max > len(b) {
		max = len(b)
	}
	for k := max; k > 0; k-- {
		if string(b[len(b)-k:]) == tag[:k] {
			return k
		}
	}
	return 0
}
