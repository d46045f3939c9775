package parser

import (
	"errors"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/unicode"
)

// Decoding is one candidate text decoding for chart bytes. A nil Encoding
// means plain UTF-8 (validate only, no transform).
type Decoding struct {
	Name     string
	Encoding encoding.Encoding
}

// DefaultDecodings lists the decodings tried in order of priority. Legacy
// charts are most commonly Shift-JIS (cp932); editors on Windows also emit
// UTF-16LE and BOM-prefixed UTF-8.
func DefaultDecodings() []Decoding {
	return []Decoding{
		{Name: "cp932", Encoding: japanese.ShiftJIS},
		{Name: "utf-16-le", Encoding: unicode.UTF16(unicode.LittleEndian, unicode.UseBOM)},
		{Name: "utf-8-sig", Encoding: unicode.UTF8BOM},
		{Name: "utf-8"},
	}
}

// decodeChart decodes raw chart bytes. An explicit byte order mark is
// authoritative; otherwise the candidates compete and the one yielding the
// most command lines (lines starting with '#') wins. A mis-decoded legacy
// encoding mangles the text but rarely preserves the '#' line starts, so the
// correct candidate scores highest. Ties go to the earlier candidate.
func decodeChart(data []byte, decodings []Decoding) (text string, name string, err error) {
	if d, ok := bomDecoding(data, decodings); ok {
		decoded, err := d.Encoding.NewDecoder().Bytes(data)
		if err == nil {
			return string(decoded), d.Name, nil
		}
	}
	best := -1
	for _, d := range decodings {
		var candidate string
		if d.Encoding == nil {
			if !utf8.Valid(data) {
				continue
			}
			candidate = string(data)
		} else {
			decoded, err := d.Encoding.NewDecoder().Bytes(data)
			if err != nil {
				continue
			}
			candidate = string(decoded)
		}
		score := countCommandLines(candidate)
		if score > best {
			best = score
			text = candidate
			name = d.Name
		}
	}
	if best < 0 {
		return "", "", errors.New("chart text could not be decoded with any candidate encoding")
	}
	return text, name, nil
}

// bomDecoding matches a leading byte order mark to the candidate that handles
// that encoding.
func bomDecoding(data []byte, decodings []Decoding) (Decoding, bool) {
	var name string
	switch {
	case len(data) >= 3 && data[0] == 0xEF && data[1] == 0xBB && data[2] == 0xBF:
		name = "utf-8-sig"
	case len(data) >= 2 && data[0] == 0xFF && data[1] == 0xFE:
		name = "utf-16-le"
	default:
		return Decoding{}, false
	}
	for _, d := range decodings {
		if d.Name == name {
			return d, true
		}
	}
	return Decoding{}, false
}

func countCommandLines(text string) int {
	n := 0
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			n++
		}
	}
	return n
}
