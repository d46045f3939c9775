// Package parser reads chart text in a single line-oriented pass and produces
// the resource table and the unordered chip list the timeline compiler
// consumes. Forward references are legal: a channel line may use a resource ID
// that is declared further down the file.
package parser

import (
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"strconv"
	"strings"

	"github.com/miyako/dtxplay"
)

type (
	// Option configures a parse run.
	Option func(*parser)

	pendingKey struct {
		kind dtxplay.ResourceKind
		id   string
	}

	parser struct {
		chart     *dtxplay.Chart
		decodings []Decoding
		rng       func(n int) int // returns a draw in 1..n

		// pending maps a not-yet-declared resource to the chip arena indices
		// waiting for it. Declaring the resource patches exactly these chips.
		pending map[pendingKey][]int

		line     int
		inRandom bool
		inIf     bool
		skipping bool
		randDraw int
	}
)

// WithRandom replaces the random source used for #RANDOM draws. The function
// receives the upper bound n and must return a draw in 1..n inclusive. Tests
// use this to make conditional blocks deterministic.
func WithRandom(fn func(n int) int) Option {
	return func(p *parser) { p.rng = fn }
}

// WithDecodings replaces the candidate text decodings.
func WithDecodings(decodings ...Decoding) Option {
	return func(p *parser) { p.decodings = decodings }
}

// ParseFile reads and parses the chart at path.
func ParseFile(path string, opts ...Option) (*dtxplay.Chart, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading chart: %w", err)
	}
	return ParseBytes(data, opts...)
}

// Parse reads all of r and parses it as chart text.
func Parse(r io.Reader, opts ...Option) (*dtxplay.Chart, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading chart: %w", err)
	}
	return ParseBytes(data, opts...)
}

// ParseBytes decodes and parses raw chart bytes. The only fatal error is a
// text that no candidate decoding accepts; malformed lines become warnings on
// the returned chart and parsing continues.
func ParseBytes(data []byte, opts ...Option) (*dtxplay.Chart, error) {
	p := &parser{
		chart:     &dtxplay.Chart{Title: "Untitled", Artist: "Unknown", BPM: 120},
		decodings: DefaultDecodings(),
		rng:       func(n int) int { return rand.IntN(n) + 1 },
		pending:   make(map[pendingKey][]int),
	}
	for _, opt := range opts {
		opt(p)
	}
	text, _, err := decodeChart(data, p.decodings)
	if err != nil {
		return nil, err
	}
	for _, raw := range strings.Split(text, "\n") {
		p.line++
		p.parseLine(strings.TrimSpace(strings.TrimSuffix(raw, "\r")))
	}
	p.finish()
	return p.chart, nil
}

func (p *parser) warnf(format string, args ...any) {
	p.chart.Warnings = append(p.chart.Warnings, dtxplay.ParseWarning{
		Line: p.line,
		Msg:  fmt.Sprintf(format, args...),
	})
}

// splitCommand splits a command body into key and value. The colon is the
// definitive separator; a space is accepted for commands like "#BPM 120"; a
// bare command has an empty value.
func splitCommand(body string) (key, value string) {
	if i := strings.IndexByte(body, ':'); i >= 0 {
		return body[:i], body[i+1:]
	}
	if i := strings.IndexByte(body, ' '); i >= 0 {
		return body[:i], body[i+1:]
	}
	return body, ""
}

// stripComment removes a trailing ";" comment from a value.
func stripComment(value string) string {
	if i := strings.IndexByte(value, ';'); i >= 0 {
		value = value[:i]
	}
	return strings.TrimSpace(value)
}

func (p *parser) parseLine(line string) {
	if line == "" || !strings.HasPrefix(line, "#") {
		return // blank or comment
	}
	rawKey, rawValue := splitCommand(line[1:])
	key := strings.ToUpper(strings.TrimSpace(rawKey))
	value := stripComment(rawValue)

	// #ENDIF is the one command that must act while skipping, since it is what
	// ends the skip. Everything else inside a non-matching block, conditional
	// commands included, is skipped entirely.
	if key == "ENDIF" {
		if !p.inIf {
			p.warnf("#ENDIF without matching #IF")
		}
		p.inIf = false
		p.skipping = false
		return
	}
	if p.skipping {
		return
	}

	switch key {
	case "RANDOM":
		p.commandRandom(value)
	case "IF":
		p.commandIf(value)
	case "TITLE":
		p.chart.Title = value
	case "ARTIST":
		p.chart.Artist = value
	case "COMMENT":
		p.chart.Comment = value
	case "GENRE":
		p.chart.Genre = value
	case "DLEVEL", "PLAYLEVEL":
		p.chart.Level = value
	case "BPM":
		if bpm, err := strconv.ParseFloat(value, 64); err == nil && bpm > 0 {
			p.chart.BPM = bpm
		} else {
			p.warnf("invalid BPM value %q", value)
		}
	case "BGMWAV":
		p.chart.BGMWav = strings.ToUpper(value)
	// Editor and presentation commands: recognized, deliberately ignored.
	case "PANEL", "PREVIEW", "PREIMAGE", "PREMOVIE", "STAGEFILE", "BACKGROUND",
		"RESULTIMAGE", "DTXC_CHIPPALETTE", "DTXC_LANEBINDEDCHIP", "HIDDENLEVEL":
	default:
		p.parsePrefixed(key, value)
	}
}

// parsePrefixed handles keys of the form NAME+ID (resource declarations and
// property overrides) and MMMCC channel data lines. Anything else is an
// unknown command and is valid-but-ignored, never an error.
func (p *parser) parsePrefixed(key, value string) {
	switch {
	case strings.HasPrefix(key, "WAV") && len(key) == 5:
		p.declare(dtxplay.Sound, key[3:], value)
	case strings.HasPrefix(key, "BMP") && len(key) == 5:
		p.declare(dtxplay.Image, key[3:], value)
	case strings.HasPrefix(key, "AVI") && len(key) == 5:
		p.declare(dtxplay.Video, key[3:], value)
	case strings.HasPrefix(key, "BPM") && len(key) == 5:
		p.declareTempo(key[3:], value)
	case strings.HasPrefix(key, "VOLUME") && len(key) == 8:
		p.override(dtxplay.Sound, key[6:], value, 0, 100, func(e *dtxplay.ResourceEntry, v int) { e.Volume = v })
	case strings.HasPrefix(key, "PAN") && len(key) == 5:
		p.override(dtxplay.Sound, key[3:], value, -100, 100, func(e *dtxplay.ResourceEntry, v int) { e.Pan = v })
	case strings.HasPrefix(key, "SIZE") && len(key) == 6:
		p.override(dtxplay.Image, key[4:], value, 1, 1000, func(e *dtxplay.ResourceEntry, v int) { e.Size = v })
	case isChannelKey(key):
		p.parseChannelData(key, value)
	default:
		// unknown command; skip
	}
}

func (p *parser) commandRandom(value string) {
	n, err := strconv.Atoi(value)
	if err != nil || n < 1 {
		p.warnf("invalid #RANDOM bound %q", value)
		return
	}
	if p.inIf {
		p.warnf("#RANDOM inside an unterminated #IF block")
	}
	// The draw is 1..n inclusive; one draw per #RANDOM command.
	p.randDraw = p.rng(n)
	p.inRandom = true
}

func (p *parser) commandIf(value string) {
	if !p.inRandom {
		p.warnf("#IF without preceding #RANDOM")
		p.skipping = true
		p.inIf = true
		return
	}
	k, err := strconv.Atoi(value)
	if err != nil {
		p.warnf("invalid #IF value %q", value)
		p.skipping = true
		p.inIf = true
		return
	}
	p.inIf = true
	p.skipping = k != p.randDraw
}

func validID(id string) bool {
	if len(id) != 2 {
		return false
	}
	for i := 0; i < 2; i++ {
		c := id[i]
		if !(c >= '0' && c <= '9' || c >= 'A' && c <= 'Z') {
			return false
		}
	}
	return true
}

func (p *parser) declare(kind dtxplay.ResourceKind, id, value string) {
	id = strings.ToUpper(id)
	if !validID(id) {
		p.warnf("invalid %s resource ID %q", kind, id)
		return
	}
	if value == "" {
		p.warnf("empty %s declaration for ID %s", kind, id)
		return
	}
	// Charts written on Windows use backslash separators.
	path := strings.ReplaceAll(value, "\\", "/")
	entry := p.chart.Resources.Declare(kind, id, path)
	p.patch(kind, id, entry)
}

func (p *parser) declareTempo(id, value string) {
	id = strings.ToUpper(id)
	if !validID(id) {
		p.warnf("invalid tempo ID %q", id)
		return
	}
	bpm, err := strconv.ParseFloat(value, 64)
	if err != nil || bpm <= 0 {
		p.warnf("invalid tempo value %q for ID %s", value, id)
		return
	}
	entry := p.chart.Resources.Declare(dtxplay.TempoValue, id, value)
	entry.TempoValue = bpm
	p.patch(dtxplay.TempoValue, id, entry)
}

// patch rewrites every chip waiting for this declaration and clears the
// pending list. Chips are patched in place through their arena indices.
func (p *parser) patch(kind dtxplay.ResourceKind, id string, entry *dtxplay.ResourceEntry) {
	key := pendingKey{kind: kind, id: id}
	for _, idx := range p.pending[key] {
		p.chart.Chips[idx].Ref = entry
	}
	delete(p.pending, key)
}

func (p *parser) override(kind dtxplay.ResourceKind, id, value string, lo, hi int, set func(*dtxplay.ResourceEntry, int)) {
	id = strings.ToUpper(id)
	if !validID(id) {
		p.warnf("invalid resource ID %q in property command", id)
		return
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		p.warnf("invalid property value %q for ID %s", value, id)
		return
	}
	if v < lo {
		v = lo
	} else if v > hi {
		v = hi
	}
	entry := p.chart.Resources.Lookup(kind, id)
	if entry == nil {
		p.warnf("property override for undeclared %s ID %s", kind, id)
		return
	}
	set(entry, v)
}

// isChannelKey reports whether key is a channel data key: a zero-padded
// 3-digit measure number followed by a 2-character channel code.
func isChannelKey(key string) bool {
	if len(key) != 5 {
		return false
	}
	for i := 0; i < 3; i++ {
		if key[i] < '0' || key[i] > '9' {
			return false
		}
	}
	return validID(key[3:])
}

func (p *parser) parseChannelData(key, value string) {
	measure, _ := strconv.Atoi(key[:3])
	code := key[3:]
	if value == "" {
		return
	}

	// Channel 02 carries a bare decimal multiplier, not an object grid.
	if code == "02" {
		mult, err := strconv.ParseFloat(value, 64)
		if err != nil || mult <= 0 {
			p.warnf("invalid measure length %q for measure %d", value, measure)
			return
		}
		ch, _ := dtxplay.ChannelFor(code)
		p.chart.Chips = append(p.chart.Chips, dtxplay.Chip{
			Measure: measure, Channel: ch, Slot: 0, Resolution: 1, Value: mult,
		})
		return
	}

	ch, known := dtxplay.ChannelFor(code)
	if !known || ch.Kind == dtxplay.KindSystem {
		return // outside the closed enumeration, or bar-line bookkeeping
	}
	data := strings.ReplaceAll(value, "_", "")
	if len(data)%2 != 0 {
		p.warnf("odd-length data string on channel %s", code)
		return
	}
	resolution := len(data) / 2
	for i := 0; i < resolution; i++ {
		obj := strings.ToUpper(data[2*i : 2*i+2])
		if obj == "00" {
			continue // rest
		}
		chip := dtxplay.Chip{
			Measure:    measure,
			Channel:    ch,
			Slot:       i,
			Resolution: resolution,
			RawValue:   obj,
		}
		switch ch.Kind {
		case dtxplay.KindTempo:
			bpm, err := strconv.ParseUint(obj, 16, 32)
			if err != nil || bpm == 0 {
				p.warnf("invalid direct BPM object %q", obj)
				continue
			}
			chip.Value = float64(bpm)
		case dtxplay.KindTempoRef:
			if !p.reference(&chip, dtxplay.TempoValue, obj) {
				continue
			}
		case dtxplay.KindVisual:
			if !p.reference(&chip, dtxplay.Image, obj) {
				continue
			}
		default:
			if !p.reference(&chip, dtxplay.Sound, obj) {
				continue
			}
		}
		p.chart.Chips = append(p.chart.Chips, chip)
	}
}

// reference resolves a resource ID for a chip, or registers the chip in the
// pending list when the declaration has not been seen yet. The chip is
// appended by the caller right after this call, so the pending index is the
// current arena length. Returns false for a malformed ID, in which case the
// chip must not be appended.
func (p *parser) reference(chip *dtxplay.Chip, kind dtxplay.ResourceKind, id string) bool {
	if !validID(id) {
		p.warnf("invalid object code %q on channel %s", id, chip.Channel.Code)
		return false
	}
	if entry := p.chart.Resources.Lookup(kind, id); entry != nil {
		chip.Ref = entry
		return true
	}
	key := pendingKey{kind: kind, id: id}
	p.pending[key] = append(p.pending[key], len(p.chart.Chips))
	return true
}

func (p *parser) finish() {
	if p.inIf {
		p.warnf("unterminated #IF block at end of file")
	}
	// Common convention: WAV 01 is the background music when #BGMWAV is absent.
	if p.chart.BGMWav == "" && p.chart.Resources.Lookup(dtxplay.Sound, "01") != nil {
		p.chart.BGMWav = "01"
	}
}
