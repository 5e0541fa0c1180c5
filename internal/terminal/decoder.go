// Package terminal turns raw terminal input into lines and anti-cheat signals.
package terminal

import (
	"bufio"
	"bytes"
	"io"
)

const (
	// EnableReporting turns on xterm focus reporting and bracketed paste.
	EnableReporting = "\x1b[?1004h\x1b[?2004h"
	// DisableReporting restores the terminal.
	DisableReporting = "\x1b[?2004l\x1b[?1004l"

	pasteStart = "[200~"
	pasteEnd   = "\x1b[201~"
)

type EventKind int

const (
	EventLine EventKind = iota
	EventBlur
	EventFocus
	EventPaste
)

// Event is one decoded unit of input. Pasted text is also kept in the pending
// line, so EventPaste only marks that a paste happened.
type Event struct {
	Kind EventKind
	Text string
}

type Decoder struct {
	r    *bufio.Reader
	line bytes.Buffer
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// Next returns the next event. At EOF a non-empty pending line is returned first.
func (d *Decoder) Next() (Event, error) {
	for {
		b, err := d.r.ReadByte()
		if err != nil {
			if err == io.EOF && d.line.Len() > 0 {
				return d.flush(), nil
			}
			return Event{}, err
		}
		switch b {
		case '\n':
			return d.flush(), nil
		case '\r':
			continue
		case 0x1b:
			ev, ok, err := d.escape()
			if err != nil {
				return Event{}, err
			}
			if ok {
				return ev, nil
			}
		default:
			d.line.WriteByte(b)
		}
	}
}

func (d *Decoder) flush() Event {
	text := d.line.String()
	d.line.Reset()
	return Event{Kind: EventLine, Text: text}
}

func (d *Decoder) escape() (Event, bool, error) {
	peek, _ := d.r.Peek(len(pasteStart))
	switch {
	case bytes.HasPrefix(peek, []byte("[O")):
		d.r.Discard(2)
		return Event{Kind: EventBlur}, true, nil
	case bytes.HasPrefix(peek, []byte("[I")):
		d.r.Discard(2)
		return Event{Kind: EventFocus}, true, nil
	case bytes.Equal(peek, []byte(pasteStart)):
		d.r.Discard(len(pasteStart))
		text, err := d.readPaste()
		if err != nil && err != io.EOF {
			return Event{}, false, err
		}
		d.line.WriteString(text)
		return Event{Kind: EventPaste, Text: text}, true, nil
	}
	if len(peek) > 0 && peek[0] == '[' {
		d.skipCSI()
	}
	return Event{}, false, nil
}

// skipCSI drops an unhandled control sequence such as an arrow key.
func (d *Decoder) skipCSI() {
	d.r.Discard(1)
	for {
		b, err := d.r.ReadByte()
		if err != nil || (b >= 0x40 && b <= 0x7e) {
			return
		}
	}
}

func (d *Decoder) readPaste() (string, error) {
	var buf bytes.Buffer
	for {
		b, err := d.r.ReadByte()
		if err != nil {
			return buf.String(), err
		}
		buf.WriteByte(b)
		if bytes.HasSuffix(buf.Bytes(), []byte(pasteEnd)) {
			buf.Truncate(buf.Len() - len(pasteEnd))
			// a pasted newline must not submit the line
			return string(bytes.ReplaceAll(buf.Bytes(), []byte("\n"), []byte(" "))), nil
		}
	}
}
