// Package protocol decodes the streamed feedback wire format into typed frames.
//
// The stream is text-based. Frames are delimited by a blank line and carry
// "event:" and "data:" fields, like server-sent events:
//
//	data: <fragment>                    token (default event)
//	event: snapshot  data: {"content"}  full-content replacement
//	event: category  data: <signal>     classification signal
//	event: done                         terminal success
//	event: error     data: {"error"}    terminal failure
//
// Unrecognized events are skipped so newer servers stay compatible with
// older clients.
package protocol

import (
	"encoding/json"
	"log/slog"
	"strings"
)

// FrameKind identifies the kind of a decoded frame.
type FrameKind int

const (
	// FrameToken carries a text fragment to append to the display.
	FrameToken FrameKind = iota
	// FrameSnapshot replaces the accumulated display text wholesale.
	FrameSnapshot
	// FrameCategory carries a raw classification signal.
	FrameCategory
	// FrameDone marks terminal success.
	FrameDone
	// FrameError marks terminal failure; Text holds the message.
	FrameError
)

// Frame is one decoded unit of the wire protocol.
type Frame struct {
	Kind FrameKind
	Text string
}

// Decoder incrementally splits raw stream chunks into frames. A trailing
// partial frame is carried over until the chunk that completes it arrives,
// so frames are never split or lost across chunk boundaries.
type Decoder struct {
	carry  string
	logger *slog.Logger
}

// NewDecoder creates a decoder. A nil logger falls back to slog.Default().
func NewDecoder(logger *slog.Logger) *Decoder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Decoder{logger: logger}
}

// Feed consumes the next chunk and returns every frame it completed.
func (d *Decoder) Feed(chunk string) []Frame {
	d.carry += chunk

	var frames []Frame
	for {
		idx, width := nextDelimiter(d.carry)
		if idx < 0 {
			break
		}
		block := d.carry[:idx]
		d.carry = d.carry[idx+width:]
		if f, ok := d.parseBlock(block); ok {
			frames = append(frames, f)
		}
	}
	return frames
}

// nextDelimiter finds the earliest blank-line frame delimiter, accepting
// both LF and CRLF line endings.
func nextDelimiter(s string) (idx, width int) {
	lf := strings.Index(s, "\n\n")
	crlf := strings.Index(s, "\r\n\r\n")
	switch {
	case lf < 0 && crlf < 0:
		return -1, 0
	case crlf < 0 || (lf >= 0 && lf < crlf):
		return lf, 2
	default:
		return crlf, 4
	}
}

// Flush decodes whatever is still carried over. Call it at end of stream to
// recover a final frame the sender did not terminate with a blank line.
func (d *Decoder) Flush() []Frame {
	block := strings.TrimRight(d.carry, "\r\n")
	d.carry = ""
	if block == "" {
		return nil
	}
	if f, ok := d.parseBlock(block); ok {
		return []Frame{f}
	}
	return nil
}

func (d *Decoder) parseBlock(block string) (Frame, bool) {
	event := ""
	var data []string
	sawData := false

	for _, line := range strings.Split(block, "\n") {
		line = strings.TrimSuffix(line, "\r")
		switch {
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			sawData = true
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		default:
			// Comments, ids, and anything else are not ours to interpret.
		}
	}

	payload := strings.Join(data, "\n")

	switch event {
	case "":
		if !sawData {
			return Frame{}, false
		}
		return Frame{Kind: FrameToken, Text: payload}, true
	case "snapshot":
		var body struct {
			Content string `json:"content"`
		}
		if err := json.Unmarshal([]byte(payload), &body); err != nil {
			d.logger.Warn("malformed snapshot frame ignored", "error", err)
			return Frame{}, false
		}
		return Frame{Kind: FrameSnapshot, Text: body.Content}, true
	case "category":
		return Frame{Kind: FrameCategory, Text: payload}, true
	case "done":
		return Frame{Kind: FrameDone}, true
	case "error":
		var body struct {
			Error string `json:"error"`
		}
		if err := json.Unmarshal([]byte(payload), &body); err == nil && body.Error != "" {
			return Frame{Kind: FrameError, Text: body.Error}, true
		}
		// Tolerate senders that put a bare message in the data field.
		return Frame{Kind: FrameError, Text: payload}, true
	default:
		d.logger.Debug("unrecognized frame event ignored", "event", event)
		return Frame{}, false
	}
}
