package recipe

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

const (
	// DataPrefix starts every meaningful event line.
	DataPrefix = "data: "
	// DoneToken, after the prefix, ends the stream.
	DoneToken = "[DONE]"

	// maxLineSize bounds a single event line. Longer lines are skipped.
	maxLineSize = 1 << 20
)

// Action is the outcome of feeding one line to the decoder.
type Action int

const (
	ActionSkip Action = iota
	ActionAppend
	ActionTerminate
)

func (a Action) String() string {
	switch a {
	case ActionAppend:
		return "append"
	case ActionTerminate:
		return "terminate"
	default:
		return "skip"
	}
}

type chunk struct {
	Choices []struct {
		Delta struct {
			Content *string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// ParseLine classifies one event line. It returns ActionAppend with the
// fragment for a chunk carrying non-empty delta content, ActionTerminate for
// the sentinel, and ActionSkip for everything else: unprefixed lines, malformed
// JSON, chunks without choices or without content.
func ParseLine(line string) (Action, string) {
	payload, ok := strings.CutPrefix(line, DataPrefix)
	if !ok {
		return ActionSkip, ""
	}
	// Compared after stripping the prefix, never against the raw line.
	if payload == DoneToken {
		return ActionTerminate, ""
	}

	var c chunk
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		return ActionSkip, ""
	}
	if len(c.Choices) == 0 {
		return ActionSkip, ""
	}
	content := c.Choices[0].Delta.Content
	if content == nil || *content == "" {
		return ActionSkip, ""
	}
	return ActionAppend, *content
}

// State of a Decoder.
type State int

const (
	StateStreaming State = iota
	StateTerminated
)

// Decoder accumulates fragments from successive lines until the sentinel.
// It is not safe for concurrent use.
type Decoder struct {
	state    State
	text     strings.Builder
	onUpdate UpdateFunc
}

func NewDecoder(onUpdate UpdateFunc) *Decoder {
	return &Decoder{onUpdate: onUpdate}
}

// Feed processes one line and reports whether the decoder still accepts
// input. Lines fed after termination are ignored.
func (d *Decoder) Feed(line string) bool {
	if d.state == StateTerminated {
		return false
	}
	action, fragment := ParseLine(line)
	switch action {
	case ActionTerminate:
		d.state = StateTerminated
		return false
	case ActionAppend:
		d.Append(fragment)
	}
	return true
}

// Append adds a fragment directly, for backends that deliver text deltas
// without event lines.
func (d *Decoder) Append(fragment string) {
	if fragment == "" || d.state == StateTerminated {
		return
	}
	d.text.WriteString(fragment)
	if d.onUpdate != nil {
		d.onUpdate(Update{Fragment: fragment, Text: d.text.String()})
	}
}

// Terminate marks the stream as complete.
func (d *Decoder) Terminate() {
	d.state = StateTerminated
}

func (d *Decoder) State() State {
	return d.state
}

func (d *Decoder) Text() string {
	return d.text.String()
}

// Result snapshots the accumulated text. It is partial unless the sentinel
// was seen.
func (d *Decoder) Result() *Result {
	return &Result{Text: d.text.String(), Partial: d.state != StateTerminated}
}

// Decode reads r line by line until the sentinel or the end of input. The
// returned Result is never nil; a read error is returned alongside whatever
// had been accumulated before it.
func Decode(r io.Reader, onUpdate UpdateFunc) (*Result, error) {
	d := NewDecoder(onUpdate)
	err := ScanLines(r, func(line []byte) bool {
		return d.Feed(string(line))
	})
	if err != nil {
		return d.Result(), fmt.Errorf("read completion stream: %w", err)
	}
	return d.Result(), nil
}
