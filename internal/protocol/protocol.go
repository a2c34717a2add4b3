// Package protocol implements the line-oriented framing used on both relay
// connections.
//
// Ingress (peer to service):
//
//	BEGIN <n>
//	<index>;<payload>    (n lines)
//	END
//
// Egress (service to peer):
//
//	RESULTS <n>
//	<index>;<value>      (n lines, any order)
//	DONE
//
// Every line is terminated by '\n'. Payloads may contain ';' but never a
// newline. All parse failures wrap ErrFraming so callers can tell protocol
// violations apart from transport errors with errors.Is.
package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dreamware/taskrelay/internal/batch"
)

// Protocol markers.
const (
	Begin   = "BEGIN"
	End     = "END"
	Results = "RESULTS"
	Done    = "DONE"
)

const fieldSep = ";"

// ErrFraming marks any malformed line.
var ErrFraming = errors.New("protocol framing error")

// ParseBegin parses the "BEGIN <n>" header. Surrounding whitespace is
// ignored; n must be a non-negative decimal integer.
func ParseBegin(line string) (int, error) {
	return parseCountLine(Begin, line)
}

// ParseResults parses the "RESULTS <n>" header sent by the egress role.
func ParseResults(line string) (int, error) {
	return parseCountLine(Results, line)
}

func parseCountLine(marker, line string) (int, error) {
	parts := strings.Fields(line)
	if len(parts) != 2 || parts[0] != marker {
		return 0, fmt.Errorf("%w: bad header %q (expected '%s n')", ErrFraming, line, marker)
	}
	n, err := strconv.ParseUint(parts[1], 10, 31)
	if err != nil {
		return 0, fmt.Errorf("%w: bad count in %q: %v", ErrFraming, line, err)
	}
	return int(n), nil
}

// ParseTask splits a task line on the first ';'. The index must be an
// unsigned decimal integer; everything after the separator is the payload,
// verbatim.
func ParseTask(line string) (batch.Task, error) {
	idx, payload, ok := strings.Cut(line, fieldSep)
	if !ok {
		return batch.Task{}, fmt.Errorf("%w: task line %q has no '%s'", ErrFraming, line, fieldSep)
	}
	index, err := strconv.ParseUint(strings.TrimSpace(idx), 10, 64)
	if err != nil {
		return batch.Task{}, fmt.Errorf("%w: bad task index %q", ErrFraming, idx)
	}
	return batch.Task{Index: index, Payload: payload}, nil
}

// ParseResult parses an "<index>;<value>" result line.
func ParseResult(line string) (batch.Result, error) {
	idx, val, ok := strings.Cut(strings.TrimSpace(line), fieldSep)
	if !ok {
		return batch.Result{}, fmt.Errorf("%w: result line %q has no '%s'", ErrFraming, line, fieldSep)
	}
	index, err := strconv.ParseUint(idx, 10, 64)
	if err != nil {
		return batch.Result{}, fmt.Errorf("%w: bad result index %q", ErrFraming, idx)
	}
	value, err := strconv.ParseUint(val, 10, 32)
	if err != nil {
		return batch.Result{}, fmt.Errorf("%w: bad result value %q", ErrFraming, val)
	}
	return batch.Result{Index: index, Value: uint32(value)}, nil
}

// CheckEnd returns a framing error unless line is the END marker.
func CheckEnd(line string) error {
	if strings.TrimSpace(line) != End {
		return fmt.Errorf("%w: bad end marker %q (expected '%s')", ErrFraming, line, End)
	}
	return nil
}

// IsDone reports whether line is the DONE marker.
func IsDone(line string) bool {
	return strings.TrimSpace(line) == Done
}

func FormatBegin(n int) string   { return fmt.Sprintf("%s %d", Begin, n) }
func FormatResults(n int) string { return fmt.Sprintf("%s %d", Results, n) }

func FormatTask(t batch.Task) string {
	return strconv.FormatUint(t.Index, 10) + fieldSep + t.Payload
}

func FormatResult(r batch.Result) string {
	return strconv.FormatUint(r.Index, 10) + fieldSep + strconv.FormatUint(uint64(r.Value), 10)
}
