package protocol

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

// DefaultMaxLineBytes bounds a single line when no limit is configured.
const DefaultMaxLineBytes = 1 << 20

// ErrLineTooLong is returned when a line exceeds the reader's limit.
var ErrLineTooLong = errors.New("protocol line too long")

// Reader reads newline-terminated lines from a byte stream.
type Reader struct {
	br  *bufio.Reader
	max int
}

// NewReader wraps r. A max of zero or less selects DefaultMaxLineBytes.
func NewReader(r io.Reader, max int) *Reader {
	if max <= 0 {
		max = DefaultMaxLineBytes
	}
	return &Reader{br: bufio.NewReader(r), max: max}
}

// ReadLine returns the next line without its trailing "\r\n".
//
// A clean EOF before any byte of a new line returns io.EOF. EOF in the middle
// of a line returns io.ErrUnexpectedEOF: the peer hung up mid-message.
func (r *Reader) ReadLine() (string, error) {
	var buf []byte
	for {
		frag, err := r.br.ReadSlice('\n')
		if len(buf)+len(frag) > r.max {
			return "", ErrLineTooLong
		}
		buf = append(buf, frag...)

		switch {
		case err == nil:
			return strings.TrimRight(string(buf), "\r\n"), nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			if len(buf) == 0 {
				return "", io.EOF
			}
			return "", io.ErrUnexpectedEOF
		default:
			return "", err
		}
	}
}

// Writer writes newline-terminated lines, flushing after each one so the
// peer sees results as soon as they are produced.
type Writer struct {
	bw *bufio.Writer
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{bw: bufio.NewWriter(w)}
}

// WriteLine appends '\n' to line and flushes.
func (w *Writer) WriteLine(line string) error {
	if _, err := w.bw.WriteString(line); err != nil {
		return err
	}
	if err := w.bw.WriteByte('\n'); err != nil {
		return err
	}
	return w.bw.Flush()
}
