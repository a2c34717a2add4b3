package protocol

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/taskrelay/internal/batch"
)

func TestParseBegin(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    int
		wantErr bool
	}{
		{name: "valid", line: "BEGIN 5", want: 5},
		{name: "zero", line: "BEGIN 0", want: 0},
		{name: "extra whitespace", line: "  BEGIN   12 ", want: 12},
		{name: "wrong marker", line: "START 5", wantErr: true},
		{name: "lowercase marker", line: "begin 5", wantErr: true},
		{name: "missing count", line: "BEGIN", wantErr: true},
		{name: "negative count", line: "BEGIN -1", wantErr: true},
		{name: "not a number", line: "BEGIN five", wantErr: true},
		{name: "too many fields", line: "BEGIN 5 6", wantErr: true},
		{name: "empty", line: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := ParseBegin(tt.line)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrFraming)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, n)
		})
	}
}

func TestParseTask(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    batch.Task
		wantErr bool
	}{
		{name: "simple", line: "0;abc", want: batch.Task{Index: 0, Payload: "abc"}},
		{name: "payload keeps separators", line: "7;a;b;c", want: batch.Task{Index: 7, Payload: "a;b;c"}},
		{name: "empty payload", line: "3;", want: batch.Task{Index: 3, Payload: ""}},
		{name: "payload keeps spaces", line: "4; x y ", want: batch.Task{Index: 4, Payload: " x y "}},
		{name: "large index", line: "18446744073709551615;p", want: batch.Task{Index: 18446744073709551615, Payload: "p"}},
		{name: "missing separator", line: "12", wantErr: true},
		{name: "bad index", line: "x;abc", wantErr: true},
		{name: "negative index", line: "-1;abc", wantErr: true},
		{name: "empty index", line: ";abc", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task, err := ParseTask(tt.line)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrFraming)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, task)
		})
	}
}

func TestCheckEnd(t *testing.T) {
	assert.NoError(t, CheckEnd("END"))
	assert.NoError(t, CheckEnd("END "))
	assert.ErrorIs(t, CheckEnd("FINISH"), ErrFraming)
	assert.ErrorIs(t, CheckEnd("0;abc"), ErrFraming)
}

// TestResultLines checks the egress line formats against their parsers.
func TestResultLines(t *testing.T) {
	assert.Equal(t, "RESULTS 3", FormatResults(3))
	assert.Equal(t, "BEGIN 2", FormatBegin(2))
	assert.Equal(t, "9;a;b", FormatTask(batch.Task{Index: 9, Payload: "a;b"}))

	line := FormatResult(batch.Result{Index: 42, Value: 4294967295})
	assert.Equal(t, "42;4294967295", line)

	r, err := ParseResult(line)
	require.NoError(t, err)
	assert.Equal(t, batch.Result{Index: 42, Value: 4294967295}, r)

	_, err = ParseResult("42;4294967296")
	assert.ErrorIs(t, err, ErrFraming)
	_, err = ParseResult("DONE")
	assert.ErrorIs(t, err, ErrFraming)

	n, err := ParseResults("RESULTS 3")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	assert.True(t, IsDone("DONE"))
	assert.False(t, IsDone("1;2"))
}

func TestReaderReadLine(t *testing.T) {
	r := NewReader(strings.NewReader("BEGIN 1\r\n0;abc\n\nEND"), 0)

	for _, want := range []string{"BEGIN 1", "0;abc", ""} {
		line, err := r.ReadLine()
		require.NoError(t, err)
		assert.Equal(t, want, line)
	}

	// Final line has no newline: the peer hung up mid-message.
	_, err := r.ReadLine()
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestReaderCleanEOF(t *testing.T) {
	r := NewReader(strings.NewReader("END\n"), 0)
	_, err := r.ReadLine()
	require.NoError(t, err)
	_, err = r.ReadLine()
	assert.ErrorIs(t, err, io.EOF)
}

// TestReaderLineTooLong covers lines longer than bufio's internal buffer.
func TestReaderLineTooLong(t *testing.T) {
	long := strings.Repeat("x", 10000)

	r := NewReader(strings.NewReader("0;"+long+"\n"), 64)
	_, err := r.ReadLine()
	assert.ErrorIs(t, err, ErrLineTooLong)

	r = NewReader(strings.NewReader("0;"+long+"\n"), 20000)
	line, err := r.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "0;"+long, line)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.WriteLine(FormatResults(1)))
	require.NoError(t, w.WriteLine("1;2"))
	require.NoError(t, w.WriteLine(Done))
	assert.Equal(t, "RESULTS 1\n1;2\nDONE\n", buf.String())

	assert.Error(t, NewWriter(failingWriter{}).WriteLine("x"))
}
