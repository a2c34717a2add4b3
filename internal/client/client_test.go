package client

import (
	"bytes"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dreamware/taskrelay/internal/batch"
	"github.com/dreamware/taskrelay/internal/compute"
	"github.com/dreamware/taskrelay/internal/protocol"
)

func TestSendBatch(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, SendBatch(&buf, []string{"a", "b;c", ""}))
	assert.Equal(t, "BEGIN 3\n0;a\n1;b;c\n2;\nEND\n", buf.String())
}

func TestSendBatchEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, SendBatch(&buf, nil))
	assert.Equal(t, "BEGIN 0\nEND\n", buf.String())
}

func TestReadResults(t *testing.T) {
	t.Run("out of order stream is sorted", func(t *testing.T) {
		out, err := ReadResults(strings.NewReader("RESULTS 3\n2;30\n0;10\n1;20\nDONE\n"), 0)
		require.NoError(t, err)
		assert.True(t, out.Done)
		assert.Equal(t, 3, out.Announced)
		assert.Equal(t, []batch.Result{{Index: 0, Value: 10}, {Index: 1, Value: 20}, {Index: 2, Value: 30}}, out.Results)
	})

	t.Run("empty batch", func(t *testing.T) {
		out, err := ReadResults(strings.NewReader("RESULTS 0\nDONE\n"), 0)
		require.NoError(t, err)
		assert.True(t, out.Done)
		assert.Empty(t, out.Results)
	})

	t.Run("stream ends without done", func(t *testing.T) {
		out, err := ReadResults(strings.NewReader("RESULTS 2\n0;10\n"), 0)
		assert.ErrorIs(t, err, ErrNotDone)
		assert.False(t, out.Done)
		assert.Len(t, out.Results, 1)
	})

	t.Run("duplicate index", func(t *testing.T) {
		_, err := ReadResults(strings.NewReader("RESULTS 2\n0;10\n0;11\n"), 0)
		assert.ErrorIs(t, err, ErrDuplicateResult)
	})

	t.Run("index out of range", func(t *testing.T) {
		_, err := ReadResults(strings.NewReader("RESULTS 1\n5;10\n"), 0)
		assert.ErrorIs(t, err, ErrIndexOutOfRange)
	})

	t.Run("bad header", func(t *testing.T) {
		_, err := ReadResults(strings.NewReader("RESULT 1\n"), 0)
		assert.ErrorIs(t, err, protocol.ErrFraming)
	})

	t.Run("done before all results", func(t *testing.T) {
		out, err := ReadResults(strings.NewReader("RESULTS 2\n0;10\nDONE\n"), 0)
		assert.Error(t, err)
		assert.False(t, out.Done)
	})
}

// fakeService answers one batch on two listeners, hashing each payload with
// the given rounds and replying in reverse order.
func fakeService(t *testing.T, rounds int) (in, out string) {
	t.Helper()
	inLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	outLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = inLn.Close()
		_ = outLn.Close()
	})

	go func() {
		req, err := inLn.Accept()
		if err != nil {
			return
		}
		defer req.Close()
		resp, err := outLn.Accept()
		if err != nil {
			return
		}
		defer resp.Close()

		r := protocol.NewReader(req, 0)
		header, err := r.ReadLine()
		if err != nil {
			return
		}
		n, err := protocol.ParseBegin(header)
		if err != nil {
			return
		}
		tasks := make([]batch.Task, 0, n)
		for i := 0; i < n; i++ {
			line, err := r.ReadLine()
			if err != nil {
				return
			}
			task, err := protocol.ParseTask(line)
			if err != nil {
				return
			}
			tasks = append(tasks, task)
		}

		w := protocol.NewWriter(resp)
		_ = w.WriteLine(protocol.FormatResults(n))
		for i := len(tasks) - 1; i >= 0; i-- {
			res := batch.Result{Index: tasks[i].Index, Value: compute.Hash(tasks[i].Payload, rounds)}
			_ = w.WriteLine(protocol.FormatResult(res))
		}
		_ = w.WriteLine(protocol.Done)
	}()

	return inLn.Addr().String(), outLn.Addr().String()
}

func TestSubmit(t *testing.T) {
	in, out := fakeService(t, 2)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	payloads := []string{"12,55.5", "x;y", "third"}
	got, err := Submit(ctx, Options{IngressAddr: in, EgressAddr: out, Logger: zaptest.NewLogger(t)}, payloads)
	require.NoError(t, err)
	require.True(t, got.Done)
	require.Len(t, got.Results, len(payloads))
	for i, p := range payloads {
		assert.Equal(t, uint64(i), got.Results[i].Index)
		assert.Equal(t, compute.Hash(p, 2), got.Results[i].Value)
	}
}

func TestSubmitDialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	_, err = Submit(context.Background(), Options{IngressAddr: addr, EgressAddr: addr, DialTimeout: time.Second}, []string{"a"})
	assert.ErrorContains(t, err, "dial ingress")
}

func TestSubmitCancelled(t *testing.T) {
	// Listeners that accept but never answer.
	inLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	outLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer inLn.Close()
	defer outLn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := Submit(ctx, Options{IngressAddr: inLn.Addr().String(), EgressAddr: outLn.Addr().String()}, []string{"a"})
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Submit did not return after cancel")
	}
}
