// Package client is the peer side of the relay protocol. It sends a batch to
// a service's ingress port and collects the results from its egress port.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/taskrelay/internal/batch"
	"github.com/dreamware/taskrelay/internal/protocol"
)

// ErrNotDone is returned when the result stream ends without the DONE line.
var ErrNotDone = errors.New("result stream ended before DONE")

// Outcome is what the peer learned about one batch.
type Outcome struct {
	Announced int            `json:"announced"` // Size from the RESULTS header
	Results   []batch.Result `json:"results"`   // Received results, ordered by index
	Done      bool           `json:"done"`      // The service confirmed completion
}

// Options configures Submit.
type Options struct {
	IngressAddr  string
	EgressAddr   string
	DialTimeout  time.Duration // Zero uses the dialer default
	MaxLineBytes int           // Zero selects protocol.DefaultMaxLineBytes
	Logger       *zap.Logger
}

// SendBatch writes a complete batch: BEGIN, one line per payload indexed in
// order, then END.
func SendBatch(w io.Writer, payloads []string) error {
	lw := protocol.NewWriter(w)
	if err := lw.WriteLine(protocol.FormatBegin(len(payloads))); err != nil {
		return fmt.Errorf("send begin: %w", err)
	}
	for i, p := range payloads {
		if err := lw.WriteLine(protocol.FormatTask(batch.Task{Index: uint64(i), Payload: p})); err != nil {
			return fmt.Errorf("send task %d: %w", i, err)
		}
	}
	if err := lw.WriteLine(protocol.End); err != nil {
		return fmt.Errorf("send end: %w", err)
	}
	return nil
}

// ReadResults reads one result stream. The returned Outcome holds whatever
// was received, even when err is non-nil.
func ReadResults(r io.Reader, maxLine int) (*Outcome, error) {
	lr := protocol.NewReader(r, maxLine)
	out := &Outcome{}

	header, err := lr.ReadLine()
	if err != nil {
		return out, fmt.Errorf("read results header: %w", err)
	}
	n, err := protocol.ParseResults(header)
	if err != nil {
		return out, err
	}
	out.Announced = n

	set := NewResultSet(n)
	defer func() { out.Results = set.Sorted() }()

	for {
		line, err := lr.ReadLine()
		if errors.Is(err, io.EOF) {
			return out, fmt.Errorf("%w: %d of %d results", ErrNotDone, set.Len(), n)
		}
		if err != nil {
			return out, fmt.Errorf("read result: %w", err)
		}
		if protocol.IsDone(line) {
			if set.Len() != n {
				return out, fmt.Errorf("DONE after %d of %d results", set.Len(), n)
			}
			out.Done = true
			return out, nil
		}
		res, err := protocol.ParseResult(line)
		if err != nil {
			return out, err
		}
		if err := set.Add(res); err != nil {
			return out, err
		}
	}
}

// Submit drives one batch against a running service. Both connections are
// opened before anything is sent; payloads are streamed while results are
// read concurrently. Cancelling ctx closes both connections.
func Submit(ctx context.Context, opts Options, payloads []string) (*Outcome, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	d := net.Dialer{Timeout: opts.DialTimeout}

	req, err := d.DialContext(ctx, "tcp", opts.IngressAddr)
	if err != nil {
		return nil, fmt.Errorf("dial ingress: %w", err)
	}
	defer req.Close()

	resp, err := d.DialContext(ctx, "tcp", opts.EgressAddr)
	if err != nil {
		return nil, fmt.Errorf("dial egress: %w", err)
	}
	defer resp.Close()

	stop := context.AfterFunc(ctx, func() {
		req.Close()
		resp.Close()
	})
	defer stop()

	log.Debug("submitting batch",
		zap.Int("tasks", len(payloads)),
		zap.String("ingress", opts.IngressAddr),
		zap.String("egress", opts.EgressAddr))

	var (
		wg      sync.WaitGroup
		sendErr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		sendErr = SendBatch(req, payloads)
		if sendErr != nil {
			log.Warn("sending batch failed", zap.Error(sendErr))
		}
	}()

	out, readErr := ReadResults(resp, opts.MaxLineBytes)
	if readErr != nil {
		req.Close()
	}
	wg.Wait()

	if ctx.Err() != nil {
		return out, ctx.Err()
	}
	if readErr != nil {
		return out, readErr
	}
	// A send error after DONE means the service already had the whole batch.
	if sendErr != nil && !out.Done {
		return out, sendErr
	}
	return out, nil
}
