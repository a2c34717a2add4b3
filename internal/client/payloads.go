package client

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Record is one player entry of a JSON dataset.
type Record struct {
	Name    string  `json:"name"`
	Games   int     `json:"games"`
	Winning float64 `json:"winning"`
}

// Payload renders the record the way the service hashes it: "games,winning".
func (r Record) Payload() string {
	return fmt.Sprintf("%d,%.6g", r.Games, r.Winning)
}

// Eligible reports whether the record passes the dataset's selection
// criteria: at least 400 weighted wins and a winning rate of 50 or more.
func (r Record) Eligible() bool {
	return float64(r.Games)*r.Winning >= 400 && r.Winning >= 50
}

type dataset struct {
	Player []Record `json:"player"`
}

// DecodeRecords reads a dataset, either {"player": [...]} or a bare array.
func DecodeRecords(r io.Reader) ([]Record, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "[") {
		var recs []Record
		if err := json.Unmarshal(raw, &recs); err != nil {
			return nil, fmt.Errorf("decode records: %w", err)
		}
		return recs, nil
	}
	var ds dataset
	if err := json.Unmarshal(raw, &ds); err != nil {
		return nil, fmt.Errorf("decode records: %w", err)
	}
	return ds.Player, nil
}

// ReadLines returns one payload per non-empty line of r.
func ReadLines(r io.Reader) ([]string, error) {
	var out []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	return out, sc.Err()
}

// LoadPayloads reads payloads from path. Files ending in ".json" are decoded
// as records (optionally keeping only eligible ones); anything else is read
// as one payload per line.
func LoadPayloads(path string, eligibleOnly bool) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if !strings.EqualFold(filepath.Ext(path), ".json") {
		return ReadLines(f)
	}

	recs, err := DecodeRecords(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	payloads := make([]string, 0, len(recs))
	for _, rec := range recs {
		if eligibleOnly && !rec.Eligible() {
			continue
		}
		payloads = append(payloads, rec.Payload())
	}
	return payloads, nil
}
