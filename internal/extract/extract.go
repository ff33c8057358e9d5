// Package extract is the boundary to the fact-extraction tool. Extractors
// return structured records; only Materialize turns them into a fact
// directory.
package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"usagesynth/internal/facts"
	"usagesynth/internal/tactile"
)

// Request locates the program point to extract facts around.
type Request struct {
	API    string
	Source string
	Line   int
}

// Record is one fact: a relation name and its typed arguments. Arguments
// are strings or int64 values.
type Record struct {
	Relation string
	Args     []any
}

// Extractor produces the facts describing the method that contains a
// program point.
type Extractor interface {
	Extract(ctx context.Context, req Request) ([]Record, error)
}

// Materialize writes records into dir, one .facts file per relation.
func Materialize(records []Record, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create fact dir: %w", err)
	}
	byRelation := make(map[string][]facts.Tuple)
	for i, r := range records {
		if r.Relation == "" {
			return fmt.Errorf("record %d has no relation", i)
		}
		t := make(facts.Tuple, len(r.Args))
		for j, a := range r.Args {
			s, err := formatArg(a)
			if err != nil {
				return fmt.Errorf("record %d (%s) arg %d: %w", i, r.Relation, j, err)
			}
			t[j] = s
		}
		byRelation[r.Relation] = append(byRelation[r.Relation], t)
	}
	names := make([]string, 0, len(byRelation))
	for n := range byRelation {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		if err := facts.WriteRelation(dir, n, ".facts", byRelation[n]); err != nil {
			return err
		}
	}
	return nil
}

func formatArg(a any) (string, error) {
	switch v := a.(type) {
	case string:
		return v, nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case json.Number:
		if _, err := v.Int64(); err != nil {
			return "", fmt.Errorf("non-integer number %s", v)
		}
		return v.String(), nil
	}
	return "", fmt.Errorf("unsupported argument type %T", a)
}

// Cached reports whether dir already holds extracted facts.
func Cached(dir string) bool {
	rels, err := facts.ReadDir(dir)
	return err == nil && len(rels) > 0
}

// ProcessConfig configures a ProcessExtractor.
type ProcessConfig struct {
	Command string
	// Args may contain the placeholders {source}, {line} and {api}.
	Args    []string
	Timeout time.Duration
}

// ProcessExtractor runs an external tool that prints one JSON record per
// line on stdout:
//
//	{"relation": "call", "args": ["java.io.Writer.write", 12, "w", "Foo.run"]}
type ProcessExtractor struct {
	cfg    ProcessConfig
	exec   tactile.Executor
	logger *zap.Logger
}

// NewProcessExtractor creates an extractor. A nil logger disables logging.
func NewProcessExtractor(cfg ProcessConfig, exec tactile.Executor, logger *zap.Logger) *ProcessExtractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProcessExtractor{cfg: cfg, exec: exec, logger: logger}
}

// Extract runs the tool for req.
func (p *ProcessExtractor) Extract(ctx context.Context, req Request) ([]Record, error) {
	if p.cfg.Command == "" {
		return nil, errors.New("no extraction command configured")
	}
	r := strings.NewReplacer("{source}", req.Source, "{line}", strconv.Itoa(req.Line), "{api}", req.API)
	args := make([]string, len(p.cfg.Args))
	for i, a := range p.cfg.Args {
		args[i] = r.Replace(a)
	}

	res, err := p.exec.Execute(ctx, tactile.Command{
		Binary:    p.cfg.Command,
		Arguments: args,
		Limits:    &tactile.ResourceLimits{TimeoutMs: p.cfg.Timeout.Milliseconds()},
		Tags:      map[string]string{"source": req.Source},
	})
	if err != nil {
		return nil, fmt.Errorf("extraction of %s:%d: %w", req.Source, req.Line, err)
	}
	switch {
	case res.IsError():
		return nil, fmt.Errorf("extraction of %s:%d: %s", req.Source, req.Line, res.Error)
	case res.Killed:
		return nil, fmt.Errorf("extraction of %s:%d killed: %s", req.Source, req.Line, res.KillReason)
	case res.ExitCode != 0:
		return nil, fmt.Errorf("extraction of %s:%d exited %d: %s", req.Source, req.Line, res.ExitCode, strings.TrimSpace(res.Stderr))
	case res.Truncated:
		return nil, fmt.Errorf("extraction of %s:%d: output truncated", req.Source, req.Line)
	}

	records, err := DecodeRecords(strings.NewReader(res.Stdout))
	if err != nil {
		return nil, fmt.Errorf("extraction of %s:%d: %w", req.Source, req.Line, err)
	}
	p.logger.Debug("extracted facts",
		zap.String("source", req.Source),
		zap.Int("line", req.Line),
		zap.Int("records", len(records)))
	return records, nil
}

type wireRecord struct {
	Relation string `json:"relation"`
	Args     []any  `json:"args"`
}

// DecodeRecords reads JSON records, one per line. Numbers must be integers.
func DecodeRecords(r io.Reader) ([]Record, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var out []Record
	for {
		var w wireRecord
		err := dec.Decode(&w)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", len(out)+1, err)
		}
		rec := Record{Relation: w.Relation, Args: make([]any, len(w.Args))}
		for i, a := range w.Args {
			switch v := a.(type) {
			case string:
				rec.Args[i] = v
			case json.Number:
				n, err := v.Int64()
				if err != nil {
					return nil, fmt.Errorf("record %d arg %d: non-integer number %s", len(out)+1, i, v)
				}
				rec.Args[i] = n
			default:
				return nil, fmt.Errorf("record %d arg %d: unsupported value %v", len(out)+1, i, a)
			}
		}
		out = append(out, rec)
	}
}

// EncodeRecords writes records in the format DecodeRecords reads.
func EncodeRecords(records []Record) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, r := range records {
		if err := enc.Encode(wireRecord{Relation: r.Relation, Args: r.Args}); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}
