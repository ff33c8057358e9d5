package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"usagesynth/internal/extract"
	"usagesynth/internal/logging"
	"usagesynth/internal/oracle"
)

// ResolveSamples turns the corpus entries of api into fact directories.
// Source-located samples are extracted into <cache root>/<api>/<id>/facts,
// reusing an earlier extraction when present. Samples whose extraction
// fails are skipped and returned by ID.
func (s *Synthesizer) ResolveSamples(ctx context.Context, api string, corpus *oracle.Corpus) ([]oracle.Sample, []string, error) {
	if corpus == nil {
		return nil, nil, errors.New("no sample corpus given")
	}
	specs, err := corpus.Samples(api)
	if err != nil {
		return nil, nil, err
	}
	logger := s.loggers.Get(logging.CategoryExtract)

	var samples []oracle.Sample
	var skipped []string
	for _, spec := range specs {
		if !spec.NeedsExtraction() {
			samples = append(samples, oracle.Sample{ID: spec.ID, FactDir: spec.Facts, Label: spec.Label})
			continue
		}
		dir, err := s.extractSample(ctx, api, corpus, spec)
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
			logger.Error("failed to extract sample facts, skipping sample",
				zap.String("sample", spec.ID),
				zap.String("source", spec.Source),
				zap.Int("line", spec.Line),
				zap.Error(err))
			skipped = append(skipped, spec.ID)
			continue
		}
		samples = append(samples, oracle.Sample{ID: spec.ID, FactDir: dir, Label: spec.Label})
	}
	if err := oracle.ValidateSamples(samples); err != nil {
		return nil, nil, err
	}
	return samples, skipped, nil
}

func (s *Synthesizer) extractSample(ctx context.Context, api string, corpus *oracle.Corpus, spec oracle.SampleSpec) (string, error) {
	root := s.cfg.Storage.CacheRoot
	if root == "" {
		root = corpus.CacheRoot
	}
	if root == "" {
		return "", errors.New("a cache root is required to extract facts")
	}
	dir := filepath.Join(root, sanitize(api), spec.ID, "facts")
	if extract.Cached(dir) {
		return dir, nil
	}
	if s.extractor == nil {
		return "", errors.New("no extraction command configured")
	}
	records, err := s.extractor.Extract(ctx, extract.Request{API: api, Source: spec.Source, Line: spec.Line})
	if err != nil {
		return "", err
	}
	if len(records) == 0 {
		return "", fmt.Errorf("extractor produced no facts for %s:%d", spec.Source, spec.Line)
	}
	if err := extract.Materialize(records, dir); err != nil {
		return "", err
	}
	return dir, nil
}

// sanitize makes an API signature usable as a directory name.
func sanitize(api string) string {
	out := []byte(api)
	for i, c := range out {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '.', c == '-', c == '_':
		default:
			out[i] = '_'
		}
	}
	return string(out)
}
