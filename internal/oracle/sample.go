// Package oracle evaluates candidate detectors against sample fact corpora
// through an evaluation engine, keeps the candidates that pass enough
// samples, checks that they jointly cover every sample, and selects the most
// specific one.
package oracle

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Label says what a sample exemplifies.
type Label string

const (
	LabelCorrect   Label = "correct"
	LabelIncorrect Label = "incorrect"
	// LabelNone samples are treated as correct usages.
	LabelNone Label = ""
)

func (l Label) valid() bool {
	return l == LabelCorrect || l == LabelIncorrect || l == LabelNone
}

// Sample is one fact directory to evaluate against.
type Sample struct {
	ID      string
	FactDir string
	Label   Label
}

// ValidateSamples checks that samples are usable: unique non-empty IDs,
// existing fact directories and known labels.
func ValidateSamples(samples []Sample) error {
	seen := make(map[string]bool, len(samples))
	for i, s := range samples {
		if s.ID == "" {
			return fmt.Errorf("sample %d has no id", i)
		}
		if seen[s.ID] {
			return fmt.Errorf("duplicate sample id %q", s.ID)
		}
		seen[s.ID] = true
		if !s.Label.valid() {
			return fmt.Errorf("sample %s: unknown label %q", s.ID, s.Label)
		}
		info, err := os.Stat(s.FactDir)
		if err != nil {
			return fmt.Errorf("sample %s: %w", s.ID, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("sample %s: %s is not a directory", s.ID, s.FactDir)
		}
	}
	return nil
}

// ErrUnknownAPI is returned when a corpus has no samples for an API.
var ErrUnknownAPI = errors.New("unknown api")

// SampleSpec describes a sample in a corpus file: either a pre-extracted
// fact directory or a source location to extract facts from.
type SampleSpec struct {
	ID     string `yaml:"id"`
	Facts  string `yaml:"facts,omitempty"`
	Source string `yaml:"source,omitempty"`
	Line   int    `yaml:"line,omitempty"`
	Label  Label  `yaml:"label,omitempty"`
}

// NeedsExtraction reports whether the sample is given as a source location.
func (s SampleSpec) NeedsExtraction() bool { return s.Facts == "" }

// Corpus maps API signatures to their samples.
//
//	cache_root: ./cache
//	apis:
//	  java.io.Writer.write:
//	    - id: w1
//	      facts: samples/w1
//	      label: correct
//	    - source: src/Foo.java
//	      line: 42
//	      label: incorrect
type Corpus struct {
	CacheRoot string                  `yaml:"cache_root,omitempty"`
	APIs      map[string][]SampleSpec `yaml:"apis"`
}

// ParseCorpus decodes a corpus. Relative paths are resolved against
// baseDir.
func ParseCorpus(data []byte, baseDir string) (*Corpus, error) {
	var c Corpus
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse corpus: %w", err)
	}
	if c.CacheRoot != "" {
		c.CacheRoot = resolvePath(baseDir, c.CacheRoot)
	}
	for api, specs := range c.APIs {
		seen := make(map[string]bool, len(specs))
		for i := range specs {
			s := &specs[i]
			if s.ID == "" {
				s.ID = fmt.Sprintf("sample_%d", i)
			}
			if seen[s.ID] {
				return nil, fmt.Errorf("api %s: duplicate sample id %q", api, s.ID)
			}
			seen[s.ID] = true
			if !s.Label.valid() {
				return nil, fmt.Errorf("api %s sample %s: unknown label %q", api, s.ID, s.Label)
			}
			switch {
			case s.Facts != "" && s.Source != "":
				return nil, fmt.Errorf("api %s sample %s: facts and source are exclusive", api, s.ID)
			case s.Facts != "":
				s.Facts = resolvePath(baseDir, s.Facts)
			case s.Source != "":
				if s.Line <= 0 {
					return nil, fmt.Errorf("api %s sample %s: source needs a positive line", api, s.ID)
				}
				s.Source = resolvePath(baseDir, s.Source)
			default:
				return nil, fmt.Errorf("api %s sample %s: needs facts or source", api, s.ID)
			}
		}
	}
	return &c, nil
}

// LoadCorpus reads a corpus file.
func LoadCorpus(path string) (*Corpus, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read corpus: %w", err)
	}
	return ParseCorpus(data, filepath.Dir(path))
}

// Samples returns the samples of api.
func (c *Corpus) Samples(api string) ([]SampleSpec, error) {
	specs, ok := c.APIs[api]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAPI, api)
	}
	return specs, nil
}

func resolvePath(base, p string) string {
	if filepath.IsAbs(p) || base == "" {
		return p
	}
	return filepath.Join(base, p)
}
