package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"usagesynth/internal/config"
	"usagesynth/internal/datalog"
	"usagesynth/internal/oracle"
	"usagesynth/internal/pipeline"
	"usagesynth/internal/synth"
)

type synthesizeFlags struct {
	api       string
	templates string
	corpus    string
	engine    string
	cacheRoot string
	passRatio float64
	workers   int
	predicate string
	noPersist bool
}

func newSynthesizeCmd(a *app) *cobra.Command {
	var f synthesizeFlags
	cmd := &cobra.Command{
		Use:   "synthesize",
		Short: "Synthesize a detector for an API from templates and samples",
		Long: `Enumerates the candidate programs of every template, evaluates them on the
corpus samples of the API and writes the selected detector to
final_sat_program.dl under the cache root.

Example:
  usagesynth synthesize --api java.io.Writer.write --templates writer.yaml --corpus corpus.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runSynthesize(cmd, f)
		},
	}
	cmd.Flags().StringVar(&f.api, "api", "", "API signature to synthesize for (required)")
	cmd.Flags().StringVarP(&f.templates, "templates", "t", "", "Usage template file (required)")
	cmd.Flags().StringVar(&f.corpus, "corpus", "", "Sample corpus file (required)")
	cmd.Flags().StringVar(&f.engine, "engine", "", "Engine backend override (souffle, mangle)")
	cmd.Flags().StringVar(&f.cacheRoot, "cache-root", "", "Artifact directory override")
	cmd.Flags().Float64Var(&f.passRatio, "pass-ratio", 0, "Pass ratio override")
	cmd.Flags().IntVar(&f.workers, "workers", 0, "Concurrent engine runs override")
	cmd.Flags().StringVar(&f.predicate, "pass-predicate", "", "Pass predicate override (labeled, incorrect_nonempty, correct_only)")
	cmd.Flags().BoolVar(&f.noPersist, "no-candidates", false, "Do not write every enumerated candidate")
	_ = cmd.MarkFlagRequired("api")
	_ = cmd.MarkFlagRequired("templates")
	_ = cmd.MarkFlagRequired("corpus")
	return cmd
}

func (f synthesizeFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	if f.engine != "" {
		cfg.Engine.Backend = f.engine
	}
	if f.cacheRoot != "" {
		cfg.Storage.CacheRoot = f.cacheRoot
	}
	if cmd.Flags().Changed("pass-ratio") {
		cfg.Evaluation.PassRatio = f.passRatio
	}
	if f.workers > 0 {
		cfg.Evaluation.Workers = f.workers
	}
	if f.predicate != "" {
		cfg.Evaluation.PassPredicate = f.predicate
	}
	if f.noPersist {
		cfg.Storage.PersistCandidates = false
	}
}

func (a *app) runSynthesize(cmd *cobra.Command, f synthesizeFlags) error {
	f.apply(cmd, a.cfg)

	templates, err := synth.LoadTemplates(f.templates)
	if err != nil {
		return err
	}
	corpus, err := oracle.LoadCorpus(f.corpus)
	if err != nil {
		return err
	}
	s, err := a.synthesizer()
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := a.context()
	defer cancel()
	res, err := s.Synthesize(ctx, pipeline.Request{API: f.api, Templates: templates, Corpus: corpus})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "candidates: %d, samples: %d, retained: %d\n",
		len(res.Candidates), len(res.Samples), len(res.Outcome.Retained))
	if len(res.Skipped) > 0 {
		fmt.Fprintf(out, "skipped samples: %v\n", res.Skipped)
	}
	prog, ok := res.Program()
	if !ok {
		fmt.Fprintf(out, "no program selected (%s)\n", res.Outcome.Status)
		if len(res.Outcome.Uncovered) > 0 {
			fmt.Fprintf(out, "uncovered samples: %v\n", res.Outcome.Uncovered)
		}
		return res.Outcome.Err()
	}
	fmt.Fprintf(out, "selected candidate %d, written to %s\n\n", res.Outcome.Selected.Index, res.FinalPath)
	fmt.Fprint(out, datalog.Render(prog))
	return nil
}
