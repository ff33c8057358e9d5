package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"usagesynth/internal/oracle"
)

func newEvaluateCmd(a *app) *cobra.Command {
	var api, corpusPath, engine, predicate string
	cmd := &cobra.Command{
		Use:   "evaluate [program.dl]",
		Short: "Evaluate an existing detector program on the samples of an API",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if engine != "" {
				a.cfg.Engine.Backend = engine
			}
			if predicate != "" {
				a.cfg.Evaluation.PassPredicate = predicate
			}
			corpus, err := oracle.LoadCorpus(corpusPath)
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
			ev, err := s.Evaluate(ctx, args[0], api, corpus)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SAMPLE\tLABEL\tSTATUS\tDETAIL")
			for i, u := range ev.Result.Units {
				label := string(ev.Samples[i].Label)
				if label == "" {
					label = "-"
				}
				detail := ""
				if u.Err != nil {
					detail = string(u.Kind)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", u.Sample, label, u.Status, detail)
			}
			for _, id := range ev.Skipped {
				fmt.Fprintf(w, "%s\t-\tskipped\textraction failed\n", id)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "passed %d/%d (%.2f)\n", len(ev.Result.Passed), ev.Result.Total, ev.Result.Ratio())
			return nil
		},
	}
	cmd.Flags().StringVar(&api, "api", "", "API signature whose samples to use (required)")
	cmd.Flags().StringVar(&corpusPath, "corpus", "", "Sample corpus file (required)")
	cmd.Flags().StringVar(&engine, "engine", "", "Engine backend override (souffle, mangle)")
	cmd.Flags().StringVar(&predicate, "pass-predicate", "", "Pass predicate override")
	_ = cmd.MarkFlagRequired("api")
	_ = cmd.MarkFlagRequired("corpus")
	return cmd
}
