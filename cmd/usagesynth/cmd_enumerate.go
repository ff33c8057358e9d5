package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"usagesynth/internal/store"
	"usagesynth/internal/synth"
)

func newEnumerateCmd(a *app) *cobra.Command {
	var templates, outDir string
	var countOnly bool
	cmd := &cobra.Command{
		Use:   "enumerate",
		Short: "List the candidate programs of a template without evaluating them",
		RunE: func(cmd *cobra.Command, args []string) error {
			ts, err := synth.LoadTemplates(templates)
			if err != nil {
				return err
			}
			s, err := a.synthesizer()
			if err != nil {
				return err
			}
			defer s.Close()

			libRoot := outDir
			if libRoot == "" {
				if libRoot, err = os.MkdirTemp("", "usagesynth-enum-"); err != nil {
					return err
				}
				defer os.RemoveAll(libRoot)
			}
			ctx, cancel := a.context()
			defer cancel()
			cands, err := s.Enumerate(ctx, ts, libRoot)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if outDir != "" {
				artifacts, err := store.NewArtifacts(outDir)
				if err != nil {
					return err
				}
				for _, c := range cands {
					if _, err := artifacts.WriteCandidate(c.Index, c.Program); err != nil {
						return err
					}
				}
				fmt.Fprintf(out, "wrote %d candidates to %s\n", len(cands), filepath.Clean(outDir))
				return nil
			}
			if countOnly {
				fmt.Fprintln(out, len(cands))
				return nil
			}
			for _, c := range cands {
				names := make([]string, len(c.Chosen))
				for i, inst := range c.Chosen {
					names[i] = inst.Component.Name
				}
				fmt.Fprintf(out, "// candidate %d (%s) components %v\n", c.Index, c.Template, names)
				fmt.Fprintln(out, c.Program.Rules[0].String())
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&templates, "templates", "t", "", "Usage template file (required)")
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "Write candidates as synthe_program_<i>.dl into this directory")
	cmd.Flags().BoolVar(&countOnly, "count", false, "Only print the number of candidates")
	_ = cmd.MarkFlagRequired("templates")
	return cmd
}
