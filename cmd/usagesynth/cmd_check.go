package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"usagesynth/internal/datalog"
)

func newCheckCmd(a *app) *cobra.Command {
	var render bool
	cmd := &cobra.Command{
		Use:   "check [file...]",
		Short: "Check the syntax and rule safety of .dl files",
		Long: `Parses Datalog program files and reports syntax errors and rules whose
head or negated variables are not bound by a positive body literal.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			failed := 0
			for _, pattern := range args {
				matches, err := filepath.Glob(pattern)
				if err != nil {
					return fmt.Errorf("bad pattern %s: %w", pattern, err)
				}
				if len(matches) == 0 {
					// Not a glob; report the file itself.
					matches = []string{pattern}
				}
				for _, file := range matches {
					prog, err := checkFile(file)
					if err != nil {
						fmt.Fprintf(out, "ERROR in %s: %v\n", file, err)
						failed++
						continue
					}
					fmt.Fprintf(out, "OK: %s\n", file)
					if render {
						fmt.Fprint(out, datalog.Render(prog))
					}
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d file(s) failed the check", failed)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&render, "render", false, "Print the normalized program of every valid file")
	return cmd
}

func checkFile(path string) (datalog.Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return datalog.Program{}, err
	}
	prog, err := datalog.Parse(string(data))
	if err != nil {
		return datalog.Program{}, err
	}
	for _, r := range prog.Rules {
		if unsafe := r.UnsafeVariables(); len(unsafe) > 0 {
			names := make([]string, len(unsafe))
			for i, v := range unsafe {
				names[i] = string(v)
			}
			return datalog.Program{}, fmt.Errorf("rule %s: unbound variables %s", r, strings.Join(names, ", "))
		}
	}
	return prog, nil
}
