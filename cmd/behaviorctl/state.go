package main

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/keshon/behavior-sim/internal/storage"
)

func newStateCommand(opts *globalOptions) *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "state [agent]",
		Short: "Show agents stored in a datastore file",
		Long:  "Without an agent, lists the stored agents. With one, prints its profiles.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(path); err != nil {
				return err
			}
			s, err := storage.New(path)
			if err != nil {
				return err
			}
			defer s.Close()

			out := cmd.OutOrStdout()
			if len(args) == 0 {
				agents := s.Agents()
				sort.Strings(agents)
				if opts.json {
					if agents == nil {
						agents = []string{}
					}
					return printJSON(out, agents)
				}
				for _, a := range agents {
					fmt.Fprintln(out, a)
				}
				return nil
			}

			st, err := s.Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if opts.json {
				return printJSON(out, st)
			}
			eng, err := opts.newEngine(nil, nil, nil)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s: %d interactions\n", st.AgentID, st.Progression.TotalInteractions)
			printProfiles(out, eng, st, time.Now())
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "store", "datastore.json", "datastore file")
	return cmd
}
