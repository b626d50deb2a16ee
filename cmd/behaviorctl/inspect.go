package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/keshon/behavior-sim/internal/behavior"
	"github.com/keshon/behavior-sim/internal/safety"
)

const cliAgent = "cli"

func newDetectCommand(opts *globalOptions) *cobra.Command {
	var categories []string
	cmd := &cobra.Command{
		Use:     "detect <text>",
		Short:   "Show the triggers detected in a message",
		Args:    cobra.MinimumNArgs(1),
		Example: `behaviorctl detect "I need some space" --category ANXIOUS_ATTACHMENT`,
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := opts.newEngine(nil, nil, nil)
			if err != nil {
				return err
			}
			var profiles []behavior.Profile
			for _, s := range categories {
				c, err := parseCategory(s)
				if err != nil {
					return err
				}
				profiles = append(profiles, behavior.Profile{Category: c, Enabled: true, CurrentPhase: 1})
			}
			msg := behavior.Message{Role: behavior.RoleUser, Content: strings.Join(args, " ")}
			triggers := eng.Detector().Detect(msg, nil, profiles)

			out := cmd.OutOrStdout()
			if opts.json {
				if triggers == nil {
					triggers = []behavior.TriggerEvent{}
				}
				return printJSON(out, triggers)
			}
			if len(triggers) == 0 {
				fmt.Fprintln(out, "no triggers")
				return nil
			}
			for _, t := range triggers {
				cats := make([]string, len(t.Categories))
				for i, c := range t.Categories {
					cats[i] = string(c)
				}
				fmt.Fprintf(out, "%-24s weight=%.2f confidence=%.2f categories=%s\n",
					t.Type, t.Weight, t.Confidence, strings.Join(cats, ","))
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&categories, "category", "c", nil, "behaviors treated as enabled")
	return cmd
}

func newModerateCommand(opts *globalOptions) *cobra.Command {
	var (
		category string
		phase    int
		explicit bool
	)
	cmd := &cobra.Command{
		Use:   "moderate <text>",
		Short: "Moderate a reply for a behavior phase",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := parseCategory(category)
			if err != nil {
				return err
			}
			eng, err := opts.newEngine(nil, nil, nil)
			if err != nil {
				return err
			}
			v := eng.Moderator().Moderate(strings.Join(args, " "), c, phase, explicit)

			out := cmd.OutOrStdout()
			if opts.json {
				return printJSON(out, v)
			}
			fmt.Fprintf(out, "severity: %s\nallowed:  %t\nmodified: %t\nflagged:  %t\n", v.Severity, v.Allowed, v.Modified, v.Flagged)
			if v.Text != "" {
				fmt.Fprintf(out, "text:     %s\n", v.Text)
			}
			if v.Warning != "" {
				fmt.Fprintf(out, "warning:  %s\n", v.Warning)
			}
			printResources(out, v.Resources)
			return nil
		},
	}
	cmd.Flags().StringVarP(&category, "category", "c", "", "behavior category")
	cmd.Flags().IntVarP(&phase, "phase", "p", 1, "behavior phase")
	cmd.Flags().BoolVar(&explicit, "explicit", false, "explicit mode")
	_ = cmd.MarkFlagRequired("category")
	return cmd
}

func newAccessCommand(opts *globalOptions) *cobra.Command {
	var (
		category string
		phase    int
		explicit bool
		age      string
		consents []string
	)
	cmd := &cobra.Command{
		Use:     "access",
		Short:   "Ask the consent gate whether a phase may be shown",
		Args:    cobra.NoArgs,
		Example: `behaviorctl access -c YANDERE_OBSESSIVE -p 8 --explicit --age adult --consent YANDERE_OBSESSIVE_phase_8`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := parseCategory(category)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			store := safety.NewMemoryConsentStore()
			for _, k := range consents {
				if err := store.Grant(ctx, cliAgent, k); err != nil {
					return err
				}
			}
			eng, err := opts.newEngine(nil, store, nil)
			if err != nil {
				return err
			}
			acc, err := eng.Gate().VerifyAccess(ctx, safety.AccessRequest{
				AgentID:  cliAgent,
				Category: c,
				Phase:    phase,
				Explicit: explicit,
				Age:      safety.ParseAge(age),
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.json {
				return printJSON(out, acc)
			}
			fmt.Fprintf(out, "allowed: %t\n", acc.Allowed)
			if acc.Reason != "" {
				fmt.Fprintf(out, "reason:  %s\n", acc.Reason)
			}
			if acc.RequiresConsent {
				fmt.Fprintf(out, "consent: %s\n%s\n", acc.ConsentKey, acc.ConsentPrompt)
			}
			if acc.Warning != "" {
				fmt.Fprintf(out, "warning: %s\n", acc.Warning)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&category, "category", "c", "", "behavior category")
	cmd.Flags().IntVarP(&phase, "phase", "p", 1, "behavior phase")
	cmd.Flags().BoolVar(&explicit, "explicit", false, "explicit mode")
	cmd.Flags().StringVar(&age, "age", "unknown", "age status: adult, minor or unknown")
	cmd.Flags().StringSliceVar(&consents, "consent", nil, "consent keys already granted")
	_ = cmd.MarkFlagRequired("category")
	return cmd
}

func newConsentCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "consent <text>",
		Short:   "Parse a message as a consent reply",
		Args:    cobra.MinimumNArgs(1),
		Example: `behaviorctl consent "CONSIENTO FASE 8"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := opts.newEngine(nil, nil, nil)
			if err != nil {
				return err
			}
			reply := eng.Gate().ParseConsent(strings.Join(args, " "))

			out := cmd.OutOrStdout()
			if opts.json {
				return printJSON(out, reply)
			}
			switch reply.Kind {
			case safety.ConsentNone:
				fmt.Fprintln(out, "not a consent reply")
			case safety.ConsentGeneral:
				fmt.Fprintln(out, "general consent: grants every pending key")
			default:
				fmt.Fprintf(out, "consent phrase: %s (%s)\n", reply.Key, reply.Category)
			}
			return nil
		},
	}
}

var tableFiles = []string{
	behavior.TriggersFile,
	behavior.IntensityFile,
	behavior.PhasesFile,
	behavior.EmotionsFile,
	behavior.GuidanceFile,
	safety.File,
}

func newTablesCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tables [file]",
		Short: "List the configuration tables or print one",
		Long: "Without arguments, lists the table files and where each is read from. " +
			"With a file name, prints the table in effect.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if len(args) == 0 {
				for _, name := range tableFiles {
					src := "embedded"
					if opts.tablesDir != "" {
						if _, err := os.Stat(filepath.Join(opts.tablesDir, name)); err == nil {
							src = opts.tablesDir
						}
					}
					fmt.Fprintf(out, "%-16s %s\n", name, src)
				}
				// validates the whole set, overrides included
				_, err := opts.newEngine(nil, nil, nil)
				return err
			}
			data, err := readTable(opts.tablesDir, args[0])
			if err != nil {
				return err
			}
			_, err = out.Write(data)
			return err
		},
	}
}

func readTable(dir, name string) ([]byte, error) {
	if dir != "" {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	if name == safety.File {
		return safety.Embedded()
	}
	data, err := behavior.Embedded(name)
	if err != nil {
		return nil, fmt.Errorf("unknown table %q, want one of %s", name, strings.Join(tableFiles, ", "))
	}
	return data, nil
}

func printResources(w io.Writer, resources []string) {
	if len(resources) == 0 {
		return
	}
	fmt.Fprintln(w, "resources:")
	for _, r := range resources {
		fmt.Fprintf(w, "  - %s\n", r)
	}
}
