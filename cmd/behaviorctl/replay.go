package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/keshon/behavior-sim/internal/behavior"
	"github.com/keshon/behavior-sim/internal/engine"
	"github.com/keshon/behavior-sim/internal/safety"
	"github.com/keshon/behavior-sim/internal/storage"
	"github.com/keshon/behavior-sim/pkg/util"
)

const (
	replayStep  = time.Minute
	historySize = 20
)

type replayOptions struct {
	agent    string
	enable   []string
	explicit bool
	age      string
	store    string
	start    string
}

func newReplayCommand(opts *globalOptions) *cobra.Command {
	ro := &replayOptions{}
	cmd := &cobra.Command{
		Use:   "replay <transcript.jsonl>",
		Short: "Run a recorded conversation through the engine",
		Long: "Each line of the transcript is a JSON message with role, content and an optional at time. " +
			"Messages without a time follow the previous one by a minute. Use - to read stdin.",
		Args:    cobra.ExactArgs(1),
		Example: `behaviorctl replay chat.jsonl --enable YANDERE_OBSESSIVE --store state.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return replay(ctx, opts, ro, in, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&ro.agent, "agent", "replay", "agent id")
	cmd.Flags().StringSliceVarP(&ro.enable, "enable", "e", nil, "behaviors to enable before the first message")
	cmd.Flags().BoolVar(&ro.explicit, "explicit", false, "explicit mode")
	cmd.Flags().StringVar(&ro.age, "age", "unknown", "age status: adult, minor or unknown")
	cmd.Flags().StringVar(&ro.store, "store", "", "datastore file to load and save agent state")
	cmd.Flags().StringVar(&ro.start, "start", "", "RFC 3339 time of the first message without a time")
	return cmd
}

func replay(ctx context.Context, opts *globalOptions, ro *replayOptions, in io.Reader, out io.Writer) error {
	now := time.Now().UTC().Truncate(time.Minute)
	if ro.start != "" {
		t, err := time.Parse(time.RFC3339, ro.start)
		if err != nil {
			return fmt.Errorf("invalid --start: %w", err)
		}
		now = t
	}

	var store engine.Store
	if ro.store != "" {
		s, err := storage.New(ro.store)
		if err != nil {
			return err
		}
		defer s.Close()
		store = s
	}
	eng, err := opts.newEngine(func() time.Time { return now }, safety.NewMemoryConsentStore(), store)
	if err != nil {
		return err
	}

	for _, name := range ro.enable {
		c, err := parseCategory(name)
		if err != nil {
			return err
		}
		if _, err := eng.EnableBehavior(ctx, ro.agent, c, behavior.ProfileOptions{}); err != nil {
			return err
		}
	}

	var (
		history []behavior.Message
		n       int
	)
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for line := 1; sc.Scan(); line++ {
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var msg behavior.Message
		if err := json.Unmarshal([]byte(text), &msg); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		if msg.At.IsZero() {
			if n > 0 || len(history) > 0 {
				now = now.Add(replayStep)
			}
			msg.At = now
		} else {
			now = msg.At
		}
		if msg.Role == "" {
			msg.Role = behavior.RoleUser
		}

		if msg.Role == behavior.RoleUser {
			n++
			d, err := eng.Process(ctx, engine.Input{
				AgentID:  ro.agent,
				Message:  msg,
				History:  history,
				Explicit: ro.explicit,
				Age:      safety.ParseAge(ro.age),
			})
			if err != nil {
				return fmt.Errorf("line %d: %w", line, err)
			}
			if opts.json {
				if err := json.NewEncoder(out).Encode(d); err != nil {
					return err
				}
			} else {
				printDecision(out, n, msg, d)
			}
		}

		history = append(history, msg)
		if len(history) > historySize {
			history = history[len(history)-historySize:]
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}
	if opts.json {
		return nil
	}

	st, err := eng.State(ctx, ro.agent)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "\n%d messages replayed for %s\n", n, ro.agent)
	printProfiles(out, eng, st, now)
	return nil
}

func printDecision(w io.Writer, n int, msg behavior.Message, d engine.Decision) {
	fmt.Fprintf(w, "%s #%d %q\n", util.FormatDate(msg.At, "YYYY-MM-DD hh:mm"), n, msg.Content)
	if len(d.ConsentGranted) > 0 {
		fmt.Fprintf(w, "  consent granted: %s\n", strings.Join(d.ConsentGranted, ", "))
	}
	if len(d.Triggers) > 0 {
		types := make([]string, len(d.Triggers))
		for i, t := range d.Triggers {
			types[i] = string(t.Type)
		}
		fmt.Fprintf(w, "  triggers: %s\n", strings.Join(types, ", "))
	}
	for _, b := range d.Behaviors {
		state := "shown"
		switch {
		case b.Suppressed:
			state = "suppressed"
		case !b.Intensity.ShouldDisplay:
			state = "hidden"
		}
		fmt.Fprintf(w, "  %-22s phase %d intensity %.2f %s", b.Category, b.Phase, b.Intensity.Final, state)
		if b.Held != "" {
			fmt.Fprintf(w, " (held: %s)", b.Held)
		}
		fmt.Fprintln(w)
	}
	for _, t := range d.Transitions {
		fmt.Fprintf(w, "  -> %s moved to phase %d\n", t.Category, t.NextPhase)
	}
	for _, p := range d.ConsentPrompts {
		fmt.Fprintf(w, "  ? %s\n", p.Prompt)
	}
	if p := d.Guidance.Primary; p != nil {
		fmt.Fprintf(w, "  guidance: %s\n", p.Key)
	}
	fmt.Fprintf(w, "  safety: %s\n", d.Safety)
	for _, warn := range d.Warnings {
		fmt.Fprintf(w, "  warning: %s\n", warn)
	}
}

func printProfiles(w io.Writer, eng *engine.Engine, st behavior.AgentState, now time.Time) {
	if len(st.Profiles) == 0 {
		fmt.Fprintln(w, "no behaviors")
		return
	}
	phases := eng.Tables().Phases
	for _, p := range st.Profiles {
		since := ""
		if !p.PhaseStartedAt.IsZero() {
			since = fmt.Sprintf(" since %s (%s)", util.FormatDate(p.PhaseStartedAt, "YYYY-MM-DD hh:mm"), util.FormatDuration(now.Sub(p.PhaseStartedAt)))
		}
		fmt.Fprintf(w, "%-22s phase %d (%s)%s baseline %.2f enabled=%t\n",
			p.Category, p.CurrentPhase, phases.Rules(p.Category).Name(p.CurrentPhase), since, p.BaselineIntensity, p.Enabled)
	}
	if len(st.PendingConsent) > 0 {
		fmt.Fprintf(w, "awaiting consent: %s\n", strings.Join(st.PendingConsent, ", "))
	}
}
