package discord

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/keshon/behavior-sim/internal/behavior"
	"github.com/keshon/behavior-sim/internal/engine"
)

const maxMessageLen = 2000

// notices renders the parts of a decision a channel should see.
func notices(d engine.Decision) []string {
	var out []string
	if len(d.ConsentGranted) > 0 {
		out = append(out, "Consent recorded: "+strings.Join(d.ConsentGranted, ", "))
	}

	for _, t := range d.Transitions {
		var sb strings.Builder
		fmt.Fprintf(&sb, "**%s** moved to phase %d", t.Category, t.NextPhase)
		for _, b := range d.Behaviors {
			if b.Category != t.Category {
				continue
			}
			if b.PhaseName != "" {
				fmt.Fprintf(&sb, " (%s)", b.PhaseName)
			}
			if b.TransitionWarning != "" {
				sb.WriteString("\n" + b.TransitionWarning)
			}
			if b.Warning != "" && b.Severity.Rank() > behavior.SeveritySafe.Rank() {
				sb.WriteString("\n\n" + b.Warning)
			}
		}
		out = append(out, sb.String())
	}

	for _, p := range d.ConsentPrompts {
		out = append(out, p.Prompt)
	}
	if len(d.Transitions) > 0 && len(d.Resources) > 0 {
		out = append(out, "Support resources:\n- "+strings.Join(d.Resources, "\n- "))
	}
	return out
}

// chunks splits text into pieces of at most n bytes, preferring line breaks.
func chunks(text string, n int) []string {
	var out []string
	for len(text) > n {
		cut := strings.LastIndexByte(text[:n], '\n')
		if cut <= 0 {
			cut = n
			for cut > 0 && !utf8.RuneStart(text[cut]) {
				cut--
			}
		}
		out = append(out, text[:cut])
		text = strings.TrimPrefix(text[cut:], "\n")
	}
	if text != "" {
		out = append(out, text)
	}
	return out
}
