package main

import (
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/kalambet/rat/internal/domain"
)

func writeFeatureTree(w io.Writer, nodes []domain.FeatureNode) {
	if len(nodes) == 0 {
		fmt.Fprintln(w, colorize(colorDim, "  (no features)"))
		return
	}
	for _, n := range nodes {
		fmt.Fprintf(w, "  %s %s  %s\n", colorize(colorCyan, n.Label()), n.Feature.Name, colorize(colorDim, fmt.Sprintf("#%d", n.Feature.ID)))
		for _, c := range n.Children {
			fmt.Fprintf(w, "    %s %s  %s\n", colorize(colorCyan, n.ChildLabel(c)), c.Name, colorize(colorDim, fmt.Sprintf("#%d", c.ID)))
		}
	}
}

func writeRelated(w io.Writer, related []domain.RelatedAppFeatures) {
	for _, app := range related {
		fmt.Fprintf(w, "  %s\n", colorize(colorBold, app.AppName))
		for _, p := range app.Features {
			fmt.Fprintf(w, "    %s\n", p.Name)
			for _, c := range p.Children {
				fmt.Fprintf(w, "      - %s\n", c.Name)
			}
		}
	}
}

func writeSteps(w io.Writer, indent string, steps []domain.FlowStep) {
	for i, s := range steps {
		if s.Actor != "" {
			fmt.Fprintf(w, "%s%d. %s: %s\n", indent, i+1, s.Actor, s.Description)
			continue
		}
		fmt.Fprintf(w, "%s%d. %s\n", indent, i+1, s.Description)
	}
}

func writeList(w io.Writer, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintln(w, colorize(colorBold, title))
	for _, it := range items {
		fmt.Fprintf(w, "  - %s\n", it)
	}
}

func writeAnalysis(w io.Writer, ra domain.RequirementAnalysis) {
	if ra.Requirement != "" {
		fmt.Fprintln(w, colorize(colorBold, "Requirement"))
		fmt.Fprintf(w, "  %s\n", ra.Requirement)
	}
	if len(ra.SuggestedApps) > 0 {
		fmt.Fprintln(w, colorize(colorBold, "Suggested apps"))
		for _, s := range ra.SuggestedApps {
			fmt.Fprintf(w, "  - %s (%d%%)", s.AppName, int(math.Round(s.Confidence*100)))
			if s.Reasoning != "" {
				fmt.Fprintf(w, ": %s", s.Reasoning)
			}
			fmt.Fprintln(w)
		}
	}
	if len(ra.MainFlow) > 0 {
		fmt.Fprintln(w, colorize(colorBold, "Main flow"))
		writeSteps(w, "  ", ra.MainFlow)
	}
	if len(ra.UnhappyFlow) > 0 {
		fmt.Fprintln(w, colorize(colorBold, "Unhappy flow"))
		writeSteps(w, "  ", ra.UnhappyFlow)
	}
	for _, group := range []struct {
		title string
		flows []domain.NamedFlow
	}{{"Alternate flows", ra.AlternateFlows}, {"Negative flows", ra.NegativeFlows}} {
		if len(group.flows) == 0 {
			continue
		}
		fmt.Fprintln(w, colorize(colorBold, group.title))
		for _, f := range group.flows {
			fmt.Fprintf(w, "  %s\n", f.Name)
			writeSteps(w, "    ", f.Steps)
		}
	}
	writeList(w, "Acceptance criteria", ra.AcceptanceCriteria)
	writeList(w, "Risks", ra.Risks)
	if ra.Notes != "" {
		fmt.Fprintln(w, colorize(colorBold, "Notes"))
		fmt.Fprintf(w, "  %s\n", ra.Notes)
	}
}

// writeMessage prints one thread message. Analyses that fail to decode fall
// back to their raw content.
func writeMessage(w io.Writer, m domain.Message) {
	who := colorize(colorGreen, "you")
	if m.Role == domain.RoleAI {
		who = colorize(colorCyan, "ai")
	}
	fmt.Fprintf(w, "%s %s\n", who, colorize(colorDim, m.CreatedAt))

	if m.Message.Type == domain.TypeRequirementAnalysis {
		if ra, err := m.Message.Analysis(); err == nil {
			writeAnalysis(w, ra)
			fmt.Fprintln(w)
			return
		}
	}
	for _, line := range strings.Split(m.Message.Text(), "\n") {
		fmt.Fprintf(w, "  %s\n", line)
	}
	fmt.Fprintln(w)
}

// lastAIMessage returns the newest assistant message.
func lastAIMessage(msgs []domain.Message) (domain.Message, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == domain.RoleAI {
			return msgs[i], true
		}
	}
	return domain.Message{}, false
}
