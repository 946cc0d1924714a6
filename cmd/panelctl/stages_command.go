package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"example.com/panelstages/internal/domain"
	"example.com/panelstages/internal/stage"
)

func newStagesCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stages <panel.json|->",
		Short: "Show stage status for a panel record on disk",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := ctx.readPanel(args[0])
			if err != nil {
				return err
			}
			return ctx.printStages(cmd.OutOrStdout(), p)
		},
	}
}

func newFetchCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "fetch <panel-id>",
		Short: "Fetch a panel from the API and show its stage status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := ctx.fetch(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return ctx.printStages(cmd.OutOrStdout(), p)
		},
	}
}

func newCanCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "can <panel.json|-> <stage>",
		Short: "Exit 0 if the stage is open, 1 if not, 2 if the stage does not exist",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := ctx.readPanel(args[0])
			if err != nil {
				return err
			}
			now, err := ctx.instant()
			if err != nil {
				return err
			}
			st, err := stage.StatusOf(p, args[1], now)
			if err != nil {
				return err
			}
			if st.Status != stage.StatusOpen {
				return notAllowedError{stage: args[1], status: st.Status}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stage %s is open\n", args[1])
			return nil
		},
	}
}

func newLocalesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "locales",
		Short: "List locales with dedicated date formatting",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sample := time.Date(2024, time.January, 10, 15, 4, 0, 0, time.UTC)
			rows := make([][]string, 0)
			for _, l := range stage.SupportedLocales() {
				rows = append(rows, []string{l, stage.FormatDeadline(sample, l), stage.FormatDeadlineTime(sample, l)})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Locale", "Date", "Date and time"}, rows))
			return nil
		},
	}
}

type stageJSON struct {
	PanelID  string      `json:"panel_id"`
	Name     string      `json:"panel_name"`
	At       time.Time   `json:"at"`
	Locale   string      `json:"locale"`
	Stages   []stageLine `json:"stages"`
	Current  string      `json:"current_stage,omitempty"`
	Warnings []string    `json:"warnings,omitempty"`
}

type stageLine struct {
	stage.StageStatus
	Display string `json:"deadline_display,omitempty"`
}

func (c *commandContext) printStages(w io.Writer, p domain.Panel) error {
	now, err := c.instant()
	if err != nil {
		return err
	}
	requested, err := c.locale()
	if err != nil {
		return err
	}
	locale := stage.ResolveLocale(requested).String()
	stages := stage.DeriveStages(p, now)

	out := stageJSON{PanelID: p.ID, Name: p.Name, At: now, Locale: locale, Warnings: orderWarnings(stages)}
	if cur, ok := stage.Current(stages); ok {
		out.Current = cur.Key
	}
	for _, s := range stages {
		line := stageLine{StageStatus: s}
		if s.Deadline != nil {
			line.Display = stage.FormatDeadlineTime(*s.Deadline, locale)
		}
		out.Stages = append(out.Stages, line)
	}

	if c.jsonFlag {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	fmt.Fprintf(w, "%s (%s) at %s\n", p.Name, p.ID, stage.FormatDeadlineTime(now, locale))
	rows := make([][]string, 0, len(out.Stages))
	for _, l := range out.Stages {
		deadline := "-"
		if l.Display != "" {
			deadline = l.Display
		}
		nav := "no"
		if l.Status == stage.StatusOpen {
			nav = "yes"
		}
		rows = append(rows, []string{l.Title, string(l.Status), deadline, nav})
	}
	fmt.Fprintln(w, renderTable([]string{"Stage", "Status", "Deadline", "Navigable"}, rows))
	for _, warn := range out.Warnings {
		fmt.Fprintln(w, "warning:", warn)
	}
	return nil
}

// orderWarnings flags deadlines that run backwards. They are still honored per stage.
func orderWarnings(stages []stage.StageStatus) []string {
	var out []string
	var prev *stage.StageStatus
	for i := range stages {
		s := &stages[i]
		if s.Deadline == nil {
			continue
		}
		if prev != nil && s.Deadline.Before(*prev.Deadline) {
			out = append(out, fmt.Sprintf("%s deadline is before %s deadline", strings.ToLower(s.Title), strings.ToLower(prev.Title)))
		}
		prev = s
	}
	return out
}
