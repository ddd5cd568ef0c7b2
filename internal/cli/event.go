package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"secretsanta/internal/core"
	"secretsanta/pkg/domain"
)

// EventView summarizes the active event.
type EventView struct {
	ID           string `json:"id,omitempty"`
	Year         int    `json:"year"`
	Active       bool   `json:"active"`
	JoinClosed   bool   `json:"join_closed"`
	Participants int    `json:"participants"`
	Assigned     int    `json:"assigned"`
	Gifts        int    `json:"gifts"`
	Revision     int64  `json:"revision"`
}

func eventView(ev core.Event) EventView {
	return EventView{
		ID:           ev.ID,
		Year:         ev.Year,
		Active:       ev.Active,
		JoinClosed:   ev.JoinClosed,
		Participants: len(ev.Participants),
		Assigned:     len(ev.Assignments),
		Gifts:        len(ev.GiftSubmissions),
		Revision:     ev.Revision,
	}
}

func (v EventView) render(w io.Writer) {
	state := "inactive"
	switch {
	case v.Active && v.JoinClosed:
		state = "active, joining closed"
	case v.Active:
		state = "active, open for joining"
	}
	fmt.Fprintf(w, "Event %d (%s)\n", v.Year, state)
	fmt.Fprintf(w, "  participants: %d\n  assigned:     %d\n  gifts:        %d\n", v.Participants, v.Assigned, v.Gifts)
}

func newStartCommand(a *app) *cobra.Command {
	var year int
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a new event",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if year != 0 && !domain.ValidYear(year) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid year %d", year))
			}
			return a.with(cmd, func(ctx context.Context, rt *Runtime, out *OutputFormatter) error {
				ev, res, err := rt.Service.StartEvent(ctx, year)
				if err != nil {
					return err
				}
				view := eventView(ev)
				return out.Success(view, res, view.render)
			})
		},
	}
	cmd.Flags().IntVar(&year, "year", 0, "event year (defaults to the current year)")
	return cmd
}

func newJoinCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "join <id> [label...]",
		Short: "Add a participant to the active event",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.with(cmd, func(ctx context.Context, rt *Runtime, out *OutputFormatter) error {
				p, res, err := rt.Service.AddParticipant(ctx, args[0], strings.Join(args[1:], " "))
				if err != nil {
					return err
				}
				return out.Success(p, res, func(w io.Writer) {
					fmt.Fprintf(w, "%s joined as %q\n", p.ID, p.Label)
				})
			})
		},
	}
}

func newLeaveCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "leave <id>",
		Short: "Remove a participant before assignments are drawn",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.with(cmd, func(ctx context.Context, rt *Runtime, out *OutputFormatter) error {
				res, err := rt.Service.RemoveParticipant(ctx, args[0])
				if err != nil {
					return err
				}
				return out.Success(map[string]string{"removed": args[0]}, res, func(w io.Writer) {
					fmt.Fprintf(w, "%s left the event\n", args[0])
				})
			})
		},
	}
}

func newParticipantsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "participants",
		Short: "List participants of the active event",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.with(cmd, func(ctx context.Context, rt *Runtime, out *OutputFormatter) error {
				ps := rt.Service.Participants()
				return out.Success(ps, core.Result{}, func(w io.Writer) {
					if len(ps) == 0 {
						fmt.Fprintln(w, "no participants")
						return
					}
					for _, p := range ps {
						fmt.Fprintf(w, "%s\t%s\n", p.ID, p.Label)
					}
				})
			})
		},
	}
}

// AssignmentView is the outcome of an assignment run. Pairs are only
// included with --reveal.
type AssignmentView struct {
	Givers       int               `json:"givers"`
	Cycles       int               `json:"cycles"`
	Attempts     int               `json:"attempts"`
	RelaxedYears []int             `json:"relaxed_years,omitempty"`
	Assignments  map[string]string `json:"assignments,omitempty"`
}

func newAssignCommand(a *app) *cobra.Command {
	var reveal bool
	cmd := &cobra.Command{
		Use:   "assign",
		Short: "Draw assignments and close joining",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.with(cmd, func(ctx context.Context, rt *Runtime, out *OutputFormatter) error {
				outcome, res, err := rt.Service.RunAssignment(ctx)
				if err != nil {
					return err
				}
				view := AssignmentView{
					Givers:       len(outcome.Assignments),
					Cycles:       outcome.Cycles,
					Attempts:     outcome.Attempts,
					RelaxedYears: outcome.RelaxedYears,
				}
				if reveal {
					view.Assignments = outcome.Assignments
				}
				return out.Success(view, res, func(w io.Writer) {
					fmt.Fprintf(w, "assigned %d givers in %d attempt(s)\n", view.Givers, view.Attempts)
					if len(view.RelaxedYears) > 0 {
						fmt.Fprintf(w, "history relaxed for years %v\n", view.RelaxedYears)
					}
					for _, giver := range sortedIDs(view.Assignments) {
						fmt.Fprintf(w, "%s -> %s\n", giver, view.Assignments[giver])
					}
				})
			})
		},
	}
	cmd.Flags().BoolVar(&reveal, "reveal", false, "print every giver and receiver")
	return cmd
}

func newGifteeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "giftee <giver-id>",
		Short: "Show whom a participant gives to, with their wishlist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.with(cmd, func(ctx context.Context, rt *Runtime, out *OutputFormatter) error {
				p, items, err := rt.Service.GifteeWishlist(args[0])
				if err != nil {
					return err
				}
				data := struct {
					Receiver core.Participant `json:"receiver"`
					Wishlist []string         `json:"wishlist"`
				}{p, items}
				return out.Success(data, core.Result{}, func(w io.Writer) {
					fmt.Fprintf(w, "%s gives to %s\n", args[0], p.Label)
					renderItems(w, items)
				})
			})
		},
	}
}

func newCurrentCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "current",
		Short: "Show the active event",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.with(cmd, func(ctx context.Context, rt *Runtime, out *OutputFormatter) error {
				view := eventView(rt.Service.Current())
				return out.Success(view, core.Result{}, view.render)
			})
		},
	}
}

func newStopCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "stop",
		Aliases: []string{"archive"},
		Short:   "Archive the active event and reset",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.with(cmd, func(ctx context.Context, rt *Runtime, out *OutputFormatter) error {
				outcome, res, err := rt.Service.StopAndArchive(ctx)
				if err != nil {
					return err
				}
				data := map[string]any{"year": outcome.Record.Year, "archived_at": outcome.Record.ArchivedAt}
				if outcome.Collision != nil {
					data["side_file"] = outcome.Collision.SideKey
				}
				return out.Success(data, res, func(w io.Writer) {
					fmt.Fprintf(w, "archived %d\n", outcome.Record.Year)
				})
			})
		},
	}
}
