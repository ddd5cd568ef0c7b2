package cli

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"secretsanta/internal/core"
)

// YearView summarizes one archived year.
type YearView struct {
	Year         int               `json:"year"`
	ArchivedAt   string            `json:"archived_at"`
	Participants map[string]string `json:"participants"`
	Pairs        []PairView        `json:"pairs"`
}

// PairView is a giver and receiver with the gift, if one was recorded.
type PairView struct {
	Giver    string `json:"giver"`
	Receiver string `json:"receiver"`
	Gift     string `json:"gift,omitempty"`
}

func yearView(rec core.ArchiveRecord) YearView {
	ev := rec.Event
	v := YearView{
		Year:         rec.Year,
		ArchivedAt:   rec.ArchivedAt.UTC().Format("2006-01-02T15:04:05Z"),
		Participants: ev.Participants,
	}
	for _, giver := range sortedIDs(ev.Assignments) {
		v.Pairs = append(v.Pairs, PairView{
			Giver:    giver,
			Receiver: ev.Assignments[giver],
			Gift:     ev.GiftSubmissions[giver].Gift,
		})
	}
	return v
}

func (v YearView) render(w io.Writer) {
	fmt.Fprintf(w, "%d: %d participants\n", v.Year, len(v.Participants))
	for _, p := range v.Pairs {
		line := fmt.Sprintf("  %s -> %s", label(v.Participants, p.Giver), label(v.Participants, p.Receiver))
		if p.Gift != "" {
			line += ": " + p.Gift
		}
		fmt.Fprintln(w, line)
	}
}

func label(labels map[string]string, id string) string {
	if l := labels[id]; l != "" {
		return l
	}
	return id
}

func newHistoryCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "history [year]",
		Short: "Show archived years",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				year, err := parseYear(args[0])
				if err != nil {
					return err
				}
				return a.with(cmd, func(ctx context.Context, rt *Runtime, out *OutputFormatter) error {
					rec, err := rt.Service.HistoryYear(ctx, year)
					if err != nil {
						return err
					}
					view := yearView(rec)
					return out.Success(view, core.Result{}, view.render)
				})
			}
			return a.with(cmd, func(ctx context.Context, rt *Runtime, out *OutputFormatter) error {
				recs, err := rt.Service.History(ctx)
				if err != nil {
					return err
				}
				views := make([]YearView, 0, len(recs))
				for _, rec := range recs {
					views = append(views, yearView(rec))
				}
				return out.Success(views, core.Result{}, func(w io.Writer) {
					if len(views) == 0 {
						fmt.Fprintln(w, "no archived years")
					}
					for _, v := range views {
						v.render(w)
					}
				})
			})
		},
	}
}

func newUserHistoryCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "user-history <id>",
		Short: "Show whom a participant gave to and received from each year",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.with(cmd, func(ctx context.Context, rt *Runtime, out *OutputFormatter) error {
				years, err := rt.Service.UserHistory(ctx, args[0])
				if err != nil {
					return err
				}
				return out.Success(years, core.Result{}, func(w io.Writer) {
					if len(years) == 0 {
						fmt.Fprintf(w, "no history for %s\n", args[0])
					}
					for _, y := range years {
						fmt.Fprintf(w, "%d: gave to %s, received from %s\n", y.Year, orDash(y.GaveToLabel), orDash(y.ReceivedLabel))
					}
				})
			})
		},
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func newBackupsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "backups <year>",
		Short: "List backup copies kept for a year",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			year, err := parseYear(args[0])
			if err != nil {
				return err
			}
			return a.with(cmd, func(ctx context.Context, rt *Runtime, out *OutputFormatter) error {
				infos, err := rt.Service.Backups(ctx, year)
				if err != nil {
					return err
				}
				sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
				return out.Success(infos, core.Result{}, func(w io.Writer) {
					if len(infos) == 0 {
						fmt.Fprintf(w, "no backups for %d\n", year)
					}
					for _, info := range infos {
						fmt.Fprintf(w, "%s\t%d bytes\n", info.Key, info.Size)
					}
				})
			})
		},
	}
}

func newDeleteCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <year>",
		Short: "Move an archived year into the backup area",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			year, err := parseYear(args[0])
			if err != nil {
				return err
			}
			return a.with(cmd, func(ctx context.Context, rt *Runtime, out *OutputFormatter) error {
				key, err := rt.Service.DeleteYear(ctx, year)
				if err != nil {
					return err
				}
				return out.Success(map[string]any{"year": year, "backup": key}, core.Result{}, func(w io.Writer) {
					fmt.Fprintf(w, "%d moved to %s\n", year, key)
				})
			})
		},
	}
}

func newRestoreCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <year>",
		Short: "Restore the latest backup of a year",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			year, err := parseYear(args[0])
			if err != nil {
				return err
			}
			return a.with(cmd, func(ctx context.Context, rt *Runtime, out *OutputFormatter) error {
				key, err := rt.Service.RestoreYear(ctx, year)
				if err != nil {
					return err
				}
				return out.Success(map[string]any{"year": year, "restored_from": key}, core.Result{}, func(w io.Writer) {
					fmt.Fprintf(w, "%d restored from %s\n", year, key)
				})
			})
		},
	}
}

func newBackupCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "backup",
		Short: "Copy the active event state to its backup",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.with(cmd, func(ctx context.Context, rt *Runtime, out *OutputFormatter) error {
				if err := rt.Service.BackupState(ctx); err != nil {
					return err
				}
				return out.Success(map[string]bool{"backed_up": true}, core.Result{}, func(w io.Writer) {
					fmt.Fprintln(w, "state backed up")
				})
			})
		},
	}
}

func newServeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run scheduled backups and expose /metrics until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.with(cmd, func(ctx context.Context, rt *Runtime, out *OutputFormatter) error {
				if rt.Serve == nil {
					return fmt.Errorf("serve is not available in this runtime")
				}
				out.VerboseLog("serving")
				return rt.Serve(ctx)
			})
		},
	}
}
