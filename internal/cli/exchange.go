package cli

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"secretsanta/internal/core"
)

func newGiftCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "gift <giver-id> <description...>",
		Short: "Record the gift a participant gave",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.with(cmd, func(ctx context.Context, rt *Runtime, out *OutputFormatter) error {
				gift, res, err := rt.Service.RecordGift(ctx, args[0], strings.Join(args[1:], " "))
				if err != nil {
					return err
				}
				return out.Success(gift, res, func(w io.Writer) {
					fmt.Fprintf(w, "recorded gift for %s: %s\n", gift.ReceiverLabel, gift.Gift)
				})
			})
		},
	}
}

func newGiftsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "gifts",
		Short: "List the gifts recorded for the active event",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.with(cmd, func(ctx context.Context, rt *Runtime, out *OutputFormatter) error {
				gifts, err := rt.Service.Gifts()
				if err != nil {
					return err
				}
				return out.Success(gifts, core.Result{}, func(w io.Writer) {
					if len(gifts) == 0 {
						fmt.Fprintln(w, "no gifts recorded yet")
						return
					}
					for _, g := range gifts {
						fmt.Fprintf(w, "%s -> %s: %s\n", g.Giver.Label, g.Receiver.Label, g.Gift)
					}
				})
			})
		},
	}
}

func newThreadsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "threads",
		Aliases: []string{"comms"},
		Short:   "List the anonymous message threads of the active event",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.with(cmd, func(ctx context.Context, rt *Runtime, out *OutputFormatter) error {
				threads, err := rt.Service.Communications()
				if err != nil {
					return err
				}
				return out.Success(threads, core.Result{}, func(w io.Writer) {
					if len(threads) == 0 {
						fmt.Fprintln(w, "no messages exchanged yet")
						return
					}
					for _, th := range threads {
						fmt.Fprintf(w, "%s -> %s (%d messages)\n", th.Giver.Label, th.Giftee.Label, len(th.Messages))
						for _, m := range th.Messages {
							fmt.Fprintf(w, "  %s: %s\n", m.Type, m.Message)
						}
					}
				})
			})
		},
	}
}

func newAskCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ask <giver-id> <question...>",
		Short: "Send an anonymous question to the giver's receiver",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.with(cmd, func(ctx context.Context, rt *Runtime, out *OutputFormatter) error {
				msg, res, err := rt.Service.AskGiftee(ctx, args[0], strings.Join(args[1:], " "))
				if err != nil {
					return err
				}
				return out.Success(msg, res, func(w io.Writer) {
					fmt.Fprintln(w, "question sent")
				})
			})
		},
	}
}

func newReplyCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reply <receiver-id> <answer...>",
		Short: "Answer the participant's Secret Santa",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.with(cmd, func(ctx context.Context, rt *Runtime, out *OutputFormatter) error {
				msg, res, err := rt.Service.ReplySanta(ctx, args[0], strings.Join(args[1:], " "))
				if err != nil {
					return err
				}
				return out.Success(msg, res, func(w io.Writer) {
					fmt.Fprintln(w, "reply sent")
				})
			})
		},
	}
}

func newWishlistCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wishlist",
		Short: "Show or edit a participant's wishlist",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "show <id>",
			Short: "Print the wishlist",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.with(cmd, func(ctx context.Context, rt *Runtime, out *OutputFormatter) error {
					items, err := rt.Service.Wishlist(args[0])
					if err != nil {
						return err
					}
					return out.Success(items, core.Result{}, func(w io.Writer) { renderItems(w, items) })
				})
			},
		},
		&cobra.Command{
			Use:   "add <id> <item...>",
			Short: "Append an item",
			Args:  cobra.MinimumNArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.with(cmd, func(ctx context.Context, rt *Runtime, out *OutputFormatter) error {
					items, res, err := rt.Service.AddWishlistItem(ctx, args[0], strings.Join(args[1:], " "))
					return wishlistResult(out, items, res, err)
				})
			},
		},
		&cobra.Command{
			Use:   "remove <id> <index>",
			Short: "Remove the item at a 1-based position",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				index, err := strconv.Atoi(args[1])
				if err != nil {
					return NewExitError(ExitCommandError, fmt.Sprintf("invalid index %q", args[1]))
				}
				return a.with(cmd, func(ctx context.Context, rt *Runtime, out *OutputFormatter) error {
					items, res, err := rt.Service.RemoveWishlistItem(ctx, args[0], index)
					return wishlistResult(out, items, res, err)
				})
			},
		},
		&cobra.Command{
			Use:   "set <id> [item...]",
			Short: "Replace the wishlist; each argument is one item",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.with(cmd, func(ctx context.Context, rt *Runtime, out *OutputFormatter) error {
					items, res, err := rt.Service.SetWishlist(ctx, args[0], args[1:])
					return wishlistResult(out, items, res, err)
				})
			},
		},
		&cobra.Command{
			Use:   "clear <id>",
			Short: "Remove every item",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.with(cmd, func(ctx context.Context, rt *Runtime, out *OutputFormatter) error {
					res, err := rt.Service.ClearWishlist(ctx, args[0])
					return wishlistResult(out, []string{}, res, err)
				})
			},
		},
	)
	return cmd
}

func wishlistResult(out *OutputFormatter, items []string, res core.Result, err error) error {
	if err != nil {
		return err
	}
	return out.Success(items, res, func(w io.Writer) { renderItems(w, items) })
}

func renderItems(w io.Writer, items []string) {
	if len(items) == 0 {
		fmt.Fprintln(w, "wishlist is empty")
		return
	}
	for i, item := range items {
		fmt.Fprintf(w, "%d. %s\n", i+1, item)
	}
}

func sortedIDs(m map[string]string) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
