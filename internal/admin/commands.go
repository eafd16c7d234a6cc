package admin

import (
	"context"
	"errors"
	"fmt"
	"io"

	"tagapp/internal/notifications"
	"tagapp/internal/seed"
	"tagapp/internal/store"

	"github.com/spf13/cobra"
)

// resetChunk is the number of keys removed per BatchDelete call.
const resetChunk = 25

// ResetReport counts what reset removed per record prefix.
type ResetReport struct {
	Deleted     map[string]int `json:"deleted"`
	Unprocessed []string       `json:"unprocessed,omitempty"`
}

// Reset deletes every record under store.AllPrefixes in chunks of
// resetChunk keys. Keys a chunk could not delete are collected, not retried.
func Reset(ctx context.Context, st store.Store) (*ResetReport, error) {
	report := &ResetReport{Deleted: make(map[string]int)}
	for _, prefix := range store.AllPrefixes {
		records, err := st.Scan(ctx, prefix)
		if err != nil {
			return report, fmt.Errorf("scan %s: %w", prefix, err)
		}
		for start := 0; start < len(records); start += resetChunk {
			end := min(start+resetChunk, len(records))
			keys := make([]string, 0, end-start)
			for _, r := range records[start:end] {
				keys = append(keys, r.Key)
			}
			unprocessed, err := st.BatchDelete(ctx, keys)
			if err != nil && len(unprocessed) == 0 {
				return report, fmt.Errorf("delete %s: %w", prefix, err)
			}
			report.Deleted[prefix] += len(keys) - len(unprocessed)
			report.Unprocessed = append(report.Unprocessed, unprocessed...)
		}
	}
	return report, nil
}

func newResetCommand(opts *RootOptions) *cobra.Command {
	var confirm bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete every record in the store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirm {
				return errors.New("reset deletes all data; pass --yes to confirm")
			}
			return opts.withEnv(cmd, func(ctx context.Context, env *Env) error {
				report, err := Reset(ctx, env.Store)
				if err != nil {
					return err
				}
				return opts.print(cmd.OutOrStdout(), report, func(w io.Writer) {
					for _, prefix := range store.AllPrefixes {
						fmt.Fprintf(w, "%-18s %d deleted\n", prefix, report.Deleted[prefix])
					}
					if n := len(report.Unprocessed); n > 0 {
						fmt.Fprintf(w, "%d keys left unprocessed\n", n)
					}
				})
			})
		},
	}
	cmd.Flags().BoolVar(&confirm, "yes", false, "confirm deleting all records")
	return cmd
}

func newSeedCommand(opts *RootOptions) *cobra.Command {
	seedOpts := seed.Options{}
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create fake users, posts, likes and comments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withEnv(cmd, func(ctx context.Context, env *Env) error {
				res, err := seed.NewFactory(env.Services, seedOpts).Run(ctx)
				if err != nil {
					return err
				}
				return opts.print(cmd.OutOrStdout(), res, func(w io.Writer) {
					fmt.Fprintf(w, "users=%d posts=%d likes=%d saves=%d comments=%d tags=%d\n",
						res.Users, res.Posts, res.Likes, res.Saves, res.Comments, res.Tags)
				})
			})
		},
	}
	cmd.Flags().IntVar(&seedOpts.NumUsers, "users", 10, "number of users")
	cmd.Flags().IntVar(&seedOpts.PostsPerUser, "posts", 3, "posts per user")
	cmd.Flags().Int64Var(&seedOpts.Seed, "seed", 0, "random seed (0 = random)")
	return cmd
}

func newPropagateCommand(opts *RootOptions) *cobra.Command {
	var signal bool
	cmd := &cobra.Command{
		Use:   "propagate <userId>",
		Short: "Run a user's pending username repair",
		Long: `Run the pending username propagation task of a user to completion.

With --signal the task is handed to running servers over Redis instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID := args[0]
			return opts.withEnv(cmd, func(ctx context.Context, env *Env) error {
				if signal {
					if env.Redis == nil {
						return errors.New("--signal requires redis")
					}
					if err := notifications.NewNotifier(env.Redis).PublishPropagation(ctx, userID); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "signalled propagation for %s\n", userID)
					return nil
				}
				res, err := env.Services.Propagator.Run(ctx, userID)
				if err != nil {
					return err
				}
				return opts.print(cmd.OutOrStdout(), res, func(w io.Writer) {
					if res.Skipped {
						fmt.Fprintf(w, "no pending task for %s\n", userID)
						return
					}
					fmt.Fprintf(w, "scanned=%d patched=%d unchanged=%d superseded=%t\n",
						res.Scanned, res.Patched, res.Unchanged, res.Superseded)
				})
			})
		},
	}
	cmd.Flags().BoolVar(&signal, "signal", false, "signal running servers instead of running inline")
	return cmd
}

func newRankCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rank <userId>",
		Short: "Print a user's dense rank by post count",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withEnv(cmd, func(ctx context.Context, env *Env) error {
				rank, err := env.Services.Rank.Rank(ctx, args[0])
				if err != nil {
					return err
				}
				return opts.print(cmd.OutOrStdout(), rank, func(w io.Writer) {
					fmt.Fprintf(w, "rank %d of %d users (%d posts)\n", rank.Rank, rank.TotalUsers, rank.TagCount)
				})
			})
		},
	}
}
