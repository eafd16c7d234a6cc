// Package admin implements the tagapp maintenance CLI.
package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"tagapp/internal/cache"
	"tagapp/internal/config"
	"tagapp/internal/notifications"
	"tagapp/internal/observability"
	"tagapp/internal/service"
	"tagapp/internal/store"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

// ValidFormats lists the accepted --format values.
var ValidFormats = []string{"text", "json"}

// Env is what the commands operate on.
type Env struct {
	Config   *config.Config
	Store    store.Store
	Redis    *redis.Client
	Services *service.Services
}

// Close releases the store and, when it is not the store's own client,
// Redis.
func (e *Env) Close() error {
	err := e.Store.Close()
	if e.Redis != nil && e.Config.StoreDriver != config.DriverRedis {
		if rerr := e.Redis.Close(); err == nil {
			err = rerr
		}
	}
	return err
}

// Opener builds the Env for one command invocation.
type Opener func(ctx context.Context) (*Env, error)

// OpenFromConfig loads configuration and opens the configured store.
// Propagation always runs inline here: the CLI has no background worker.
func OpenFromConfig(ctx context.Context) (*Env, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	observability.InitLogger(os.Stderr, cfg.Env, cfg.LogLevel)

	rdb, err := cache.NewClient(ctx, cfg.RedisURL)
	if err != nil {
		if cfg.StoreDriver == config.DriverRedis {
			return nil, err
		}
		rdb = nil
	}
	st, err := store.Open(ctx, cfg, rdb)
	if err != nil {
		if rdb != nil {
			_ = rdb.Close()
		}
		return nil, err
	}

	var publisher service.Publisher
	if rdb != nil {
		publisher = notifications.NewNotifier(rdb)
	}
	pcfg := service.PropagatorConfigFrom(cfg)
	pcfg.Mode = config.PropagationSync
	return &Env{
		Config:   cfg,
		Store:    st,
		Redis:    rdb,
		Services: service.NewServices(st, publisher, pcfg),
	}, nil
}

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Format string
	open   Opener
}

func (o *RootOptions) withEnv(cmd *cobra.Command, fn func(ctx context.Context, env *Env) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	env, err := o.open(ctx)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if cerr := env.Close(); cerr != nil {
			observability.Logger.Warn("close failed", slog.String("error", cerr.Error()))
		}
	}()
	return fn(ctx, env)
}

// print writes v as indented JSON or, in text mode, with text.
func (o *RootOptions) print(w io.Writer, v any, text func(io.Writer)) error {
	if o.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}

// NewRootCommand creates the admin CLI. open is called once per command.
func NewRootCommand(open Opener) *cobra.Command {
	opts := &RootOptions{open: open}

	cmd := &cobra.Command{
		Use:   "tagapp-admin",
		Short: "Maintenance commands for the tagapp record store",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			for _, f := range ValidFormats {
				if f == opts.Format {
					return nil
				}
			}
			return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
		},
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(newResetCommand(opts))
	cmd.AddCommand(newSeedCommand(opts))
	cmd.AddCommand(newPropagateCommand(opts))
	cmd.AddCommand(newRankCommand(opts))
	return cmd
}
