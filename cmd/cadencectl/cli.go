package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"cadence/api/internal/board"
	"cadence/api/internal/config"
	cerrors "cadence/api/internal/errors"
	"cadence/api/internal/item"
	"cadence/api/internal/pipeline"
	"cadence/api/internal/remote"
)

// opener connects to the document store named by the global flags.
type opener func(c *cli.Context) (remote.DocumentStore, error)

// newCLIApp creates the CLI application with all commands.
func newCLIApp(cfg config.Config, open opener, out io.Writer) *cli.App {
	app := &cli.App{
		Name:    "cadencectl",
		Usage:   "Inspect and schedule cards on a content calendar",
		Version: Version,
		Writer:  out,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "redis", Value: cfg.RedisURL, EnvVars: []string{"REDIS_URL"}, Usage: "Redis URL of the document store"},
			&cli.StringFlag{Name: "project", Aliases: []string{"p"}, Required: true, Usage: "Project id"},
			&cli.StringFlag{Name: "instance", Aliases: []string{"i"}, Value: string(item.Instagram), Usage: "Calendar instance: instagram|fbig|tiktok"},
			&cli.StringFlag{Name: "surface", Value: string(board.SurfaceDesktop), Usage: "Capacity rules: desktop|mobile"},
			&cli.StringFlag{Name: "actor", Value: "cadencectl", Usage: "Name recorded on moves"},
		},
		Commands: []*cli.Command{
			slotsCmd(cfg, open, out),
			moveCmd(cfg, open, out),
			watchCmd(cfg, open, out),
			statusCmd(cfg, open, out),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// withBoard opens a headless board, loads it and hands it to fn.
func withBoard(c *cli.Context, cfg config.Config, open opener, fn func(ctx context.Context, b *board.Board) error) error {
	surface, err := board.ParseSurface(c.String("surface"))
	if err != nil {
		return outputError(err)
	}
	instance, err := item.ParseInstance(c.String("instance"))
	if err != nil {
		return outputError(cerrors.NewInvalidRequest(err.Error()))
	}

	docs, err := open(c)
	if err != nil {
		return outputError(err)
	}
	defer docs.Close()

	capacity := cfg.DesktopCapacity
	if surface == board.SurfaceMobile {
		capacity = cfg.MobileCapacity
	}
	b, err := board.New(board.Options{
		Path:        remote.Path{ProjectID: c.String("project"), Instance: instance},
		Surface:     surface,
		Capacity:    capacity,
		Docs:        docs,
		Actor:       c.String("actor"),
		Debounce:    cfg.Debounce,
		MaxWait:     cfg.MaxWait,
		InFlightTTL: cfg.InFlightTTL,
		MaxAttempts: cfg.MaxAttempts,
		BaseBackoff: cfg.BaseBackoff,
		Notifier:    stderrNotifier{w: c.App.ErrWriter},
		Logger:      cfg.Logger(),
	})
	if err != nil {
		return outputError(err)
	}
	defer b.Close()

	ctx := c.Context
	if ctx == nil {
		ctx = context.Background()
	}
	if err := b.Load(ctx); err != nil {
		return outputError(err)
	}
	if err := fn(ctx, b); err != nil {
		return outputError(err)
	}
	return nil
}

// slotsCmd creates the slots command.
func slotsCmd(cfg config.Config, open opener, out io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "slots",
		Usage: "Print the scheduled days and the pool",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "day", Aliases: []string{"d"}, Usage: "Only print one day (slot key or YYYY-MM-DD)"},
		},
		Action: func(c *cli.Context) error {
			return withBoard(c, cfg, open, func(_ context.Context, b *board.Board) error {
				if raw := c.String("day"); raw != "" {
					key, err := parseLocation(raw)
					if err != nil {
						return err
					}
					return outputJSON(out, board.SlotView{Key: key, Items: nonNil(b.Slot(key)), Full: len(b.Slot(key)) >= b.Capacity()})
				}
				return outputJSON(out, b.View())
			})
		},
	}
}

// moveCmd creates the move command.
func moveCmd(cfg config.Config, open opener, out io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "move",
		Usage: "Move a card to a day or back to the pool",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "item", Required: true, Usage: "Card id"},
			&cli.StringFlag{Name: "to", Required: true, Usage: "Target: pool, a slot key (2024-2-14) or YYYY-MM-DD"},
			&cli.DurationFlag{Name: "timeout", Value: 15 * time.Second, Usage: "How long to wait for the write"},
		},
		Action: func(c *cli.Context) error {
			target, err := parseLocation(c.String("to"))
			if err != nil {
				return outputError(err)
			}
			return withBoard(c, cfg, open, func(ctx context.Context, b *board.Board) error {
				pending, err := b.Move(ctx, c.String("item"), target)
				if err != nil {
					return err
				}
				waitCtx, cancel := context.WithTimeout(ctx, c.Duration("timeout"))
				defer cancel()
				if err := pending.Wait(waitCtx); err != nil {
					return err
				}
				moved, _ := b.Item(pending.ItemID)
				return outputJSON(out, map[string]any{"item": moved, "noop": pending.NoOp()})
			})
		},
	}
}

// watchCmd creates the watch command.
func watchCmd(cfg config.Config, open opener, out io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Stream the board as JSON lines whenever it changes",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "count", Usage: "Stop after this many views (0 = until interrupted)"},
		},
		Action: func(c *cli.Context) error {
			return withBoard(c, cfg, open, func(ctx context.Context, b *board.Board) error {
				ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
				defer stop()
				ctx, cancel := context.WithCancel(ctx)
				defer cancel()

				views := make(chan board.View, 16)
				var last uint64
				unwatch := b.Watch(func(v board.View) {
					select {
					case views <- v:
					default:
					}
				})
				defer unwatch()

				errCh := make(chan error, 1)
				go func() { errCh <- b.Run(ctx) }()

				enc := json.NewEncoder(out)
				emit := func(v board.View) error {
					last = v.Version
					return enc.Encode(v)
				}
				if err := emit(b.View()); err != nil {
					return err
				}
				printed, limit := 1, c.Int("count")
				for limit <= 0 || printed < limit {
					select {
					case v := <-views:
						if v.Version == last {
							continue
						}
						if err := emit(v); err != nil {
							return err
						}
						printed++
					case err := <-errCh:
						return err
					}
				}
				cancel()
				return <-errCh
			})
		},
	}
}

// statusCmd creates the status command.
func statusCmd(cfg config.Config, open opener, out io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Set the instance's status label",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "label", Aliases: []string{"l"}, Required: true, Usage: "Status label"},
		},
		Action: func(c *cli.Context) error {
			return withBoard(c, cfg, open, func(ctx context.Context, b *board.Board) error {
				if err := b.SetStatus(ctx, c.String("label")); err != nil {
					return err
				}
				return outputJSON(out, map[string]any{"ok": true, "label": strings.TrimSpace(c.String("label"))})
			})
		},
	}
}

// parseLocation accepts "pool", a slot key or an ISO date.
func parseLocation(raw string) (item.Location, error) {
	raw = strings.TrimSpace(raw)
	if day, err := time.Parse("2006-01-02", raw); err == nil {
		return item.SlotKeyForDate(day), nil
	}
	loc, err := item.ParseLocation(raw)
	if err != nil {
		return "", cerrors.NewInvalidTarget(raw)
	}
	return loc, nil
}

func nonNil(items []item.Item) []item.Item {
	if items == nil {
		return []item.Item{}
	}
	return items
}

// stderrNotifier prints toasts; the CLI sends no collaboration email.
type stderrNotifier struct {
	w io.Writer
}

func (n stderrNotifier) Toast(level, message string) {
	if n.w == nil {
		n.w = os.Stderr
	}
	fmt.Fprintf(n.w, "%s: %s\n", level, message)
}

func (stderrNotifier) Notify(context.Context, pipeline.Event) error { return nil }

func outputJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	if _, ok := err.(cli.ExitCoder); ok {
		return err
	}
	if cErr, ok := cerrors.As(err); ok {
		return cli.Exit(fmt.Sprintf("[%s] %s", cErr.Code, cErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}
