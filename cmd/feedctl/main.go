// Command feedctl manages feed subscriptions from the command line. It
// talks to the same store and broker as the syncer, so changes take
// effect on the next tick.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/spf13/pflag"

	"threadfeed/internal/config"
	"threadfeed/internal/domain"
	"threadfeed/internal/service"
	"threadfeed/internal/sink"
	"threadfeed/internal/source/fourchan"
	"threadfeed/internal/storage/postgres"
	"threadfeed/internal/storage/sqlite"
)

const usage = `Usage: feedctl [flags] <command> [args]

Commands:
  add <destination> <name> <url>         subscribe a destination to a thread
  remove <destination> <name>            drop a subscription
  embed <destination> <name> <mode>      set rendering override (on, off, inherit)
  list <destination>                     list a destination's feeds
  stats <destination> <name>             show one feed's stored state
  force <destination> <name>             re-deliver the thread's latest post
`

func main() {
	configPath := pflag.StringP("config", "c", "config.yaml", "path to config file")
	pflag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		pflag.PrintDefaults()
	}
	pflag.Parse()

	args := pflag.Args()
	if len(args) == 0 {
		pflag.Usage()
		os.Exit(2)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal("load config: %v", err)
	}

	svc, cleanup, err := buildService(cfg, logger)
	if err != nil {
		fatal("%v", err)
	}
	defer cleanup()

	ctx := context.Background()

	if err := run(ctx, svc, args); err != nil {
		fatal("%v", err)
	}
}

func run(ctx context.Context, svc *service.SyncService, args []string) error {
	cmd, rest := args[0], args[1:]

	switch cmd {
	case "add":
		if len(rest) != 3 {
			return errors.New("usage: feedctl add <destination> <name> <url>")
		}
		if err := svc.AddFeed(ctx, rest[0], rest[1], rest[2]); err != nil {
			return err
		}
		fmt.Printf("subscribed %s to %s\n", rest[0], rest[2])
		return nil

	case "remove":
		if len(rest) != 2 {
			return errors.New("usage: feedctl remove <destination> <name>")
		}
		if err := svc.RemoveFeed(ctx, rest[0], rest[1]); err != nil {
			return err
		}
		fmt.Printf("removed %s\n", rest[1])
		return nil

	case "embed":
		if len(rest) != 3 {
			return errors.New("usage: feedctl embed <destination> <name> <on|off|inherit>")
		}
		mode, err := domain.ParseEmbedMode(rest[2])
		if err != nil {
			return err
		}
		if err := svc.SetEmbedMode(ctx, rest[0], rest[1], mode); err != nil {
			return err
		}
		fmt.Printf("embed override for %s set to %s\n", rest[1], mode)
		return nil

	case "list":
		if len(rest) != 1 {
			return errors.New("usage: feedctl list <destination>")
		}
		feeds, err := svc.ListFeeds(ctx, rest[0])
		if err != nil {
			return err
		}
		if len(feeds) == 0 {
			fmt.Println("no feeds")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tURL\tLAST POST\tREPLIES\tEMBED\tARCHIVED")
		for _, f := range feeds {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%v\n",
				f.Name, f.Record.URL, f.Record.LastPostID,
				f.Record.ReplyCount, f.Record.EmbedOverride, f.Record.IsArchived)
		}
		return w.Flush()

	case "stats":
		if len(rest) != 2 {
			return errors.New("usage: feedctl stats <destination> <name>")
		}
		rec, err := svc.FeedStats(ctx, rest[0], rest[1])
		if err != nil {
			return err
		}
		fmt.Printf("url:              %s\n", rec.URL)
		fmt.Printf("last post:        %d\n", rec.LastPostID)
		fmt.Printf("replies:          %d\n", rec.ReplyCount)
		fmt.Printf("images:           %d\n", rec.ImageCount)
		fmt.Printf("last delivered:   %s\n", rec.LastDelivered)
		fmt.Printf("embed override:   %s\n", rec.EmbedOverride)
		fmt.Printf("archived:         %v\n", rec.IsArchived)
		fmt.Printf("sticky:           %v\n", rec.IsSticky)
		fmt.Printf("at bump limit:    %v\n", rec.IsAtBumpLimit)
		return nil

	case "force":
		if len(rest) != 2 {
			return errors.New("usage: feedctl force <destination> <name>")
		}
		post, err := svc.ForceFeed(ctx, rest[0], rest[1])
		if err != nil {
			return err
		}
		if post == nil {
			fmt.Println("thread is archived; archival notice sent")
			return nil
		}
		fmt.Printf("delivered post %d\n", post.Number)
		return nil

	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func buildService(cfg *config.Config, logger *slog.Logger) (*service.SyncService, func(), error) {
	var store service.FeedStore
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	switch cfg.Database.Driver {
	case "sqlite":
		s, err := sqlite.Open(cfg.Database.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open feed store: %w", err)
		}
		closers = append(closers, func() { s.Close() })
		store = s
	default:
		db, err := sqlx.Connect("postgres", cfg.Database.DSN())
		if err != nil {
			return nil, nil, fmt.Errorf("connect to database: %w", err)
		}
		closers = append(closers, func() { db.Close() })
		store = postgres.NewFeedStore(db)
	}

	rabbitMQ, err := sink.NewRabbitMQ(sink.Config{
		URL:                cfg.RabbitMQ.URL,
		Exchange:           cfg.RabbitMQ.Exchange,
		RoutingKey:         cfg.RabbitMQ.RoutingKey,
		QueueName:          cfg.RabbitMQ.QueueName,
		EmbedDefault:       cfg.RabbitMQ.EmbedDefault,
		EmbedByDestination: cfg.RabbitMQ.EmbedByDestination,
		AccentColor:        cfg.RabbitMQ.AccentColor,
	}, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	closers = append(closers, func() { rabbitMQ.Close() })

	source := fourchan.New(fourchan.Config{
		APIBaseURL:     cfg.Source.APIBaseURL,
		BoardsBaseURL:  cfg.Source.BoardsBaseURL,
		MediaBaseURL:   cfg.Source.MediaBaseURL,
		Timeout:        cfg.Source.Timeout,
		MaxAttempts:    cfg.Source.Retry.MaxAttempts,
		InitialBackoff: cfg.Source.Retry.InitialBackoff,
		MaxBackoff:     cfg.Source.Retry.MaxBackoff,
		BoardListTTL:   cfg.Source.BoardListTTL,
	}, logger)

	return service.NewSyncService(source, store, rabbitMQ, logger), cleanup, nil
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
