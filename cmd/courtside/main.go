// cmd/courtside/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/codr1/courtside/internal/availability"
	"github.com/codr1/courtside/internal/clubapi"
	"github.com/codr1/courtside/internal/config"
)

var errUsage = errors.New("usage")

const usage = `usage: courtside [-config path] <command> [args]

commands:
  grid [DATE]                        print availability for DATE (default today)
  book COURT DATE HH:MM [-for QUERY] book a court, optionally for another member
                                     (-for "" picks from your favorites)
  watch [DATE]                       keep the availability grid up to date
`

// setupLogger keeps the CLI quiet unless debug is on; logs go to stderr so they never
// mix with the grid.
func setupLogger(development, debug bool) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(zerolog.WarnLevel)
	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	if development {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}

type app struct {
	cfg    *config.Config
	client *clubapi.Client
	svc    *availability.Service
	in     io.Reader
	out    io.Writer
}

func newApp(cfg *config.Config, in io.Reader, out io.Writer) (*app, error) {
	if err := cfg.RequireToken(); err != nil {
		return nil, err
	}
	client, err := clubapi.New(clubapi.Config{
		BaseURL: cfg.Club.BaseURL,
		Token:   cfg.Club.Token,
		Timeout: cfg.Club.Timeout,
	})
	if err != nil {
		return nil, err
	}
	svc, err := availability.NewService(client, availability.Options{
		TTL:            cfg.Availability.TTL,
		InitialDays:    cfg.Availability.InitialDays,
		PrefetchOffset: cfg.Availability.PrefetchOffset,
		PrefetchDays:   cfg.Availability.PrefetchDays,
		Location:       cfg.Location(),
	})
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, client: client, svc: svc, in: in, out: out}, nil
}

func (a *app) run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	defer a.svc.Wait()

	switch args[0] {
	case "grid":
		return a.runGrid(ctx, args[1:])
	case "book":
		return a.runBook(ctx, args[1:])
	case "watch":
		return a.runWatch(ctx, args[1:])
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, args[0])
	}
}

// dateArg returns the optional DATE argument, defaulting to today.
func (a *app) dateArg(args []string) (string, error) {
	switch len(args) {
	case 0:
		return a.svc.Today(), nil
	case 1:
		if _, err := availability.ParseDate(args[0]); err != nil {
			return "", err
		}
		return args[0], nil
	default:
		return "", fmt.Errorf("%w: expected at most one DATE", errUsage)
	}
}

func (a *app) runGrid(ctx context.Context, args []string) error {
	date, err := a.dateArg(args)
	if err != nil {
		return err
	}
	result, err := a.svc.GetForDate(ctx, date)
	if err != nil {
		return err
	}
	return renderGrid(a.out, result.Snapshot, a.cfg.Club.OpenHour, a.cfg.Club.CloseHour, result.Stale)
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *configPath).Msg("Failed to load configuration")
	}
	setupLogger(cfg.IsDevelopment(), cfg.Features.EnableDebug)

	a, err := newApp(cfg, os.Stdin, os.Stdout)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to start courtside")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.run(ctx, flag.Args()); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprintln(os.Stderr, err)
			flag.Usage()
			os.Exit(2)
		}
		fmt.Fprintln(os.Stderr, "courtside:", err)
		os.Exit(1)
	}
}
