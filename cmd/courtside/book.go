package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/codr1/courtside/internal/booking"
	"github.com/codr1/courtside/internal/clubapi"
)

var (
	errAborted     = errors.New("booking aborted")
	errHardBlocked = errors.New("an active short-notice reservation blocks new bookings")
)

// prompter reads answers line by line. EOF counts as an empty answer.
type prompter struct {
	scanner *bufio.Scanner
	out     io.Writer
}

func (p *prompter) ask(format string, args ...any) string {
	fmt.Fprintf(p.out, format, args...)
	if !p.scanner.Scan() {
		return ""
	}
	return strings.TrimSpace(p.scanner.Text())
}

func (a *app) runBook(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("book", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	forQuery := fs.String("for", "", "book on behalf of the member matching this name, email or phone; empty lists favorites")

	// Flags may come before or after the three positional arguments.
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	rest := fs.Args()
	if len(rest) < 3 {
		return fmt.Errorf("%w: book needs COURT DATE HH:MM", errUsage)
	}
	positional := rest[:3]
	if err := fs.Parse(rest[3:]); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("%w: unexpected arguments %v", errUsage, fs.Args())
	}

	court, err := strconv.Atoi(positional[0])
	if err != nil || court <= 0 {
		return fmt.Errorf("%w: COURT must be a court number", errUsage)
	}
	// Court ids and court numbers coincide on the club API.
	slot := booking.Slot{
		CourtID:     int64(court),
		CourtNumber: court,
		Date:        positional[1],
		StartTime:   positional[2],
	}

	dialog, err := booking.Open(slot, a.client, booking.Options{
		Directory: a.client,
		OnSuccess: func(ctx context.Context, r clubapi.Reservation) {
			if _, err := a.svc.FetchSingle(ctx, r.Date); err != nil {
				fmt.Fprintf(a.out, "warning: could not refresh %s: %v\n", r.Date, err)
			}
		},
		OnCancelled: func(ctx context.Context, session clubapi.ActiveSession) {
			a.svc.RefreshInBackground(ctx, session.Date)
		},
	})
	if err != nil {
		return err
	}

	p := &prompter{scanner: bufio.NewScanner(a.in), out: a.out}

	forSet := false
	fs.Visit(func(f *flag.Flag) { forSet = forSet || f.Name == "for" })
	if forSet {
		if err := chooseMember(ctx, dialog, p, *forQuery); err != nil {
			return err
		}
	}

	if err := dialog.Submit(ctx); err != nil {
		return err
	}
	return resolve(ctx, dialog, p, a.out)
}

// chooseMember searches the directory and picks a member, asking when several match.
// An empty query offers the caller's favorites.
func chooseMember(ctx context.Context, dialog *booking.Dialog, p *prompter, query string) error {
	if err := dialog.Search(ctx, query); err != nil {
		return fmt.Errorf("search members: %w", err)
	}
	matches := dialog.Picker().Visible()
	switch len(matches) {
	case 0:
		if strings.TrimSpace(query) == "" {
			return errors.New("you have no favorite members")
		}
		return fmt.Errorf("no member matches %q", query)
	case 1:
		return pick(dialog, 0)
	}

	for i, m := range matches {
		fmt.Fprintf(p.out, "  %d) %s\n", i+1, m.DisplayName())
	}
	answer := p.ask("Book for which member? [1-%d] ", len(matches))
	n, err := strconv.Atoi(answer)
	if err != nil || n < 1 || n > len(matches) {
		return errAborted
	}
	return pick(dialog, n-1)
}

// pick highlights row index with the keyboard and selects it.
func pick(dialog *booking.Dialog, index int) error {
	for i := 0; i <= index; i++ {
		if err := dialog.Key(booking.KeyDown); err != nil {
			return err
		}
	}
	return dialog.Key(booking.KeyEnter)
}

// resolve walks the dialog until it closes, asking the user how to clear a
// booking-limit conflict.
func resolve(ctx context.Context, dialog *booking.Dialog, p *prompter, out io.Writer) error {
	for {
		switch state := dialog.State().(type) {
		case booking.ClosedState:
			r := state.Reservation
			fmt.Fprintf(out, "Booked court %d on %s at %s (reservation %d)", r.CourtNumber, r.Date, r.StartTime, r.ID)
			if r.IsShortNotice {
				fmt.Fprint(out, ", short notice: this booking cannot be cancelled")
			}
			fmt.Fprintln(out)
			return nil

		case booking.FormState:
			if state.Error != "" {
				return errors.New(state.Error)
			}
			return errAborted

		case booking.ConflictState:
			printSessions(out, state)
			if state.HardBlocked() {
				return errHardBlocked
			}
			cancellable := state.Cancellable()
			answer := p.ask("Cancel which reservation to make room? [1-%d, blank to give up] ", len(cancellable))
			n, err := strconv.Atoi(answer)
			if err != nil || n < 1 || n > len(cancellable) {
				dialog.Close()
				return errAborted
			}
			if err := dialog.SelectSession(cancellable[n-1].ID); err != nil {
				return err
			}

		case booking.ConfirmCancelState:
			if state.Error != "" {
				fmt.Fprintf(out, "Cancellation failed: %s\n", state.Error)
			}
			s := state.Selected
			answer := p.ask("Cancel court %d on %s at %s and book again? [y/N] ", s.CourtNumber, s.Date, s.StartTime)
			if !strings.EqualFold(answer, "y") && !strings.EqualFold(answer, "yes") {
				if err := dialog.Back(); err != nil {
					return err
				}
				continue
			}
			if err := dialog.ConfirmCancel(ctx); err != nil {
				// The dialog stays on the confirmation with the error; ask again.
				continue
			}

		default:
			return fmt.Errorf("booking dialog stuck in %s", state.Step())
		}
	}
}

func printSessions(out io.Writer, state booking.ConflictState) {
	if state.HardBlocked() {
		fmt.Fprintln(out, "You hold a short-notice reservation. No other bookings are allowed until it has started:")
	} else {
		fmt.Fprintln(out, "You have reached the booking limit. Active reservations:")
	}
	n := 0
	for _, s := range state.Sessions {
		label := "   "
		if state.CanCancel(s.ID) {
			n++
			label = fmt.Sprintf("%2d)", n)
		}
		owner := ""
		if s.Owner != "" && s.Owner != "self" {
			owner = " for " + s.Owner
		}
		notice := ""
		if s.IsShortNotice {
			notice = " (short notice)"
		}
		fmt.Fprintf(out, "  %s court %d on %s at %s%s%s\n", label, s.CourtNumber, s.Date, s.StartTime, owner, notice)
	}
}
