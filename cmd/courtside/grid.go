package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/rs/zerolog/log"

	"github.com/codr1/courtside/internal/clubapi"
)

const gridLegend = ". free   - past   mine = yours   * short notice   held = temporary block"

// renderGrid prints one row per hour between openHour and closeHour and one column
// per court.
func renderGrid(w io.Writer, snapshot clubapi.AvailabilitySnapshot, openHour, closeHour int, stale bool) error {
	courts := snapshot.SortedCourts()

	header := snapshot.Date
	if stale {
		header += " (refreshing)"
	}
	if _, err := fmt.Fprintln(w, header); err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	cols := make([]string, 0, len(courts)+1)
	cols = append(cols, "")
	for _, court := range courts {
		cols = append(cols, fmt.Sprintf("C%d", court))
	}
	fmt.Fprintln(tw, strings.Join(cols, "\t"))

	for hour := openHour; hour < closeHour; hour++ {
		slot := fmt.Sprintf("%02d:00", hour)
		cols = cols[:0]
		cols = append(cols, slot)
		for _, court := range courts {
			cols = append(cols, cellFor(snapshot, court, slot))
		}
		fmt.Fprintln(tw, strings.Join(cols, "\t"))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintln(w, gridLegend)
	return err
}

func cellFor(snapshot clubapi.AvailabilitySnapshot, court int, slot string) string {
	entry, ok := snapshot.Entry(court, slot)
	if !ok {
		if snapshot.IsPast(slot) {
			return "-"
		}
		return "."
	}

	if !entry.Status.Valid() {
		log.Warn().Str("status", string(entry.Status)).Int("court", court).Str("time", slot).Msg("Unknown slot status")
		return "?"
	}

	mine := entry.Details != nil && entry.Details.ReservationID != nil
	switch entry.Status {
	case clubapi.StatusReserved:
		if mine {
			return "mine"
		}
		return "booked"
	case clubapi.StatusShortNotice:
		if mine {
			return "mine*"
		}
		return "booked*"
	case clubapi.StatusBlocked:
		return "blocked"
	case clubapi.StatusBlockedTemporary:
		return "held"
	}
	return "?"
}
