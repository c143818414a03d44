package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"mentorhub/pkg/bookings"
	"mentorhub/pkg/domain"
	"mentorhub/pkg/paging"
)

const defaultPageSize = 10

type pageFlags struct {
	page int
	size int
}

func parsePageFlags(name string, args []string) (pageFlags, []string, error) {
	fs := newFlags(name)
	var pf pageFlags
	fs.IntVar(&pf.page, "page", 1, "page number")
	fs.IntVar(&pf.size, "size", defaultPageSize, "rows per page")
	if err := fs.Parse(args); err != nil {
		return pf, nil, err
	}
	return pf, fs.Args(), nil
}

// printTable writes one page of rows with a page footer.
func printTable[T any](c *client, t *paging.Table[T], header string, row func(T) string) {
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, header)
	for _, r := range t.Page() {
		fmt.Fprintln(tw, row(r))
	}
	_ = tw.Flush()
	c.printf("page %d of %d (%d rows)\n", t.CurrentPage(), t.PageCount(), t.Len())
}

func cmdBookings(ctx context.Context, c *client, args []string) error {
	const usage = "bookings [-page N] [-size N] | bookings confirm|cancel|delete ID"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		return bookingAction(ctx, c, args, usage)
	}
	pf, _, err := parsePageFlags("bookings", args)
	if err != nil {
		return usagef(usage)
	}
	m := bookings.NewManager(c.api, c.session, pf.size, c.logger)
	if err := m.Load(ctx); err != nil {
		return err
	}
	t := m.Table()
	t.SetPage(pf.page)
	printTable(c, t, "ID\tDATE\tMENTOR\tMENTEE\tSTATUS", func(b domain.Booking) string {
		return fmt.Sprintf("%s\t%s\t%s\t%s\t%s", b.ID, formatTime(b.BookingDate), b.MentorID, b.MenteeID, b.Status)
	})
	return nil
}

func bookingAction(ctx context.Context, c *client, args []string, usage string) error {
	if len(args) != 2 {
		return usagef(usage)
	}
	m := bookings.NewManager(c.api, c.session, defaultPageSize, c.logger)
	if err := m.Load(ctx); err != nil {
		return err
	}
	id := domain.ID(args[1])
	switch args[0] {
	case "confirm":
		b, err := m.Confirm(ctx, id)
		if err != nil {
			return err
		}
		c.printf("booking %s is %s\n", b.ID, b.Status)
	case "cancel":
		b, err := m.Cancel(ctx, id)
		if err != nil {
			return err
		}
		c.printf("booking %s is %s\n", b.ID, b.Status)
	case "delete":
		if err := m.Delete(ctx, id); err != nil {
			return err
		}
		c.printf("booking %s deleted (%d left)\n", id, m.Table().Len())
	default:
		return usagef(usage)
	}
	return nil
}

func cmdAdmin(ctx context.Context, c *client, args []string) error {
	const usage = "admin users|events|targets [-page N] [-size N]"
	if len(args) == 0 {
		return usagef(usage)
	}
	pf, _, err := parsePageFlags("admin "+args[0], args[1:])
	if err != nil {
		return usagef(usage)
	}
	token, err := c.session.AccessToken()
	if err != nil {
		return err
	}
	switch args[0] {
	case "users":
		rows, err := c.api.AdminListUsers(ctx, token)
		if err != nil {
			return err
		}
		printTable(c, loadTable(rows, pf), "ID\tNAME\tEMAIL\tROLE\tONBOARDED", func(u domain.User) string {
			return fmt.Sprintf("%s\t%s\t%s\t%s\t%t", u.ID, u.DisplayName(), u.Email, userTypeLabel(u), !u.NeedsOnboarding())
		})
	case "events":
		rows, err := c.api.ListEvents(ctx, token)
		if err != nil {
			return err
		}
		printTable(c, loadTable(rows, pf), "ID\tTITLE\tSTART\tEND\tLOCATION", func(e domain.Event) string {
			return fmt.Sprintf("%s\t%s\t%s\t%s\t%s", e.ID, e.Title, formatTime(e.StartDate), formatTime(e.EndDate), e.Location)
		})
	case "targets":
		rows, err := c.api.ListAnnualTargets(ctx, token)
		if err != nil {
			return err
		}
		printTable(c, loadTable(rows, pf), "ID\tYEAR\tMENTORS\tMENTEES\tSESSIONS", func(t domain.AnnualTarget) string {
			return fmt.Sprintf("%s\t%d\t%d\t%d\t%d", t.ID, t.Year, t.MentorTarget, t.MenteeTarget, t.SessionTarget)
		})
	default:
		return usagef(usage)
	}
	return nil
}

func loadTable[T any](rows []T, pf pageFlags) *paging.Table[T] {
	t := paging.NewTable[T](pf.size)
	t.SetRows(rows)
	t.SetPage(pf.page)
	return t
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}
