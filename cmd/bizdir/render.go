package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pliu/bizdir/internal/models"
)

func table(w io.Writer, header ...string) *tabwriter.Writer {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(header, "\t"))
	return tw
}

func ago(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return humanize.Time(t)
}

func verified(b models.Business) string {
	if b.IsVerified {
		return "yes"
	}
	return "pending"
}

func printBusinesses(w io.Writer, list []models.Business) {
	if len(list) == 0 {
		fmt.Fprintln(w, "No businesses found.")
		return
	}
	tw := table(w, "ID", "NAME", "ADDRESS", "VERIFIED", "CREATED")
	for _, b := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", b.ID, b.Name, b.Address, verified(b), ago(b.CreatedAt))
	}
	tw.Flush()
}

func printBusiness(w io.Writer, b models.Business) {
	fmt.Fprintf(w, "%s\n", b.Name)
	fmt.Fprintf(w, "  %s\n", b.Description)
	fmt.Fprintf(w, "  Address:  %s (%.5f, %.5f)\n", b.Address, b.Location.Latitude, b.Location.Longitude)
	fmt.Fprintf(w, "  Phone:    %s\n", b.Phone)
	fmt.Fprintf(w, "  Email:    %s\n", b.Email)
	owner := b.Owner.Username
	if owner == "" {
		owner = b.Owner.ID
	}
	fmt.Fprintf(w, "  Owner:    %s\n", owner)
	fmt.Fprintf(w, "  Verified: %s\n", verified(b))
	if b.Image != "" {
		fmt.Fprintf(w, "  Image:    %s\n", b.Image)
	}
}

func printComments(w io.Writer, list []models.Comment) {
	if len(list) == 0 {
		fmt.Fprintln(w, "No comments yet.")
		return
	}
	for _, c := range list {
		fmt.Fprintf(w, "%s, %s:\n  %s\n", c.Author.Username, ago(c.CreatedAt), c.Content)
	}
}

func printAnalytics(w io.Writer, series []models.AnalyticsSeries) {
	if len(series) == 0 {
		fmt.Fprintln(w, "No analytics yet.")
		return
	}
	tw := table(w, "BUSINESS", "EVENT", "COUNT")
	for _, s := range series {
		for _, p := range s.Data {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", s.BusinessName, p.Type, humanize.Comma(int64(p.Count)))
		}
	}
	tw.Flush()
}

func printHeads(w io.Writer, heads []models.ChatHead) {
	if len(heads) == 0 {
		fmt.Fprintln(w, "No conversations yet.")
		return
	}
	tw := table(w, "USER ID", "NAME", "LAST MESSAGE")
	for _, h := range heads {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", h.ID, h.Sender.Username, h.Message)
	}
	tw.Flush()
}

func printMessage(w io.Writer, m models.ChatMessage) {
	fmt.Fprintf(w, "%s: %s\n", m.Sender, m.Text)
}
