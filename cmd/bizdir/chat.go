package main

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/pliu/bizdir/internal/access"
	"github.com/pliu/bizdir/internal/bridge"
	"github.com/pliu/bizdir/internal/models"
	"github.com/spf13/cobra"
)

func newChatCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with business owners and customers",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "heads <business-id>",
			Short: "List conversations about one of your businesses",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := a.gate(access.ViewBusiness); err != nil {
					return err
				}
				heads, err := a.api.ChatHeads(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				printHeads(a.out, heads)
				return nil
			},
		},
		newChatOpenCmd(a),
	)
	return cmd
}

// threadPrinter writes the lines of a thread that were not printed yet.
// Lines the local user just typed are not repeated.
type threadPrinter struct {
	mu      sync.Mutex
	w       io.Writer
	printed int
	live    bool
}

func (p *threadPrinter) update(msgs []models.ChatMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(msgs) < p.printed {
		p.printed = 0
	}
	for _, m := range msgs[p.printed:] {
		if p.live && m.Self {
			continue
		}
		printMessage(p.w, m)
	}
	p.printed = len(msgs)
}

func (p *threadPrinter) goLive() {
	p.mu.Lock()
	p.live = true
	p.mu.Unlock()
}

func newChatOpenCmd(a *app) *cobra.Command {
	var with string
	cmd := &cobra.Command{
		Use:   "open <business-id>",
		Short: "Open a conversation and send lines from stdin",
		Long: "Opens the thread with the owner of a business, or with --with when you own it.\n" +
			"Every line read from stdin is sent; /quit or end of input leaves.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.gate(access.ViewChat); err != nil {
				return err
			}
			ctx := cmd.Context()
			self, _ := a.session.Identity()
			roster := bridge.NewDirectory()

			biz, err := a.api.BusinessDetail(ctx, args[0])
			if err != nil {
				return err
			}
			roster.AddBusinesses(biz.Ref())

			thread := models.ThreadKey{BusinessID: biz.ID, CounterpartID: with}
			if thread.CounterpartID == "" {
				thread.CounterpartID = biz.Owner.ID
			}
			if thread.CounterpartID == self.ID {
				return errors.New("you own this business; pick a customer with --with (see `bizdir chat heads`)")
			}
			if biz.Owner.ID == self.ID {
				heads, err := a.api.ChatHeads(ctx, biz.ID)
				if err != nil {
					return err
				}
				roster.AddHeads(heads)
			}

			printer := &threadPrinter{w: a.out}
			dialer := bridge.WSDialer{
				URL:    a.cfg.RelayURL,
				Header: http.Header{"Authorization": {"Bearer " + a.session.Token()}},
			}
			b, err := bridge.New(dialer, self,
				bridge.WithRoster(roster),
				bridge.OnChange(printer.update),
				bridge.OnUnrouted(func(pm models.PrivateMessage) {
					label, ok := roster.Label(pm.SenderID)
					if !ok {
						label = pm.SenderID
					}
					fmt.Fprintf(a.err, "(new message from %s: %s)\n", label, pm.Message)
				}),
			)
			if err != nil {
				return err
			}
			defer b.Close()

			if err := b.Connect(ctx); err != nil {
				return fmt.Errorf("connecting to chat relay: %w", err)
			}
			if err := b.Open(ctx, thread, a.api.ListThread); err != nil {
				return err
			}
			printer.goLive()
			fmt.Fprintf(a.err, "-- chatting about %s; /quit to leave --\n", biz.Name)

			for {
				line, err := a.readLine()
				if errors.Is(err, io.EOF) {
					return nil
				}
				if err != nil {
					return err
				}
				if strings.TrimSpace(line) == "/quit" {
					return nil
				}
				if err := b.Send(line); err != nil && !errors.Is(err, bridge.ErrEmptyMessage) {
					return err
				}
			}
		},
	}
	cmd.Flags().StringVar(&with, "with", "", "user id of the customer (business owners)")
	return cmd
}
