package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/couchcryptid/corona-report-bot/internal/adapter/memory"
	"github.com/couchcryptid/corona-report-bot/internal/adapter/xlsx"
	"github.com/couchcryptid/corona-report-bot/internal/domain"
	"github.com/couchcryptid/corona-report-bot/internal/observability"
	"github.com/couchcryptid/corona-report-bot/internal/report"
	"github.com/spf13/cobra"
)

func crawlCmd() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Run one fetch-diff-dispatch cycle and exit",
		Long: `crawl runs a single cycle with the service configuration. With --dry-run
the report is printed instead of sent and nothing is written to the database.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, !dryRun, observability.NewMetrics())
			if err != nil {
				return err
			}
			defer a.close()

			if !dryRun {
				rep, err := a.scheduler(a.store, a.registry, a.telegram).TryRunCycle(ctx)
				printCycle(cmd.OutOrStdout(), rep.ID, string(rep.Outcome), len(rep.Delivery.Succeeded), len(rep.Delivery.Failed))
				return err
			}

			latest, err := a.store.Latest(ctx)
			if err != nil {
				return err
			}
			out := &printSender{w: cmd.OutOrStdout()}
			rep, err := a.scheduler(memory.NewStore(latest), memory.NewRegistry(0), out).TryRunCycle(ctx)
			printCycle(cmd.ErrOrStderr(), rep.ID, string(rep.Outcome), len(rep.Delivery.Succeeded), len(rep.Delivery.Failed))
			return err
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the report instead of sending it; leave the database untouched")
	return cmd
}

func printCycle(w io.Writer, id, outcome string, sent, failed int) {
	fmt.Fprintf(w, "cycle %s: %s (sent %d, failed %d)\n", id, outcome, sent, failed)
}

// printSender writes messages to w instead of Telegram.
type printSender struct {
	w io.Writer
}

func (p *printSender) Send(_ context.Context, _ domain.SubscriberID, text string) error {
	_, err := fmt.Fprintln(p.w, text)
	return err
}

func parseCmd() *cobra.Command {
	var asText bool

	cmd := &cobra.Command{
		Use:   "parse <file.xlsx>",
		Short: "Parse a local workbook and print the observation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			catalog := domain.DefaultCatalog()
			obs, err := xlsx.NewParser(catalog).Parse(data)
			if err != nil {
				return err
			}

			if asText {
				var all []string
				for _, r := range catalog.Counties() {
					all = append(all, string(r.ID))
				}
				f, err := report.NewFormatter(catalog, all)
				if err != nil {
					return err
				}
				_, err = fmt.Fprint(cmd.OutOrStdout(), f.FormatStatus(domain.ComputeDelta(catalog, nil, obs)))
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(obs)
		},
	}

	cmd.Flags().BoolVar(&asText, "text", false, "print the status message instead of JSON")
	return cmd
}

func subscribersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "subscribers",
		Short: "Inspect and edit the subscriber registry",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List subscribed chat ids",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				a, err := newApp(cmd.Context(), false, nil)
				if err != nil {
					return err
				}
				defer a.close()

				ids, err := a.registry.All(cmd.Context())
				if err != nil {
					return err
				}
				for _, id := range ids {
					fmt.Fprintln(cmd.OutOrStdout(), id)
				}
				return nil
			},
		},
		editSubscriberCmd("add", "Subscribe a chat id", func(ctx context.Context, a *app, id domain.SubscriberID) error {
			return a.registry.Add(ctx, id)
		}),
		editSubscriberCmd("remove", "Unsubscribe a chat id", func(ctx context.Context, a *app, id domain.SubscriberID) error {
			return a.registry.Remove(ctx, id)
		}),
	)
	return cmd
}

func editSubscriberCmd(use, short string, edit func(context.Context, *app, domain.SubscriberID) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <chat-id>...",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]domain.SubscriberID, 0, len(args))
			for _, arg := range args {
				n, err := strconv.ParseInt(arg, 10, 64)
				if err != nil {
					return fmt.Errorf("invalid chat id %q", arg)
				}
				ids = append(ids, domain.SubscriberID(n))
			}

			a, err := newApp(cmd.Context(), false, nil)
			if err != nil {
				return err
			}
			defer a.close()

			for _, id := range ids {
				if err := edit(cmd.Context(), a, id); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d chat(s)\n", use, len(ids))
			return nil
		},
	}
}
