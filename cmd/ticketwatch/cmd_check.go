package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"ticketwatch/internal/app"
	"ticketwatch/internal/availability"
	"ticketwatch/internal/channel"
	"ticketwatch/internal/scheduler"
	"ticketwatch/internal/storage"
	logx "ticketwatch/pkg/logx"
)

var (
	goodFormat     = color.New(color.FgGreen).SprintFunc()
	warningFormat  = color.New(color.FgHiYellow).SprintFunc()
	criticalFormat = color.New(color.FgHiRed).SprintFunc()
	mutedFormat    = color.New(color.FgHiBlack).SprintFunc()
	boldFormat     = color.New(color.FgHiWhite).SprintFunc()
)

// newCheckCmd runs a single cycle without touching Telegram or the real store.
func newCheckCmd() *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run one check cycle and print the resulting report",
		Long: `Run one check cycle against the configured sites. Messages go to an
in-memory recorder and history to a throwaway store, so nothing is published
and drop alerts cannot fire.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			dir, err := os.MkdirTemp("", "ticketwatch-check-")
			if err != nil {
				return err
			}
			defer os.RemoveAll(dir)

			st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(dir, "check.json")}, logx.Nop())
			if err != nil {
				return err
			}
			rec := channel.NewRecorder()
			a, err := app.New(configPath, app.WithChannel(rec), app.WithStore(st), app.WithoutPacing())
			if err != nil {
				_ = st.Close()
				return err
			}
			defer a.Stop(context.Background(), app.StopUnknown)

			sum, cycleErr := a.CheckOnce(ctx)
			out := cmd.OutOrStdout()
			if jsonOutput {
				if err := printJSON(out, sum, cycleErr); err != nil {
					return err
				}
			} else {
				printHuman(out, sum, cycleErr, rec.Transcript(a.Config().Telegram.InfoChatID))
			}
			return cycleErr
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	return cmd
}

type checkOutput struct {
	StartedAt time.Time                      `json:"started_at"`
	Took      string                         `json:"took"`
	Result    string                         `json:"result"`
	Sites     int                            `json:"sites"`
	Results   []availability.SiteCheckResult `json:"results"`
	Failed    []string                       `json:"failed,omitempty"`
	Parts     []string                       `json:"parts"`
	Error     string                         `json:"error,omitempty"`
}

func printJSON(w io.Writer, sum scheduler.CycleSummary, cycleErr error) error {
	o := checkOutput{
		StartedAt: sum.StartedAt,
		Took:      sum.Took.Round(time.Millisecond).String(),
		Result:    sum.Result(cycleErr),
		Sites:     sum.Sites,
		Results:   sum.Results,
		Parts:     sum.Parts,
	}
	for _, err := range sum.Failed {
		o.Failed = append(o.Failed, err.Error())
	}
	if cycleErr != nil {
		o.Error = cycleErr.Error()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(o)
}

func printHuman(w io.Writer, sum scheduler.CycleSummary, cycleErr error, transcript string) {
	if transcript != "" {
		fmt.Fprintln(w, transcript)
		fmt.Fprintln(w)
	}
	for _, r := range sum.Results {
		pct := r.Percentage()
		line := fmt.Sprintf("%-24s %5.1f%%  %s/%s events with tickets", r.SiteName, pct,
			humanize.Comma(int64(r.WithTickets)), humanize.Comma(int64(r.TotalEvents)))
		switch {
		case r.TotalEvents == 0:
			fmt.Fprintln(w, mutedFormat(line))
		case pct == 0:
			fmt.Fprintln(w, criticalFormat(line))
		case pct < 50:
			fmt.Fprintln(w, warningFormat(line))
		default:
			fmt.Fprintln(w, goodFormat(line))
		}
	}
	for _, err := range sum.Failed {
		fmt.Fprintln(w, criticalFormat("failed: "+err.Error()))
	}

	status := goodFormat(sum.Result(cycleErr))
	if cycleErr != nil {
		status = criticalFormat(sum.Result(cycleErr))
	}
	fmt.Fprintf(w, "%s %s: %s of %s sites checked in %s, %s report %s\n",
		boldFormat("cycle"), status,
		humanize.Comma(int64(len(sum.Results))), humanize.Comma(int64(sum.Sites)),
		sum.Took.Round(time.Millisecond), humanize.Comma(int64(len(sum.Parts))),
		pluralize(len(sum.Parts), "part", "parts"))
}

func pluralize(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
