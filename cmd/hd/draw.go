package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"huddle/internal/app"
	"huddle/internal/domain"
	"huddle/internal/draw"
	"huddle/internal/roster"
	huddlesdk "huddle/sdk/go"
)

var (
	spinStyle   = lipgloss.NewStyle().Width(28).Foreground(lipgloss.Color("244"))
	winnerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42")).
			Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("42")).Padding(0, 2)
	noticeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
)

type rosterInput struct {
	file   string
	sample bool
}

func (in *rosterInput) bind(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&in.file, "file", "f", "", "roster file, newline or comma separated")
	cmd.Flags().BoolVar(&in.sample, "sample", false, "use the built-in sample roster")
}

// names resolves the roster from --sample, --file, arguments or piped stdin.
func (in rosterInput) names(args []string, stdin *os.File) ([]string, error) {
	var names []string
	switch {
	case in.sample:
		names = roster.SampleNames()
	case in.file != "":
		var err error
		if names, err = roster.ReadFile(in.file); err != nil {
			return nil, err
		}
	case len(args) > 0:
		names = roster.ParseText(strings.Join(args, "\n"))
	case stdin != nil && isPiped(stdin):
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, err
		}
		names = roster.ParseText(string(data))
	}
	if len(names) == 0 {
		return nil, errors.New("roster is empty; pass names, --file, --sample or pipe names on stdin")
	}
	return names, nil
}

func isPiped(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice == 0
}

func rosterCmd() *cobra.Command {
	r := &cobra.Command{
		Use:   "roster",
		Short: "Inspect and clean rosters",
	}
	r.AddCommand(rosterCheckCmd())
	r.AddCommand(rosterDedupeCmd())
	r.AddCommand(rosterSampleCmd())
	return r
}

func rosterCheckCmd() *cobra.Command {
	var in rosterInput
	cmd := &cobra.Command{
		Use:   "check [names...]",
		Short: "Count names and report duplicates",
		RunE: func(cmd *cobra.Command, args []string) error {
			names, err := in.names(args, os.Stdin)
			if err != nil {
				return err
			}
			dupes := roster.Duplicates(names)
			if viper.GetBool("json") {
				return printJSON(map[string]any{"count": len(names), "duplicates": dupes})
			}
			fmt.Printf("%d names\n", len(names))
			if len(dupes) == 0 {
				fmt.Println("no duplicate names")
				return nil
			}
			fmt.Println(noticeStyle.Render(fmt.Sprintf("duplicate names: %s (run 'hd roster dedupe' to keep the first of each)", strings.Join(dupes, ", "))))
			return nil
		},
	}
	in.bind(cmd)
	return cmd
}

func rosterDedupeCmd() *cobra.Command {
	var in rosterInput
	var write bool
	cmd := &cobra.Command{
		Use:   "dedupe [names...]",
		Short: "Drop repeated names, keeping the first occurrence",
		RunE: func(cmd *cobra.Command, args []string) error {
			names, err := in.names(args, os.Stdin)
			if err != nil {
				return err
			}
			out := roster.Dedupe(names)
			if write {
				if in.file == "" {
					return errors.New("--write requires --file")
				}
				return os.WriteFile(in.file, []byte(strings.Join(out, "\n")+"\n"), 0o644)
			}
			if viper.GetBool("json") {
				return printJSON(out)
			}
			fmt.Println(strings.Join(out, "\n"))
			return nil
		},
	}
	in.bind(cmd)
	cmd.Flags().BoolVar(&write, "write", false, "rewrite --file in place")
	return cmd
}

func rosterSampleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sample",
		Short: "Print the sample roster",
		RunE: func(cmd *cobra.Command, args []string) error {
			names := roster.SampleNames()
			if viper.GetBool("json") {
				return printJSON(names)
			}
			fmt.Println(strings.Join(names, "\n"))
			return nil
		},
	}
}

func drawCmd() *cobra.Command {
	var in rosterInput
	var count int
	var repeat, spin bool
	var serverURL, sessionID string
	cmd := &cobra.Command{
		Use:   "draw [names...]",
		Short: "Draw winners from a roster",
		Long:  "Draws --count winners. Without --repeat each winner leaves the pool. --spin shows the reel before each result.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if count < 1 {
				return errors.New("--count must be at least 1")
			}
			if serverURL != "" {
				return remoteDraw(cmd.Context(), serverURL, sessionID, count, spin)
			}
			names, err := in.names(args, os.Stdin)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), app.Options{}, func(ctx context.Context, a *app.App) error {
				allow := repeat || a.Config.Draw.AllowRepeat
				info, err := a.Sessions.Create(ctx, names, allow)
				if err != nil {
					return err
				}
				if len(info.Duplicates) > 0 && !viper.GetBool("json") {
					fmt.Println(noticeStyle.Render("duplicate names: " + strings.Join(info.Duplicates, ", ")))
				}
				var winners []domain.Participant
				for i := 0; i < count; i++ {
					var w domain.Participant
					if spin && !viper.GetBool("json") {
						w, err = a.Sessions.Spin(ctx, info.ID, renderFrame)
					} else {
						w, err = a.Sessions.Draw(ctx, info.ID)
					}
					if errors.Is(err, draw.ErrEmptyPool) {
						if !viper.GetBool("json") {
							fmt.Println(noticeStyle.Render("pool is empty; everyone has been drawn"))
						}
						break
					}
					if err != nil {
						return err
					}
					winners = append(winners, w)
				}
				final, err := a.Sessions.Get(info.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"winners": winners, "pool_size": final.PoolSize, "session_id": info.ID})
				}
				printWinners(winners, final.PoolSize)
				return nil
			})
		},
	}
	in.bind(cmd)
	cmd.Flags().IntVarP(&count, "count", "c", 1, "number of draws")
	cmd.Flags().BoolVar(&repeat, "repeat", false, "allow the same participant to win again")
	cmd.Flags().BoolVar(&spin, "spin", false, "animate the reel")
	cmd.Flags().StringVar(&serverURL, "server", "", "draw on a running 'hd serve' instead of locally")
	cmd.Flags().StringVar(&sessionID, "session", "", "session id on --server")
	return cmd
}

func renderFrame(f draw.Frame) {
	switch f.Phase {
	case draw.PhaseSpinning:
		fmt.Printf("\r%s", spinStyle.Render(f.Candidate.Name))
	case draw.PhaseSettled:
		fmt.Printf("\r%s\r", strings.Repeat(" ", spinStyle.GetWidth()))
		fmt.Println(winnerStyle.Render(f.Candidate.Name))
	}
}

func printWinners(winners []domain.Participant, poolSize int) {
	tw := newTable()
	tw.AppendHeader(table.Row{"#", "Winner"})
	for i, w := range winners {
		tw.AppendRow(table.Row{i + 1, w.Name})
	}
	tw.AppendFooter(table.Row{"", fmt.Sprintf("%d left in pool", poolSize)})
	tw.Render()
}

func remoteDraw(ctx context.Context, serverURL, sessionID string, count int, spin bool) error {
	if sessionID == "" {
		return errors.New("--session is required with --server")
	}
	c := huddlesdk.New(serverURL)
	var winners []domain.Participant
	poolSize := 0
	for i := 0; i < count; i++ {
		var res huddlesdk.DrawResult
		var err error
		if spin && !viper.GetBool("json") {
			res, err = c.Spin(ctx, sessionID, func(f huddlesdk.Frame) {
				renderFrame(draw.Frame{Phase: draw.Phase(f.Phase), Tick: f.Tick, Ticks: f.Ticks, Candidate: domain.Participant(f.Candidate)})
			})
		} else {
			res, err = c.Draw(ctx, sessionID)
		}
		if errors.Is(err, huddlesdk.ErrEmptyPool) {
			if !viper.GetBool("json") {
				fmt.Println(noticeStyle.Render("pool is empty; everyone has been drawn"))
			}
			break
		}
		if err != nil {
			return err
		}
		winners = append(winners, domain.Participant(res.Winner))
		poolSize = res.PoolSize
	}
	if viper.GetBool("json") {
		return printJSON(map[string]any{"winners": winners, "pool_size": poolSize, "session_id": sessionID})
	}
	printWinners(winners, poolSize)
	return nil
}
