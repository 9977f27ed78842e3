package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"huddle/internal/app"
	"huddle/internal/domain"
	"huddle/internal/export"
)

func groupCmd() *cobra.Command {
	var in rosterInput
	var size int
	var iceBreakers bool
	var csvPath string
	cmd := &cobra.Command{
		Use:   "group [names...]",
		Short: "Shuffle a roster into named groups",
		Long:  "Splits the roster into groups of --size; only the last group may be smaller. Names come from the naming service with 'Group N' as fallback. --csv writes the result for spreadsheets ('-' for stdout).",
		RunE: func(cmd *cobra.Command, args []string) error {
			names, err := in.names(args, os.Stdin)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), app.Options{}, func(ctx context.Context, a *app.App) error {
				if !cmd.Flags().Changed("size") {
					size = a.Config.Grouping.DefaultSize
				}
				if !cmd.Flags().Changed("ice-breakers") {
					iceBreakers = a.Config.Grouping.IceBreakers
				}
				info, err := a.Sessions.Create(ctx, names, false)
				if err != nil {
					return err
				}
				groups, err := a.Sessions.Group(ctx, info.ID, size, iceBreakers)
				if err != nil {
					return err
				}
				if csvPath != "" {
					if err := writeCSV(csvPath, groups, a.Config.Export.Header); err != nil {
						return err
					}
				}
				if csvPath == "-" {
					return nil
				}
				if viper.GetBool("json") {
					return printJSON(groups)
				}
				printGroups(groups)
				if csvPath != "" {
					fmt.Println("wrote", csvPath)
				}
				return nil
			})
		},
	}
	in.bind(cmd)
	cmd.Flags().IntVarP(&size, "size", "s", 4, "members per group (default from config)")
	cmd.Flags().BoolVar(&iceBreakers, "ice-breakers", false, "generate an ice breaker for each group")
	cmd.Flags().StringVar(&csvPath, "csv", "", "write CSV to this path, e.g. "+export.DefaultFileName)
	return cmd
}

func writeCSV(path string, groups []domain.Group, header []string) error {
	var w io.Writer = os.Stdout
	if path != "-" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	return export.WriteCSV(w, groups, header)
}

func printGroups(groups []domain.Group) {
	tw := newTable()
	withIce := false
	for _, g := range groups {
		if g.IceBreaker != "" {
			withIce = true
		}
	}
	header := table.Row{"#", "Group", "Members"}
	if withIce {
		header = append(header, "Ice breaker")
	}
	tw.AppendHeader(header)
	for _, g := range groups {
		row := table.Row{g.ID, g.Name, strings.Join(g.MemberNames(), ", ")}
		if withIce {
			row = append(row, g.IceBreaker)
		}
		tw.AppendRow(row)
	}
	tw.Render()
}

func iceBreakerCmd() *cobra.Command {
	var in rosterInput
	cmd := &cobra.Command{
		Use:   "icebreaker [names...]",
		Short: "Suggest an ice breaker for a group",
		RunE: func(cmd *cobra.Command, args []string) error {
			names, err := in.names(args, os.Stdin)
			if err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			g, err := app.NewGrouping(cmd.Context(), cfg, viper.GetString("locale"), slog.Default())
			if err != nil {
				return err
			}
			text := g.IceBreaker(cmd.Context(), names)
			if viper.GetBool("json") {
				return printJSON(map[string]any{"members": names, "text": text})
			}
			fmt.Println(text)
			return nil
		},
	}
	in.bind(cmd)
	return cmd
}
