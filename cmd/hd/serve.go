package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"huddle/internal/app"
	"huddle/internal/roster"
	"huddle/internal/server"
)

func serveCmd() *cobra.Command {
	var addr, basePath, rosterFile string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		Long:  "Serves the session API with a streaming spin endpoint, /metrics, OpenAPI and Swagger UI. With --roster a session is created from the file and reloaded whenever the file changes.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), app.Options{}, func(ctx context.Context, a *app.App) error {
				if !cmd.Flags().Changed("addr") && a.Config.Server.Addr != "" {
					addr = a.Config.Server.Addr
				}
				if !cmd.Flags().Changed("base-path") && a.Config.Server.BasePath != "" {
					basePath = a.Config.Server.BasePath
				}
				handler, err := server.New(server.Config{
					Sessions:     a.Sessions,
					Repo:         a.Repo,
					Metrics:      a.Metrics,
					BasePath:     basePath,
					ExportHeader: a.Config.Export.Header,
					Logger:       a.Logger,
				})
				if err != nil {
					return err
				}
				ctx, cancel := context.WithCancel(ctx)
				defer cancel()
				hooksDone := server.StartWebhooks(ctx, a.Repo, a.Config.Webhooks, a.Logger)

				if rosterFile != "" {
					if err := watchRoster(ctx, a, rosterFile); err != nil {
						return err
					}
				}

				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Printf("Serving huddle API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs, metrics at /metrics)\n", addr, basePath, basePath)
				err = srv.ListenAndServe()
				cancel()
				<-hooksDone
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().StringVar(&rosterFile, "roster", "", "roster file to serve as a live session")
	return cmd
}

// watchRoster creates a session from path and keeps its roster in sync with
// the file until ctx is done.
func watchRoster(ctx context.Context, a *app.App, path string) error {
	names, err := roster.ReadFile(path)
	if err != nil {
		return err
	}
	info, err := a.Sessions.Create(ctx, names, a.Config.Draw.AllowRepeat)
	if err != nil {
		return err
	}
	fmt.Printf("Roster session %s (%d names) from %s\n", info.ID, len(info.Roster), path)
	go func() {
		err := roster.Watch(ctx, path, func(names []string) {
			if _, err := a.Sessions.ReplaceRoster(ctx, info.ID, names); err != nil {
				a.Logger.Warn("roster reload failed", "session", info.ID, "error", err)
			}
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("roster watch stopped", "path", path, "error", err)
		}
	}()
	return nil
}
