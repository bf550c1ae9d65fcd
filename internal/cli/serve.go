// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/whisper/internal/server"
)

// shutdownTimeout bounds graceful shutdown of the bridge.
const shutdownTimeout = 5 * time.Second

func (a *App) serveCommand() *cobra.Command {
	var (
		host      string
		port      int
		rateLimit int
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the local bridge for the browser extension",
		Long: `Run the HTTP and websocket bridge on localhost.

The browser extension posts turns for the problem page it is on and
listens for replies on the events stream. Only origins listed in
server.allowed_origins may call it from a browser.`,
		Args: cobra.NoArgs,
		RunE: a.runE(func(ctx context.Context, args []string) error {
			cfg, err := a.config()
			if err != nil {
				return err
			}
			if host == "" {
				host = cfg.Server.Host
			}
			if port == 0 {
				port = cfg.Server.Port
			}
			if port < 0 || port > 65535 {
				return NewValidationErrorWithExample("port", strconv.Itoa(port), "must be between 0 and 65535", "whisper serve --port 8765")
			}

			store, err := a.openStore()
			if err != nil {
				return err
			}
			router, err := a.modelRouter()
			if err != nil {
				return err
			}
			opts, err := a.serviceOptions()
			if err != nil {
				return err
			}
			keys, err := a.keyStore()
			if err != nil {
				return err
			}

			hub := server.NewHub(router, store, opts...)
			srv := server.New(server.Config{
				Addr:              net.JoinHostPort(host, strconv.Itoa(port)),
				AllowedOrigins:    cfg.Server.AllowedOrigins,
				RequestsPerMinute: rateLimit,
				Keys:              keys,
			}, hub)

			ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
			if err != nil {
				return NewCommandError("serve", "listen", "address unavailable", err)
			}
			fmt.Fprintf(a.out, "%s whisper bridge listening on http://%s\n", RenderStatus("ok"), ln.Addr())
			fmt.Fprintln(a.out, RenderConditional(DimStyle, "Press Ctrl+C to stop."))

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Serve(ln) }()

			select {
			case err := <-errCh:
				hub.Close()
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return WrapError(err, "shutdown")
			}
			if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			fmt.Fprintln(a.out, "Bridge stopped.")
			return nil
		}),
	}
	cmd.Flags().StringVar(&host, "host", "", "listen host (default server.host)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (default server.port)")
	cmd.Flags().IntVar(&rateLimit, "rate-limit", 120, "requests per minute per client, 0 for unlimited")
	return cmd
}
