// Command assistantstub runs a local stand-in for the assistant service so
// the chat client can be exercised without the real backend.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zhouzirui/startup-chat/client/internal/assistantstub"
)

func main() {
	var (
		addr       string
		transcript string
		failStatus int
	)

	cmd := &cobra.Command{
		Use:          "assistantstub",
		Short:        "Serve a fake assistant API for local development",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := zap.NewDevelopment()
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			defer logger.Sync()

			stub := assistantstub.New(
				assistantstub.WithTranscript(transcript),
				assistantstub.WithLogger(logger),
			)
			if failStatus != 0 {
				stub.FailQueries(failStatus)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := &http.Server{
				Addr:              addr,
				Handler:           stub.Handler(),
				ReadHeaderTimeout: 5 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() { errCh <- srv.ListenAndServe() }()
			logger.Info("assistant stub listening", zap.String("addr", addr))

			select {
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			}
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8000", "Listen address")
	cmd.Flags().StringVar(&transcript, "transcript", "नमस्कार", "Transcript returned for every audio upload")
	cmd.Flags().IntVar(&failStatus, "fail-queries", 0, "Answer every query with this HTTP status")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
