package cli

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"quiz-client/internal/app"
	transport "quiz-client/internal/transport/http"
)

// newServeCmd starts the HTTP front-end: catalog JSON plus one attempt per websocket.
func newServeCmd(opts *rootOptions) *cobra.Command {
	var port string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the catalog and live attempts over HTTP and websockets",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), opts, port)
		},
	}
	cmd.Flags().StringVar(&port, "port", "", "port to listen on (overrides config and PORT)")
	return cmd
}

func runServer(ctx context.Context, opts *rootOptions, portFlag string) error {
	e, err := loadEnv(ctx, opts)
	if err != nil {
		return err
	}
	defer e.Close()

	finalPort := portFlag
	if finalPort == "" {
		finalPort = e.cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	catalog := e.catalog()
	wsHandler := transport.NewWSHandler(catalog, e.sessionFactory(ctx, app.SystemClock()), e.sessionStore())

	server := &http.Server{
		Addr:        ":" + finalPort,
		Handler:     transport.NewRouter(catalog, wsHandler),
		ReadTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("serving quiz client for %s on :%s", e.api.BaseURL(), finalPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Println("shutting down server...")
	case <-ctx.Done():
		log.Println("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
