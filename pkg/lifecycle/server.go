// Package lifecycle runs services with uniform startup, signal handling and
// bounded shutdown.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

const (
	ShutdownTimeout = 10 * time.Second

	readHeaderTimeout = 5 * time.Second
)

// Service defines the interface that all services must implement. Start
// blocks until the passed context is canceled.
type Service interface {
	Start(context.Context) error
	Stop(context.Context) error
}

// ServerOptions holds configuration for running a service, optionally with an
// HTTP API alongside it.
type ServerOptions struct {
	ServiceName string
	Service     Service

	// HTTP API; both empty/nil disables it.
	ListenAddr string
	Handler    http.Handler
}

// RunServer starts a service with the provided options and handles lifecycle:
// it blocks until a termination signal, a service error or context
// cancellation, then shuts everything down within ShutdownTimeout.
func RunServer(ctx context.Context, opts *ServerOptions) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	log.Printf("*** Starting service %s", opts.ServiceName)

	errChan := make(chan error, 1)

	go func() {
		if err := opts.Service.Start(ctx); err != nil {
			select {
			case errChan <- err:
			default:
				log.Printf("Service error: %v", err)
			}
		}
	}()

	var httpServer *http.Server

	if opts.ListenAddr != "" && opts.Handler != nil {
		httpServer = &http.Server{
			Addr:              opts.ListenAddr,
			Handler:           opts.Handler,
			ReadHeaderTimeout: readHeaderTimeout,
		}

		go func() {
			log.Printf("Starting HTTP server on %s", opts.ListenAddr)

			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				select {
				case errChan <- err:
				default:
					log.Printf("HTTP server error: %v", err)
				}
			}
		}()
	}

	return handleShutdown(ctx, cancel, httpServer, opts.Service, errChan)
}

func handleShutdown(
	ctx context.Context, cancel context.CancelFunc, httpServer *http.Server, svc Service, errChan chan error) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var svcErr error

	select {
	case sig := <-sigChan:
		log.Printf("Received signal %v, initiating shutdown", sig)
	case err := <-errChan:
		log.Printf("Received error: %v, initiating shutdown", err)

		svcErr = fmt.Errorf("service error: %w", err)
	case <-ctx.Done():
		log.Printf("Context canceled, initiating shutdown")

		svcErr = ctx.Err()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer shutdownCancel()

	cancel()

	if httpServer != nil {
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
	}

	if err := svc.Stop(shutdownCtx); err != nil {
		log.Printf("Error during service shutdown: %v", err)

		if svcErr == nil {
			svcErr = fmt.Errorf("shutdown error: %w", err)
		}
	}

	return svcErr
}
