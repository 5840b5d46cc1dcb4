package command

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"tyre-matrix/internal/router"
)

type ServeCommand struct {
	Meta
}

func (c *ServeCommand) Help() string {
	return strings.TrimSpace(`
Usage: tyre-matrix serve [-config=path]

  Starts the HTTP trigger layer. On SIGINT or SIGTERM the server stops
  accepting requests and every running solver is terminated.
`)
}

func (c *ServeCommand) Synopsis() string { return "Run the HTTP trigger server" }

func (c *ServeCommand) Run(args []string) int {
	fs, configPath := c.flagSet("serve")
	if err := fs.Parse(args); err != nil {
		return c.usage(err)
	}
	svcCtx, logger, err := c.services(*configPath)
	if err != nil {
		return c.fail(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", svcCtx.Config.Server.Port),
		Handler: router.SetupRouter(svcCtx),
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server listening.", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return c.fail(err)
		}
		return 0
	case <-ctx.Done():
	}

	logger.Info("Shutting down.")
	grace := svcCtx.Config.Solver.StopGrace + 5*time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if n, err := svcCtx.RunService.StopAll(shutdownCtx); err != nil {
		logger.Error("Could not stop every child process.", "stopped", n, "error", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return c.fail(err)
	}
	return 0
}
