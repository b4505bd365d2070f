package agentchat

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	adapterhttp "github.com/membranehq/ai-agent-example/adapter/http"
	"github.com/membranehq/ai-agent-example/service"
)

// ServeCmd starts the embedded HTTP server.
// Usage: agentchat serve -f config.yaml --addr :8080
type ServeCmd struct {
	Config string `short:"f" long:"config" description:"service config YAML path" required:"true"`
	Addr   string `short:"a" long:"addr" description:"listen address, overrides server.port from config"`
}

func (s *ServeCmd) Execute(_ []string) error {
	ctx := context.Background()
	cfg, err := service.LoadConfig(ctx, s.Config)
	if err != nil {
		return err
	}

	core, err := service.New(ctx, cfg, service.Options{})
	if err != nil {
		return err
	}
	defer core.Close()

	serverOpts := []adapterhttp.ServerOption{adapterhttp.WithServerLogger(core.Log)}
	if cfg.Webhook.Secret != "" {
		evictor, _ := core.Clients.(adapterhttp.ClientEvictor)
		webhook, err := adapterhttp.NewConnectionWebhook(cfg.Webhook.Secret, core.Connections, core.Broker, evictor, core.Log)
		if err != nil {
			return err
		}
		serverOpts = append(serverOpts, adapterhttp.WithWebhook(webhook))
	} else {
		core.Log.Warn("no webhook secret configured, connection events disabled")
	}
	handler := adapterhttp.NewServer(core.Chat, serverOpts...)

	addr := s.Addr
	if addr == "" {
		addr = fmt.Sprintf(":%d", cfg.Server.Port)
	}
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() {
		core.Log.Infof("agentchat HTTP server listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		errCh <- nil // server closed normally
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		core.Log.Infof("received %s, initiating graceful shutdown", sig)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
