package bridge

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/vautr-io/vautr/bridge/handlers"
	"github.com/vautr-io/vautr/bridge/server"
	"github.com/vautr-io/vautr/bridge/tasks"
	"github.com/vautr-io/vautr/client"
	netconfig "github.com/vautr-io/vautr/client/config"
)

// Service owns the relay's lifecycle: the lock server, the task runner,
// and the HTTP surface, started together and shut down in reverse.
type Service struct {
	config     *Config
	logger     zerolog.Logger
	httpServer *server.Server
	runner     *tasks.Runner

	ctx    context.Context
	cancel context.CancelFunc
	sigCh  chan os.Signal
}

// NewService wires the full relay from environment configuration.
func NewService(logger zerolog.Logger) (*Service, error) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	config := NewConfig(logger)

	network, ok := netconfig.GetNetworkByID(config.NetworkID)
	if !ok {
		cancel()
		return nil, fmt.Errorf("unknown network %q", config.NetworkID)
	}
	if config.RPCEndpoint != "" {
		network.RPC = config.RPCEndpoint
	}
	chain, err := client.NewFromNetwork(network, logger)
	if err != nil {
		cancel()
		return nil, errors.Wrap(err, "building chain client")
	}
	logger.Info().
		Str("network", network.NetworkID).
		Str("rpc", network.RPC).
		Msg("chain client ready")

	lock, err := config.ShamirServer(logger)
	if err != nil {
		cancel()
		return nil, errors.Wrap(err, "building lock server")
	}

	connections := handlers.NewConnectionManager(logger)
	sse := handlers.NewSSEManager(logger)
	results := handlers.NewResultStore()
	broadcaster := handlers.NewStatusBroadcaster(connections, sse, results)
	channel := handlers.NewRelayChannel(logger, connections)

	runner, err := tasks.NewRunner(tasks.Config{
		Logger:    logger,
		Chain:     chain,
		Publisher: broadcaster,
		Channel:   channel,
	})
	if err != nil {
		cancel()
		return nil, errors.Wrap(err, "building task runner")
	}

	httpServer := server.NewServer(&server.Config{
		HTTPAddr:       fmt.Sprintf(":%d", config.HTTPPort),
		JWTSecret:      config.JWTSecret,
		AllowedOrigins: config.AllowedOrigins,
		Lock:           lock,
		Runner:         runner,
		Connections:    connections,
		SSE:            sse,
		Results:        results,
		Chain:          chain,
		ApplyRoute:     config.ApplyRoute,
		RemoveRoute:    config.RemoveRoute,
		Logger:         logger,
	})

	return &Service{
		config:     config,
		logger:     logger,
		httpServer: httpServer,
		runner:     runner,
		ctx:        ctx,
		cancel:     cancel,
		sigCh:      sigCh,
	}, nil
}

// Start runs the relay until a shutdown signal or a fatal server error.
func (s *Service) Start() error {
	s.logger.Info().Int("port", s.config.HTTPPort).Msg("starting relay")

	s.runner.Start()

	go func() {
		if err := s.httpServer.Start(); err != nil {
			s.logger.Error().Err(err).Msg("http server stopped")
			s.cancel()
		}
	}()

	select {
	case <-s.sigCh:
		s.logger.Info().Msg("shutdown signal received")
	case <-s.ctx.Done():
	}
	return nil
}

// Shutdown stops intake, waits for the in-flight task, then drains the
// HTTP server.
func (s *Service) Shutdown() {
	s.logger.Info().Msg("shutting down relay")

	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	if err := s.runner.Shutdown(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("runner did not drain in time")
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("http server shutdown")
	}

	s.cancel()
	s.logger.Info().Msg("relay stopped")
}
