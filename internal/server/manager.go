package server

import (
	"context"
	"fmt"
	"sync"

	"github.com/example/tftpd-aio/internal/config"
	"github.com/example/tftpd-aio/internal/utils"
)

// Manager handles the lifecycle of the TFTP server, separating "build the
// Server interface values" from "run them and wait" so cmd/tftpd stays a
// thin CLI wrapper.
type Manager struct {
	config  *config.Config
	logger  *utils.Logger
	servers []Server
	wg      sync.WaitGroup
}

// Server interface that a protocol server must implement.
type Server interface {
	Start(ctx context.Context) error
	Stop() error
	Name() string
	Port() int
}

// NewManager creates a new server manager.
func NewManager(cfg *config.Config, logger *utils.Logger) *Manager {
	return &Manager{
		config:  cfg,
		logger:  logger,
		servers: make([]Server, 0, 1),
	}
}

// Start creates and runs the TFTP server.
func (m *Manager) Start(ctx context.Context) error {
	m.logger.Info("Starting server manager...")

	if err := m.createServers(); err != nil {
		return fmt.Errorf("failed to create servers: %w", err)
	}

	for _, srv := range m.servers {
		m.wg.Add(1)
		go func(s Server) {
			defer m.wg.Done()

			m.logger.Info("Starting %s server on port %d", s.Name(), s.Port())

			if err := s.Start(ctx); err != nil {
				m.logger.Error("Failed to start %s server: %v", s.Name(), err)
			}
		}(srv)
	}

	m.logger.Info("All servers started successfully")
	return nil
}

// Stop stops the TFTP server and waits for its goroutine to exit.
func (m *Manager) Stop() error {
	m.logger.Info("Stopping all servers...")

	for _, srv := range m.servers {
		if err := srv.Stop(); err != nil {
			m.logger.Error("Failed to stop %s server: %v", srv.Name(), err)
		} else {
			m.logger.Info("Stopped %s server", srv.Name())
		}
	}

	m.wg.Wait()

	m.logger.Info("All servers stopped")
	return nil
}

func (m *Manager) createServers() error {
	m.servers = append(m.servers, NewTFTPServer(m.config, m.logger))
	return nil
}
