// Package discovery aggregates the two parallel discovery sources of
// §4.2 — mDNS service browsing and SSDP multicast — into the shared
// Device Directory (§4.1, O1: the directory is a linearizable map, so
// concurrent upserts from both sources are safe without extra locking
// here).
package discovery

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/paulthery/IINA-Cast-Plugin/internal/domain"
)

// Directory is the subset of internal/directory.Directory the discovery
// service populates.
type Directory interface {
	Upsert(domain.Device)
	Clear()
}

// Service runs both discovery sources and keeps the Directory populated.
type Service struct {
	dir    Directory
	mdns   *MDNSDiscoverer
	ssdp   *SSDPDiscoverer
	logger *slog.Logger

	mu          sync.Mutex
	cancelRound func()
}

// New builds a Service targeting dir.
func New(dir Directory, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		dir:    dir,
		mdns:   NewMDNSDiscoverer(logger),
		ssdp:   NewSSDPDiscoverer(logger),
		logger: logger,
	}
}

// Refresh clears the directory and runs both discovery sources again,
// concurrently via errgroup.Group — a discovery round fans out exactly the
// two sources and nothing more, which is the teacher's own lifecycle
// fan-out idiom, applied here to discovery instead of shutdown.
func (s *Service) Refresh() {
	s.mu.Lock()
	if s.cancelRound != nil {
		s.cancelRound()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancelRound = cancel
	s.mu.Unlock()

	s.dir.Clear()
	s.ssdp.Reset()

	go func() {
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return s.mdns.Discover(gctx, s.dir.Upsert)
		})
		g.Go(func() error {
			return s.ssdp.Discover(gctx, s.dir.Upsert)
		})
		if err := g.Wait(); err != nil {
			s.logger.Warn("discovery round failed", "error", err)
		}
	}()
}

// Stop cancels any in-flight discovery round.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelRound != nil {
		s.cancelRound()
		s.cancelRound = nil
	}
}
