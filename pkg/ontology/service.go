package ontology

import (
	"context"
	"errors"
	"sync"

	"github.com/synaptica-ai/curator/pkg/common/logger"
	"github.com/synaptica-ai/curator/pkg/mapping"
	"github.com/synaptica-ai/curator/pkg/observability/metrics"
)

var ErrReloadInProgress = errors.New("ontology reload already in progress")

type Service struct {
	repo    *Repository
	crawler *Crawler
	catalog Catalog

	mu        sync.Mutex
	reloading map[string]bool
}

func NewService(repo *Repository, crawler *Crawler, catalog Catalog) *Service {
	return &Service{
		repo:      repo,
		crawler:   crawler,
		catalog:   catalog,
		reloading: map[string]bool{},
	}
}

func (s *Service) ListByType(ctx context.Context, recordType string) ([]Term, error) {
	t, err := mapping.ParseRecordType(recordType)
	if err != nil {
		return nil, err
	}
	return s.repo.ListByType(ctx, string(t))
}

// Reload crawls the catalog roots of recordType and replaces the stored
// terms of that type. The store is untouched when the crawl fails.
func (s *Service) Reload(ctx context.Context, recordType string) (int, error) {
	t, err := mapping.ParseRecordType(recordType)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	if s.reloading[string(t)] {
		s.mu.Unlock()
		return 0, ErrReloadInProgress
	}
	s.reloading[string(t)] = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.reloading, string(t))
		s.mu.Unlock()
	}()

	terms, err := s.crawler.Crawl(ctx, string(t), s.catalog.RootsFor(string(t)))
	if err != nil {
		logger.Log.WithError(err).WithField("type", t).Error("Ontology crawl failed")
		return 0, err
	}
	if err := s.repo.ReplaceType(ctx, string(t), terms); err != nil {
		return 0, err
	}

	metrics.ObserveOntologyTerms(string(t), len(terms))
	logger.Log.WithFields(map[string]interface{}{
		"type":  t,
		"terms": len(terms),
	}).Info("Ontology terms reloaded")
	return len(terms), nil
}

// ObserveStored publishes the stored term counts, e.g. after startup.
func (s *Service) ObserveStored(ctx context.Context) error {
	for _, t := range mapping.Types() {
		n, err := s.repo.CountByType(ctx, string(t))
		if err != nil {
			return err
		}
		metrics.ObserveOntologyTerms(string(t), int(n))
	}
	return nil
}
