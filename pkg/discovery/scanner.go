package discovery

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/synaptica-ai/curator/pkg/common/logger"
	"github.com/synaptica-ai/curator/pkg/mapping"
	"golang.org/x/sync/errgroup"
)

const defaultWorkers = 4

// Registrar is the part of the curation service the scanner drives.
type Registrar interface {
	RegisterUnmapped(ctx context.Context, recordType string, values map[string]string) (*mapping.Record, bool, error)
	PurgeUnmapped(ctx context.Context) (int, error)
	MarkOrphans(ctx context.Context, dataSources []string, seen map[string]bool) (int, error)
}

// Attribute is one attribute combination read from a provider template.
type Attribute struct {
	Type   mapping.RecordType
	Values map[string]string
}

// Provider is one data provider directory below the upstream root.
type Provider struct {
	Dir        string
	Source     Source
	Attributes []Attribute
}

type Report struct {
	Providers  int               `json:"providers"`
	Attributes int               `json:"attributes"`
	Purged     int               `json:"purged"`
	Orphaned   int               `json:"orphaned"`
	Registered []*mapping.Record `json:"mappings"`
	Failures   []string          `json:"failures,omitempty"`
}

type Scanner struct {
	root      string
	registrar Registrar
	reconcile bool
	workers   int
}

func NewScanner(root string, registrar Registrar) *Scanner {
	return &Scanner{root: root, registrar: registrar, workers: defaultWorkers}
}

// WithOrphanReconciliation marks records of scanned providers that no
// template row produced any more.
func (s *Scanner) WithOrphanReconciliation(enabled bool) *Scanner {
	s.reconcile = enabled
	return s
}

// ProviderDirs lists the provider directories directly below the root in
// name order. A missing root yields no providers.
func (s *Scanner) ProviderDirs() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Log.WithField("dir", s.root).Warn("Upstream directory does not exist")
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list upstream directory: %w", err)
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, filepath.Join(s.root, e.Name()))
		}
	}
	sort.Strings(dirs)
	return dirs, nil
}

// ReadProvider parses the source.yaml and templates of one provider.
func ReadProvider(dir string) (Provider, error) {
	src, err := readSource(dir)
	if err != nil {
		return Provider{}, err
	}
	p := Provider{Dir: dir, Source: src}

	samples, err := templateFiles(dir, sampleTemplate)
	if err != nil {
		return Provider{}, err
	}
	for _, path := range samples {
		t, err := readTemplateFile(path)
		if err != nil {
			return Provider{}, err
		}
		for _, row := range t.Rows {
			p.Attributes = append(p.Attributes, Attribute{
				Type: mapping.TypeDiagnosis,
				Values: map[string]string{
					mapping.LabelDataSource:      src.Provider,
					mapping.LabelSampleDiagnosis: t.Get(row, "diagnosis"),
					mapping.LabelOriginTissue:    t.Get(row, "primary_site"),
					mapping.LabelTumorType:       t.Get(row, "tumour_type"),
				},
			})
		}
	}

	var treatments []string
	for _, sub := range []string{dir, filepath.Join(dir, "treatment"), filepath.Join(dir, "drug")} {
		files, err := templateFiles(sub, drugDosingTemplate, treatmentTemplate)
		if err != nil {
			return Provider{}, err
		}
		treatments = append(treatments, files...)
	}
	for _, path := range treatments {
		t, err := readTemplateFile(path)
		if err != nil {
			return Provider{}, err
		}
		for _, row := range t.Rows {
			for _, drug := range splitTreatment(t.Get(row, "treatment_name")) {
				p.Attributes = append(p.Attributes, Attribute{
					Type: mapping.TypeTreatment,
					Values: map[string]string{
						mapping.LabelDataSource:    src.Provider,
						mapping.LabelTreatmentName: drug,
					},
				})
			}
		}
	}
	return p, nil
}

// Scan purges stale unmapped records, reads every provider concurrently and
// registers the attribute combinations that have no mapping yet. A provider
// that cannot be read is reported and skipped.
func (s *Scanner) Scan(ctx context.Context) (*Report, error) {
	dirs, err := s.ProviderDirs()
	if err != nil {
		return nil, err
	}

	report := &Report{Registered: []*mapping.Record{}}
	report.Purged, err = s.registrar.PurgeUnmapped(ctx)
	if err != nil {
		return nil, err
	}

	providers := make([]*Provider, len(dirs))
	failures := make([]error, len(dirs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, dir := range dirs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			p, err := ReadProvider(dir)
			if err != nil {
				failures[i] = err
				return nil
			}
			providers[i] = &p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	var scanned []string
	for i, p := range providers {
		if p == nil {
			logger.Log.WithError(failures[i]).WithField("dir", dirs[i]).Error("Failed to read provider")
			report.Failures = append(report.Failures, failures[i].Error())
			continue
		}
		report.Providers++
		scanned = append(scanned, p.Source.Provider)

		for _, attr := range p.Attributes {
			report.Attributes++
			rec, created, err := s.registrar.RegisterUnmapped(ctx, string(attr.Type), attr.Values)
			if err != nil {
				if errors.Is(err, mapping.ErrIncompleteIdentity) {
					continue
				}
				return nil, fmt.Errorf("provider %s: %w", p.Source.Provider, err)
			}
			seen[rec.Key] = true
			if created {
				report.Registered = append(report.Registered, rec)
			}
		}
	}

	if s.reconcile && len(scanned) > 0 {
		report.Orphaned, err = s.registrar.MarkOrphans(ctx, scanned, seen)
		if err != nil {
			return nil, err
		}
	}

	logger.Log.WithFields(map[string]interface{}{
		"providers":  report.Providers,
		"attributes": report.Attributes,
		"registered": len(report.Registered),
		"purged":     report.Purged,
		"orphaned":   report.Orphaned,
	}).Info("Upstream scan finished")
	return report, nil
}
