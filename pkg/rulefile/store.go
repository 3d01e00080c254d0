package rulefile

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/synaptica-ai/curator/pkg/common/logger"
	"github.com/synaptica-ai/curator/pkg/mapping"
	"golang.org/x/sync/errgroup"
)

const backupTimeFormat = "20060102T150405.000Z"

// Store reads and writes the rule files of a mapping directory.
type Store struct {
	dir string
	now func() time.Time
}

func NewStore(dir string) *Store {
	return &Store{dir: dir, now: func() time.Time { return time.Now().UTC() }}
}

func (s *Store) Dir() string {
	return s.dir
}

func FileName(t mapping.RecordType) string {
	return string(t) + "_mappings.json"
}

func (s *Store) Path(t mapping.RecordType) string {
	return filepath.Join(s.dir, FileName(t))
}

// Paths returns the rule file of every record type, failing if any is
// missing.
func (s *Store) Paths() (map[mapping.RecordType]string, error) {
	paths := make(map[mapping.RecordType]string)
	for _, t := range mapping.Types() {
		path := s.Path(t)
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("%w: %s rules at %s", ErrRulesNotFound, t, path)
			}
			return nil, fmt.Errorf("failed to stat %s: %w", path, err)
		}
		paths[t] = path
	}
	return paths, nil
}

// Load parses every rule file concurrently and returns a new index. Records
// are added type by type in file order. Nothing is returned unless all
// files parse.
func (s *Store) Load(ctx context.Context) (*mapping.Index, error) {
	paths, err := s.Paths()
	if err != nil {
		return nil, err
	}

	types := mapping.Types()
	parsed := make([][]*mapping.Record, len(types))

	g, gctx := errgroup.WithContext(ctx)
	for i, t := range types {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			records, err := s.loadFile(paths[t], t)
			if err != nil {
				return err
			}
			parsed[i] = records
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	idx := mapping.NewIndex()
	for i, records := range parsed {
		if err := idx.AddAll(records); err != nil {
			return nil, fmt.Errorf("failed to index %s rules: %w", types[i], err)
		}
	}

	logger.Log.WithFields(map[string]interface{}{
		"dir":     s.dir,
		"records": idx.Len(),
	}).Info("Loaded mapping rules")
	return idx, nil
}

func (s *Store) loadFile(path string, t mapping.RecordType) ([]*mapping.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	records, err := Decode(f, t)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return records, nil
}

// Write replaces the rule file of type t, moving the previous one to
// backup/<type>/<timestamp>-<type>_mappings.json. It returns the backup
// path, empty when there was no previous file.
func (s *Store) Write(t mapping.RecordType, records []*mapping.Record) (string, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, records); err != nil {
		return "", err
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create mapping dir: %w", err)
	}

	target := s.Path(t)
	backup, err := s.backup(t, target)
	if err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(s.dir, "."+FileName(t)+"-*")
	if err != nil {
		return backup, fmt.Errorf("failed to create temp rule file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return backup, fmt.Errorf("failed to write rule file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return backup, fmt.Errorf("failed to write rule file: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return backup, fmt.Errorf("failed to replace rule file: %w", err)
	}

	logger.Log.WithFields(map[string]interface{}{
		"entity_type": t,
		"records":     len(records),
		"backup":      backup,
	}).Info("Rule file written")
	return backup, nil
}

func (s *Store) backup(t mapping.RecordType, target string) (string, error) {
	if _, err := os.Stat(target); errors.Is(err, os.ErrNotExist) {
		return "", nil
	}

	dir := filepath.Join(s.dir, "backup", string(t))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create backup dir: %w", err)
	}
	backup := filepath.Join(dir, s.now().Format(backupTimeFormat)+"-"+FileName(t))
	if err := os.Rename(target, backup); err != nil {
		return "", fmt.Errorf("failed to back up rule file: %w", err)
	}
	return backup, nil
}

// WriteArchive zips the current rule files into w.
func (s *Store) WriteArchive(w io.Writer) error {
	paths, err := s.Paths()
	if err != nil {
		return err
	}

	zw := zip.NewWriter(w)
	for _, t := range mapping.Types() {
		if err := copyIntoZip(zw, FileName(t), paths[t]); err != nil {
			zw.Close()
			return err
		}
	}
	return zw.Close()
}

func copyIntoZip(zw *zip.Writer, name, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	entry, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("failed to add %s to archive: %w", name, err)
	}
	if _, err := io.Copy(entry, f); err != nil {
		return fmt.Errorf("failed to add %s to archive: %w", name, err)
	}
	return nil
}

// WriteExport zips one rule file per type, named <prefix>_<type>_mappings.json,
// holding only records whose data source is in sources.
func WriteExport(w io.Writer, prefix string, sources []string, records []*mapping.Record) error {
	wanted := make(map[string]bool, len(sources))
	for _, src := range sources {
		wanted[strings.ToLower(strings.TrimSpace(src))] = true
	}

	byType := make(map[mapping.RecordType][]*mapping.Record)
	for _, rec := range records {
		if wanted[rec.Value(mapping.LabelDataSource)] {
			byType[rec.Type] = append(byType[rec.Type], rec)
		}
	}

	zw := zip.NewWriter(w)
	for _, t := range mapping.Types() {
		entry, err := zw.Create(prefix + "_" + FileName(t))
		if err != nil {
			zw.Close()
			return fmt.Errorf("failed to add %s export: %w", t, err)
		}
		if err := Encode(entry, byType[t]); err != nil {
			zw.Close()
			return err
		}
	}
	return zw.Close()
}
