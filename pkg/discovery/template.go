package discovery

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	sourceFile         = "source.yaml"
	sampleTemplate     = "metadata-patient_sample.tsv"
	drugDosingTemplate = "drugdosing-Sheet1.tsv"
	treatmentTemplate  = "patienttreatment.tsv"
	descriptionColumn  = "field"
	treatmentSeparator = "+"
	maxSourceYAMLDepth = 2
)

var (
	ErrNoSourceFile = errors.New("no source.yaml in provider directory")
	ErrNoProvider   = errors.New("source.yaml has no provider abbreviation")
)

// Source is the part of a provider's source.yaml the scanner reads.
type Source struct {
	Provider string `yaml:"provider"`
	Name     string `yaml:"name"`
}

// readSource finds source.yaml at most two levels below dir.
func readSource(dir string) (Source, error) {
	var found string
	base := strings.Count(filepath.Clean(dir), string(filepath.Separator))
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() && strings.Count(filepath.Clean(path), string(filepath.Separator))-base >= maxSourceYAMLDepth {
			return filepath.SkipDir
		}
		if !d.IsDir() && d.Name() == sourceFile {
			found = path
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return Source{}, err
	}
	if found == "" {
		return Source{}, fmt.Errorf("%w: %s", ErrNoSourceFile, dir)
	}

	content, err := os.ReadFile(found)
	if err != nil {
		return Source{}, err
	}
	var src Source
	if err := yaml.Unmarshal(content, &src); err != nil {
		return Source{}, fmt.Errorf("failed to parse %s: %w", found, err)
	}
	src.Provider = strings.TrimSpace(src.Provider)
	if src.Provider == "" {
		return Source{}, fmt.Errorf("%w: %s", ErrNoProvider, found)
	}
	return src, nil
}

// Table is a cleaned template sheet: header names are lowercased and the
// description column and description rows are gone.
type Table struct {
	Columns map[string]int
	Rows    [][]string
}

func (t Table) Get(row []string, column string) string {
	i, ok := t.Columns[strings.ToLower(column)]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// readTemplate parses a tab separated template. Templates carry a leading
// "Field" column whose cells are only filled on description rows below the
// header; those rows are dropped together with blank ones.
func readTemplate(r io.Reader) (Table, error) {
	reader := csv.NewReader(r)
	reader.Comma = '\t'
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return Table{}, err
	}
	if len(records) == 0 {
		return Table{}, nil
	}

	header := records[0]
	offset := 0
	if len(header) > 0 && strings.EqualFold(strings.TrimSpace(header[0]), descriptionColumn) {
		offset = 1
	}

	t := Table{Columns: map[string]int{}}
	for i, name := range header[offset:] {
		t.Columns[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, row := range records[1:] {
		if offset == 1 && len(row) > 0 && strings.TrimSpace(row[0]) != "" {
			continue
		}
		if len(row) < offset || blank(row[offset:]) {
			continue
		}
		t.Rows = append(t.Rows, row[offset:])
	}
	return t, nil
}

func blank(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// templateFiles lists files in dir whose name ends with one of suffixes.
// Provider files are named <provider>_<template>.
func templateFiles(dir string, suffixes ...string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		for _, suffix := range suffixes {
			if strings.HasSuffix(e.Name(), suffix) {
				out = append(out, filepath.Join(dir, e.Name()))
				break
			}
		}
	}
	return out, nil
}

func readTemplateFile(path string) (Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return Table{}, err
	}
	defer f.Close()

	t, err := readTemplate(f)
	if err != nil {
		return Table{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return t, nil
}

// splitTreatment separates a combination therapy such as
// "cisplatin + radiotherapy" into its drugs.
func splitTreatment(name string) []string {
	var out []string
	for _, part := range strings.Split(name, treatmentSeparator) {
		if drug := strings.TrimSpace(part); drug != "" {
			out = append(out, drug)
		}
	}
	return out
}
