package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"seqflow/internal/sequence"
)

// stepFilename returns the file name for the step at zero-based position i.
// Names sort lexicographically in sequence order; the deserializer relies
// on that order alone.
func stepFilename(i int, typ sequence.StepType) string {
	return fmt.Sprintf("step_%03d_%s.lua", i+1, typ)
}

// StoreSequence writes seq below root as one directory (the escaped label)
// containing one file per step. Existing step files are replaced.
func StoreSequence(root string, seq *sequence.Sequence) error {
	dir := filepath.Join(root, EscapeFilename(seq.Label()))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create sequence dir: %w", err)
	}

	// Drop stale step files from a previous, longer version.
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read sequence dir: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "step_") && strings.HasSuffix(e.Name(), ".lua") {
			if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
				return fmt.Errorf("remove stale step file: %w", err)
			}
		}
	}

	for i, step := range seq.Steps() {
		path := filepath.Join(dir, stepFilename(i, step.Type()))
		if err := os.WriteFile(path, SerializeStep(step), 0o644); err != nil {
			return fmt.Errorf("write step file: %w", err)
		}
	}
	return nil
}

// LoadSequence reads a sequence directory written by StoreSequence. The
// label comes from the unescaped directory name; steps are read in
// lexicographic filename order.
func LoadSequence(path string) (*sequence.Sequence, error) {
	if path == "" {
		return nil, fmt.Errorf("sequence path must not be empty")
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("sequence path: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("sequence path %q is not a directory", path)
	}

	seq := sequence.NewSequence(UnescapeFilename(filepath.Base(path)))

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("read sequence dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".lua") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(path, name))
		if err != nil {
			return nil, fmt.Errorf("read step file %s: %w", name, err)
		}
		step, err := ParseStep(data)
		if err != nil {
			return nil, fmt.Errorf("parse step file %s: %w", name, err)
		}
		seq.PushBack(step)
	}

	return seq, nil
}
