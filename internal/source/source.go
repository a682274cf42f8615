// Package source reads configured filter list files
package source

import (
	"bufio"
	"context"
	"fmt"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/bnema/wave-shield/internal/models"
)

const defaultMaxConcurrent = 4

// Reader reads filter lists from disk
type Reader struct {
	maxConcurrent int
}

// ListResult holds the lines of one list, or the error that prevented
// reading it
type ListResult struct {
	Name  string
	Path  string
	Lines []string
	Err   error
}

// New creates a reader from config
func New(cfg models.SourcesConfig) *Reader {
	n := cfg.MaxConcurrent
	if n <= 0 {
		n = defaultMaxConcurrent
	}
	return &Reader{maxConcurrent: n}
}

// Read loads every list concurrently. Results keep the order of lists; a
// list that fails does not stop the others.
func (r *Reader) Read(ctx context.Context, lists []models.FilterList) ([]ListResult, error) {
	results := make([]ListResult, len(lists))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.maxConcurrent)

	for i, list := range lists {
		results[i] = ListResult{Name: list.Name, Path: list.Path}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			lines, err := readLines(list.Path)
			if err != nil {
				results[i].Err = fmt.Errorf("read list %s: %w", list.Name, err)
				return nil
			}
			results[i].Lines = lines
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Lines concatenates the lines of every successfully read list in order
func Lines(results []ListResult) []string {
	var all []string
	for _, r := range results {
		if r.Err == nil {
			all = append(all, r.Lines...)
		}
	}
	return all
}

func readLines(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, scanner.Err()
}
