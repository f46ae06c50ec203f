package ingest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/complaintlens/internal/storage"
)

// CSV columns, matched case-insensitively
const (
	columnEmail = "email"
	columnID    = "id"
	columnText  = "text"
)

// ImportCSV reads complaints from r. The file needs a header with a Text column;
// email and Id are optional and Id becomes the complaint name.
// Rows are parsed on one goroutine while the previous chunk is stored and embedded.
func (s *Service) ImportCSV(ctx context.Context, projectID int64, r io.Reader) (*Stats, error) {
	start := time.Now()
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return nil, fmt.Errorf("failed to load project %d: %w", projectID, err)
	}

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: file is empty", ErrInvalidCSV)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCSV, err)
	}
	cols := indexColumns(header)
	if _, ok := cols[columnText]; !ok {
		return nil, fmt.Errorf("%w: missing %q column", ErrInvalidCSV, "Text")
	}

	stats := &Stats{}
	chunks := make(chan []*storage.Complaint, 1)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(chunks)
		chunk := make([]*storage.Complaint, 0, s.chunkSize)
		line := 1
		for {
			record, err := reader.Read()
			if errors.Is(err, io.EOF) {
				break
			}
			line++
			if err != nil {
				return fmt.Errorf("%w: line %d: %v", ErrInvalidCSV, line, err)
			}
			stats.Rows++
			text := field(record, cols, columnText)
			if strings.TrimSpace(text) == "" {
				stats.Skipped++
				continue
			}
			chunk = append(chunk, newComplaint(projectID,
				field(record, cols, columnID),
				field(record, cols, columnEmail),
				text))
			if len(chunk) == s.chunkSize {
				select {
				case chunks <- chunk:
				case <-gctx.Done():
					return gctx.Err()
				}
				chunk = make([]*storage.Complaint, 0, s.chunkSize)
			}
		}
		if len(chunk) > 0 {
			select {
			case chunks <- chunk:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	g.Go(func() error {
		for chunk := range chunks {
			if err := s.persist(gctx, chunk, stats); err != nil {
				return err
			}
			s.logger.Debug("csv chunk stored", zap.Int("created", stats.Created))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	stats.Duration = time.Since(start)
	s.logger.Info("csv import finished",
		zap.Int64("project_id", projectID),
		zap.Int("rows", stats.Rows),
		zap.Int("created", stats.Created),
		zap.Int("embedded", stats.Embedded),
		zap.Int("skipped", stats.Skipped))
	return stats, nil
}

func indexColumns(header []string) map[string]int {
	cols := make(map[string]int, len(header))
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if _, dup := cols[key]; !dup {
			cols[key] = i
		}
	}
	return cols
}

func field(record []string, cols map[string]int, name string) string {
	i, ok := cols[name]
	if !ok || i >= len(record) {
		return ""
	}
	return record[i]
}
