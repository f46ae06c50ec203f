// Package ingest turns submitted forms, CSV files and video comments into stored,
// embedded complaints.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/complaintlens/internal/embedder"
	"github.com/dshills/complaintlens/internal/pipeline"
	"github.com/dshills/complaintlens/internal/storage"
	"github.com/dshills/complaintlens/internal/youtube"
)

// Field defaults for complaints that arrive without them
const (
	DefaultName  = "Unnamed Complaint"
	DefaultEmail = "No Email"
)

// DefaultChunkSize is how many rows are created and embedded together
const DefaultChunkSize = 500

// Placeholder coordinates stay inside this range until a projection run
const (
	minPlaceholder = 5
	maxPlaceholder = 400
)

var (
	// ErrInvalidCSV is returned for files without a usable header
	ErrInvalidCSV = errors.New("invalid CSV file")
	// ErrNoCommentSource is returned when comment import is not configured
	ErrNoCommentSource = errors.New("comment import is not configured")
)

// Stats reports the outcome of an import
type Stats struct {
	Rows        int           `json:"rows"`
	Created     int           `json:"created"`
	Skipped     int           `json:"skipped"`
	Embedded    int           `json:"embedded"`
	EmbedFailed int           `json:"embed_failed"`
	Duration    time.Duration `json:"duration"`
}

func (s *Stats) add(ps *pipeline.Stats) {
	s.Embedded += ps.Persisted
	s.EmbedFailed += ps.Failed
}

// Service creates complaints
type Service struct {
	store     storage.Storage
	embedder  embedder.Embedder
	pipeline  *pipeline.Pipeline
	comments  youtube.Source
	chunkSize int
	logger    *zap.Logger
}

// Config contains configuration for the service
type Config struct {
	ChunkSize int
	// Comments is optional; without it ImportComments fails with ErrNoCommentSource
	Comments youtube.Source
}

// New creates an ingestion service
func New(store storage.Storage, emb embedder.Embedder, pipe *pipeline.Pipeline, logger *zap.Logger, cfg Config) *Service {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:     store,
		embedder:  emb,
		pipeline:  pipe,
		comments:  cfg.Comments,
		chunkSize: cfg.ChunkSize,
		logger:    logger,
	}
}

// Submission is a manually entered complaint
type Submission struct {
	Name  string
	Email string
	Text  string
}

// Submit stores one complaint and embeds it right away. A provider failure leaves
// the complaint pending for a later embed_pending run.
func (s *Service) Submit(ctx context.Context, projectID int64, sub Submission) (*storage.Complaint, error) {
	if err := embedder.ValidateRequest(embedder.EmbeddingRequest{Text: sub.Text}); err != nil {
		return nil, err
	}
	c := newComplaint(projectID, sub.Name, sub.Email, sub.Text)

	emb, err := s.embedder.GenerateEmbedding(ctx, embedder.EmbeddingRequest{Text: c.Text})
	if err != nil {
		s.logger.Warn("embedding failed, complaint stored as pending",
			zap.Int64("project_id", projectID),
			zap.Error(err))
	} else {
		c.Embedding = emb.Vector
		c.EmbeddingProvider = emb.Provider
	}

	if err := s.store.CreateComplaint(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to store complaint: %w", err)
	}
	return c, nil
}

func newComplaint(projectID int64, name, email, text string) *storage.Complaint {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultName
	}
	email = strings.TrimSpace(email)
	if email == "" {
		email = DefaultEmail
	}
	return &storage.Complaint{
		ProjectID: projectID,
		Name:      name,
		Email:     email,
		Text:      strings.TrimSpace(text),
		X:         float64(minPlaceholder + rand.IntN(maxPlaceholder-minPlaceholder+1)),
		Y:         float64(minPlaceholder + rand.IntN(maxPlaceholder-minPlaceholder+1)),
	}
}

// persist bulk-creates a chunk and embeds it
func (s *Service) persist(ctx context.Context, chunk []*storage.Complaint, stats *Stats) error {
	if len(chunk) == 0 {
		return nil
	}
	if err := s.store.BulkCreateComplaints(ctx, chunk); err != nil {
		return fmt.Errorf("failed to store complaints: %w", err)
	}
	stats.Created += len(chunk)

	ps, err := s.pipeline.EmbedComplaints(ctx, chunk)
	if err != nil {
		return fmt.Errorf("failed to embed complaints: %w", err)
	}
	stats.add(ps)
	return nil
}

// ImportComments fetches the comments of a video and stores them as complaints.
// The commenter's channel URL is used as the email.
func (s *Service) ImportComments(ctx context.Context, projectID int64, videoURL string, limit int) (*Stats, error) {
	if s.comments == nil {
		return nil, ErrNoCommentSource
	}
	start := time.Now()
	videoID, err := youtube.VideoID(videoURL)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return nil, fmt.Errorf("failed to load project %d: %w", projectID, err)
	}

	comments, err := s.comments.Comments(ctx, videoID, limit)
	if err != nil {
		return nil, err
	}

	stats := &Stats{Rows: len(comments)}
	chunk := make([]*storage.Complaint, 0, s.chunkSize)
	for _, cm := range comments {
		if strings.TrimSpace(cm.Text) == "" {
			stats.Skipped++
			continue
		}
		chunk = append(chunk, newComplaint(projectID, cm.Author, cm.ChannelURL, cm.Text))
		if len(chunk) == s.chunkSize {
			if err := s.persist(ctx, chunk, stats); err != nil {
				return nil, err
			}
			chunk = make([]*storage.Complaint, 0, s.chunkSize)
		}
	}
	if err := s.persist(ctx, chunk, stats); err != nil {
		return nil, err
	}

	stats.Duration = time.Since(start)
	s.logger.Info("comment import finished",
		zap.Int64("project_id", projectID),
		zap.String("video_id", videoID),
		zap.Int("created", stats.Created),
		zap.Int("embedded", stats.Embedded))
	return stats, nil
}
