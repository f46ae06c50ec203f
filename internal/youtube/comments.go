// Package youtube fetches the comments of a video with the YouTube Data API.
package youtube

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"
)

const pageSize = 100

// Comment is a top-level comment or reply
type Comment struct {
	ID         string
	Author     string
	ChannelURL string
	Text       string
	ParentID   string // empty for top-level comments
}

// Source lists the comments of a video
type Source interface {
	Comments(ctx context.Context, videoID string, limit int) ([]Comment, error)
}

// Client is a Source backed by the YouTube Data API v3
type Client struct {
	svc    *yt.Service
	logger *zap.Logger
}

// NewClient creates a client. Extra options are appended after the API key,
// tests use option.WithEndpoint.
func NewClient(ctx context.Context, apiKey string, logger *zap.Logger, opts ...option.ClientOption) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("youtube API key is required")
	}
	svc, err := yt.NewService(ctx, append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create YouTube service: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{svc: svc, logger: logger}, nil
}

var errLimitReached = errors.New("limit reached")

// Comments returns top-level comments followed by their replies, paginating until
// limit comments are collected (limit <= 0 means all).
func (c *Client) Comments(ctx context.Context, videoID string, limit int) ([]Comment, error) {
	var out []Comment
	full := func() bool { return limit > 0 && len(out) >= limit }

	call := c.svc.CommentThreads.List([]string{"snippet", "replies"}).
		VideoId(videoID).
		TextFormat("plainText").
		MaxResults(pageSize)

	err := call.Pages(ctx, func(resp *yt.CommentThreadListResponse) error {
		for _, item := range resp.Items {
			if item.Snippet == nil || item.Snippet.TopLevelComment == nil || item.Snippet.TopLevelComment.Snippet == nil {
				continue
			}
			top := item.Snippet.TopLevelComment
			out = append(out, fromSnippet(top.Id, "", top.Snippet))
			if full() {
				return errLimitReached
			}
			if item.Snippet.TotalReplyCount > 0 {
				replies, err := c.replies(ctx, top.Id)
				if err != nil {
					c.logger.Warn("failed to fetch replies", zap.String("comment_id", top.Id), zap.Error(err))
				}
				for _, r := range replies {
					out = append(out, r)
					if full() {
						return errLimitReached
					}
				}
			}
		}
		return nil
	})
	if err != nil && !errors.Is(err, errLimitReached) {
		return nil, classify(err)
	}
	if len(out) == 0 {
		return nil, ErrNoComments
	}
	c.logger.Info("fetched comments", zap.String("video_id", videoID), zap.Int("count", len(out)))
	return out, nil
}

func (c *Client) replies(ctx context.Context, parentID string) ([]Comment, error) {
	var out []Comment
	call := c.svc.Comments.List([]string{"snippet"}).
		ParentId(parentID).
		TextFormat("plainText").
		MaxResults(pageSize)
	err := call.Pages(ctx, func(resp *yt.CommentListResponse) error {
		for _, item := range resp.Items {
			if item.Snippet != nil {
				out = append(out, fromSnippet(item.Id, parentID, item.Snippet))
			}
		}
		return nil
	})
	return out, err
}

func fromSnippet(id, parentID string, s *yt.CommentSnippet) Comment {
	return Comment{
		ID:         id,
		Author:     s.AuthorDisplayName,
		ChannelURL: s.AuthorChannelUrl,
		Text:       s.TextDisplay,
		ParentID:   parentID,
	}
}

// classify maps API reasons onto sentinel errors
func classify(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		for _, item := range apiErr.Errors {
			switch item.Reason {
			case "commentsDisabled":
				return fmt.Errorf("%w: %v", ErrCommentsDisabled, err)
			case "videoNotFound":
				return fmt.Errorf("%w: %v", ErrVideoNotFound, err)
			}
		}
	}
	return fmt.Errorf("failed to fetch comments: %w", err)
}
