package youtube

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var (
	// ErrInvalidURL is returned for URLs that do not point at a video
	ErrInvalidURL = errors.New("invalid video URL")
	// ErrCommentsDisabled is returned when the video does not accept comments
	ErrCommentsDisabled = errors.New("comments are disabled for this video")
	// ErrVideoNotFound is returned for private or deleted videos
	ErrVideoNotFound = errors.New("video not found")
	// ErrNoComments is returned when a video has no comments
	ErrNoComments = errors.New("no comments found for this video")
)

// VideoID extracts the id from watch, shorts, embed, /v/ and youtu.be URLs
func VideoID(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidURL)
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidURL, raw)
	}

	host := strings.ToLower(u.Hostname())
	var id string
	switch {
	case host == "youtu.be" || strings.HasSuffix(host, ".youtu.be"):
		id, _, _ = strings.Cut(strings.TrimPrefix(u.Path, "/"), "/")
	case host == "youtube.com" || strings.HasSuffix(host, ".youtube.com"):
		id = idFromPath(u)
	default:
		return "", fmt.Errorf("%w: not a YouTube host %q", ErrInvalidURL, host)
	}
	if id == "" {
		return "", fmt.Errorf("%w: no video id in %q", ErrInvalidURL, raw)
	}
	return id, nil
}

func idFromPath(u *url.URL) string {
	if u.Path == "/watch" || strings.HasPrefix(u.Path, "/watch/") {
		return u.Query().Get("v")
	}
	for _, prefix := range []string{"/shorts/", "/embed/", "/v/"} {
		if rest, ok := strings.CutPrefix(u.Path, prefix); ok {
			id, _, _ := strings.Cut(rest, "/")
			return id
		}
	}
	return ""
}
