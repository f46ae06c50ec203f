package youtube

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func TestVideoID(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"https://youtube.com/watch?v=abc&t=42s", "abc"},
		{"https://m.youtube.com/watch?v=mob", "mob"},
		{"https://www.youtube.com/shorts/short1", "short1"},
		{"https://www.youtube.com/embed/emb1?autoplay=1", "emb1"},
		{"https://www.youtube.com/v/old1", "old1"},
		{"https://youtu.be/tiny1", "tiny1"},
		{"https://youtu.be/tiny2/extra", "tiny2"},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			got, err := VideoID(tt.url)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	for _, bad := range []string{
		"",
		"not a url",
		"https://vimeo.com/12345",
		"https://www.youtube.com/channel/xyz",
		"https://www.youtube.com/watch",
		"https://youtu.be/",
	} {
		_, err := VideoID(bad)
		assert.ErrorIs(t, err, ErrInvalidURL, bad)
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func thread(id, author, text string, replies int) map[string]interface{} {
	return map[string]interface{}{
		"id": id,
		"snippet": map[string]interface{}{
			"totalReplyCount": replies,
			"topLevelComment": map[string]interface{}{
				"id": id,
				"snippet": map[string]interface{}{
					"authorDisplayName": author,
					"authorChannelUrl":  "https://youtube.com/@" + author,
					"textDisplay":       text,
				},
			},
		},
	}
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient(context.Background(), "key", nil, option.WithEndpoint(srv.URL+"/"))
	require.NoError(t, err)
	return c
}

func TestComments_PaginatesWithReplies(t *testing.T) {
	var threadCalls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key", r.URL.Query().Get("key"))
		switch {
		case strings.HasSuffix(r.URL.Path, "/commentThreads"):
			threadCalls.Add(1)
			assert.Equal(t, "vid", r.URL.Query().Get("videoId"))
			if r.URL.Query().Get("pageToken") == "" {
				writeJSON(w, map[string]interface{}{
					"items":         []interface{}{thread("c1", "ann", "too slow", 1)},
					"nextPageToken": "p2",
				})
				return
			}
			writeJSON(w, map[string]interface{}{
				"items": []interface{}{thread("c2", "bob", "wrong size", 0)},
			})
		case strings.HasSuffix(r.URL.Path, "/comments"):
			assert.Equal(t, "c1", r.URL.Query().Get("parentId"))
			writeJSON(w, map[string]interface{}{
				"items": []interface{}{map[string]interface{}{
					"id": "r1",
					"snippet": map[string]interface{}{
						"authorDisplayName": "cat",
						"authorChannelUrl":  "https://youtube.com/@cat",
						"textDisplay":       "same here",
					},
				}},
			})
		default:
			http.NotFound(w, r)
		}
	})

	got, err := c.Comments(context.Background(), "vid", 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "too slow", got[0].Text)
	assert.Equal(t, "same here", got[1].Text)
	assert.Equal(t, "c1", got[1].ParentID)
	assert.Equal(t, "https://youtube.com/@bob", got[2].ChannelURL)
	assert.Equal(t, int32(2), threadCalls.Load())
}

func TestComments_Limit(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"items":         []interface{}{thread("a", "a", "1", 0), thread("b", "b", "2", 0)},
			"nextPageToken": "more",
		})
	})
	got, err := c.Comments(context.Background(), "vid", 3)
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestComments_Errors(t *testing.T) {
	apiError := func(status int, reason string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"error": map[string]interface{}{
					"code":    status,
					"message": reason,
					"errors":  []interface{}{map[string]interface{}{"reason": reason, "message": reason}},
				},
			})
		}
	}

	_, err := newTestClient(t, apiError(http.StatusForbidden, "commentsDisabled")).Comments(context.Background(), "vid", 0)
	assert.ErrorIs(t, err, ErrCommentsDisabled)

	_, err = newTestClient(t, apiError(http.StatusNotFound, "videoNotFound")).Comments(context.Background(), "vid", 0)
	assert.ErrorIs(t, err, ErrVideoNotFound)

	empty := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{"items": []interface{}{}})
	})
	_, err = empty.Comments(context.Background(), "vid", 0)
	assert.ErrorIs(t, err, ErrNoComments)

	_, err = NewClient(context.Background(), "", nil)
	assert.Error(t, err)
}
