package ingest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/complaintlens/internal/embedder"
	"github.com/dshills/complaintlens/internal/pipeline"
	"github.com/dshills/complaintlens/internal/storage"
	"github.com/dshills/complaintlens/internal/youtube"
)

type fakeEmbedder struct {
	mu     sync.Mutex
	down   bool
	poison string
	calls  int
}

func (f *fakeEmbedder) embed(text string) (*embedder.Embedding, error) {
	if f.down || text == f.poison {
		return nil, fmt.Errorf("%w: rejected", embedder.ErrProviderFailed)
	}
	return &embedder.Embedding{Vector: []float32{float32(len(text)), 1}, Provider: "fake"}, nil
}

func (f *fakeEmbedder) GenerateEmbedding(ctx context.Context, req embedder.EmbeddingRequest) (*embedder.Embedding, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.embed(req.Text)
}

func (f *fakeEmbedder) GenerateBatch(ctx context.Context, req embedder.BatchEmbeddingRequest) (*embedder.BatchEmbeddingResponse, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	out := make([]*embedder.Embedding, len(req.Texts))
	for i, t := range req.Texts {
		e, err := f.embed(t)
		if err != nil {
			return nil, err
		}
		out[i] = e
	}
	return &embedder.BatchEmbeddingResponse{Embeddings: out, Provider: "fake"}, nil
}

func (f *fakeEmbedder) Dimension() int   { return 2 }
func (f *fakeEmbedder) Provider() string { return "fake" }
func (f *fakeEmbedder) Model() string    { return "fake-v1" }
func (f *fakeEmbedder) Close() error     { return nil }

type fakeComments struct {
	comments []youtube.Comment
	err      error
	videoID  string
}

func (f *fakeComments) Comments(ctx context.Context, videoID string, limit int) ([]youtube.Comment, error) {
	f.videoID = videoID
	return f.comments, f.err
}

func setup(t *testing.T, emb *fakeEmbedder, cfg Config) (*Service, storage.Storage, *storage.Project) {
	t.Helper()
	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	p := &storage.Project{Name: "imports"}
	require.NoError(t, store.CreateProject(context.Background(), p))

	pipe := pipeline.New(emb, store, nil, &pipeline.Config{Workers: 2})
	return New(store, emb, pipe, nil, cfg), store, p
}

func TestSubmit(t *testing.T) {
	emb := &fakeEmbedder{}
	svc, store, project := setup(t, emb, Config{})
	ctx := context.Background()

	c, err := svc.Submit(ctx, project.ID, Submission{Text: "  parcel arrived broken "})
	require.NoError(t, err)
	assert.Equal(t, DefaultName, c.Name)
	assert.Equal(t, DefaultEmail, c.Email)
	assert.Equal(t, "parcel arrived broken", c.Text)
	assert.GreaterOrEqual(t, c.X, 5.0)
	assert.LessOrEqual(t, c.Y, 400.0)

	got, err := store.GetComplaint(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "fake", got.EmbeddingProvider)
	assert.Len(t, got.Embedding, 2)
}

func TestSubmit_EmptyTextNeverCallsProvider(t *testing.T) {
	emb := &fakeEmbedder{}
	svc, _, project := setup(t, emb, Config{})

	_, err := svc.Submit(context.Background(), project.ID, Submission{Text: " \n\t"})
	assert.ErrorIs(t, err, embedder.ErrInvalidInput)
	assert.Zero(t, emb.calls)
}

func TestSubmit_ProviderDownKeepsComplaintPending(t *testing.T) {
	emb := &fakeEmbedder{down: true}
	svc, store, project := setup(t, emb, Config{})
	ctx := context.Background()

	c, err := svc.Submit(ctx, project.ID, Submission{Name: "Ann", Email: "ann@example.com", Text: "late"})
	require.NoError(t, err)

	pending, err := store.ListPendingComplaints(ctx, project.ID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, c.ID, pending[0].ID)
	assert.Equal(t, "Ann", pending[0].Name)

	_, err = svc.Submit(ctx, 9999, Submission{Text: "x"})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestImportCSV(t *testing.T) {
	emb := &fakeEmbedder{poison: "poison"}
	svc, store, project := setup(t, emb, Config{ChunkSize: 2})
	ctx := context.Background()

	data := "email,Id,Text\n" +
		"a@example.com,1,slow courier\n" +
		",2,\"wrong item, again\"\n" +
		"c@example.com,3,   \n" +
		"d@example.com,,poison\n" +
		"e@example.com,5,refund missing\n"

	stats, err := svc.ImportCSV(ctx, project.ID, strings.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Rows)
	assert.Equal(t, 4, stats.Created)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 3, stats.Embedded)
	assert.Equal(t, 1, stats.EmbedFailed)

	all, err := store.ListComplaints(ctx, project.ID)
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "1", all[0].Name)
	assert.Equal(t, DefaultEmail, all[1].Email)
	assert.Equal(t, "wrong item, again", all[1].Text)
	assert.Equal(t, DefaultName, all[2].Name)
	assert.False(t, all[2].HasEmbedding(), "poisoned row stays pending")
}

func TestImportCSV_Errors(t *testing.T) {
	svc, _, project := setup(t, &fakeEmbedder{}, Config{})
	ctx := context.Background()

	_, err := svc.ImportCSV(ctx, project.ID, strings.NewReader(""))
	assert.ErrorIs(t, err, ErrInvalidCSV)

	_, err = svc.ImportCSV(ctx, project.ID, strings.NewReader("email,Id,Body\nx,1,y\n"))
	assert.ErrorIs(t, err, ErrInvalidCSV)

	_, err = svc.ImportCSV(ctx, 9999, strings.NewReader("Text\nx\n"))
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestImportComments(t *testing.T) {
	source := &fakeComments{comments: []youtube.Comment{
		{Author: "ann", ChannelURL: "https://youtube.com/@ann", Text: "battery dies fast"},
		{Author: "bob", ChannelURL: "https://youtube.com/@bob", Text: ""},
		{Author: "", ChannelURL: "", Text: "screen flickers", ParentID: "c1"},
	}}
	svc, store, project := setup(t, &fakeEmbedder{}, Config{Comments: source})
	ctx := context.Background()

	stats, err := svc.ImportComments(ctx, project.ID, "https://youtu.be/vid42", 0)
	require.NoError(t, err)
	assert.Equal(t, "vid42", source.videoID)
	assert.Equal(t, 3, stats.Rows)
	assert.Equal(t, 2, stats.Created)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 2, stats.Embedded)

	all, err := store.ListComplaints(ctx, project.ID)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "https://youtube.com/@ann", all[0].Email)
	assert.Equal(t, DefaultName, all[1].Name)
}

func TestImportComments_Errors(t *testing.T) {
	svc, _, project := setup(t, &fakeEmbedder{}, Config{})
	_, err := svc.ImportComments(context.Background(), project.ID, "https://youtu.be/x", 0)
	assert.ErrorIs(t, err, ErrNoCommentSource)

	source := &fakeComments{err: youtube.ErrCommentsDisabled}
	svc, _, project = setup(t, &fakeEmbedder{}, Config{Comments: source})
	_, err = svc.ImportComments(context.Background(), project.ID, "https://vimeo.com/1", 0)
	assert.ErrorIs(t, err, youtube.ErrInvalidURL)

	_, err = svc.ImportComments(context.Background(), project.ID, "https://youtu.be/x", 0)
	assert.ErrorIs(t, err, youtube.ErrCommentsDisabled)
}
