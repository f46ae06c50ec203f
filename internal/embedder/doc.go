// Package embedder turns complaint texts into vector embeddings.
//
// Two remote providers sit behind the same Embedder interface: the primary
// (GigaChat, authenticated with a short-lived token) and the secondary
// (OpenRouter, static API key). Fallback composes them so that a remote
// failure of the primary is retried once on the secondary.
//
//	emb, err := embedder.New(embedder.Config{
//	    Primary:   gigachatClient,
//	    Secondary: openrouterClient,
//	    CacheSize: 10000,
//	})
//	resp, err := emb.GenerateBatch(ctx, embedder.BatchEmbeddingRequest{Texts: texts})
//
// # Errors
//
// Blank text fails with ErrEmptyText (which also matches ErrInvalidInput)
// before any network call. Every remote failure is wrapped in
// ErrProviderFailed; batches either succeed as a whole or fail as a whole.
//
// # Caching
//
// Each provider keeps an LRU cache keyed by the SHA-256 of the text, so a
// text embedded once is not sent again for the life of the process.
package embedder
