// Package storage provides SQLite-based persistence for projects, complaints and clusters.
//
// # Database Schema
//
// Tables:
//   - projects: partitioning key for everything else
//   - clusters: named groups, unique by (project_id, name)
//   - complaints: text, optional embedding blob, 2-D coordinates, nullable cluster_id
//
// complaints.cluster_id references clusters(id) with ON DELETE SET NULL, so removing a
// cluster detaches its members instead of deleting them.
//
// # Embeddings
//
// Vectors are stored as little-endian float32 blobs. A complaint either has a complete
// vector or NULL; UpdateEmbeddings only writes rows whose embedding is still NULL, which
// makes repeated pipeline runs idempotent.
//
// # Transactions
//
//	tx, err := store.BeginTx(ctx)
//	if err != nil {
//	    return err
//	}
//	defer func() { _ = tx.Rollback() }()
//
//	if err := tx.UpdateClusterRefs(ctx, projectID, assignments); err != nil {
//	    return err
//	}
//	return tx.Commit()
//
// # Drivers
//
// The default build uses modernc.org/sqlite. Building with -tags sqlite_vec switches to
// github.com/mattn/go-sqlite3 (requires CGO).
package storage
