package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrCrossProject is returned when an operation mixes records of different projects
	ErrCrossProject = errors.New("cross-project reference")
	// ErrNestedTx is returned when BeginTx is called on a transaction
	ErrNestedTx = errors.New("nested transactions are not supported")
)

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	queries
	db *sql.DB
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// SQLite benefits from single writer; also keeps :memory: on one connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// ON DELETE SET NULL on complaints.cluster_id depends on this
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStorage{queries: queries{q: db}, db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// BeginTx starts a new transaction
func (s *SQLiteStorage) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqliteTx{queries: queries{q: tx}, tx: tx}, nil
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// queries holds every statement; the same code runs against the DB or a transaction
type queries struct {
	q querier
}

// sqliteTx wraps a SQL transaction
type sqliteTx struct {
	queries
	tx *sql.Tx
}

func (t *sqliteTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback() error {
	return t.tx.Rollback()
}

func (t *sqliteTx) Close() error {
	return nil
}

func (t *sqliteTx) BeginTx(ctx context.Context) (Tx, error) {
	return nil, ErrNestedTx
}

// Project operations

func (s queries) CreateProject(ctx context.Context, project *Project) error {
	now := time.Now().UTC()
	result, err := s.q.ExecContext(ctx,
		`INSERT INTO projects (name, created_at) VALUES (?, ?)`, project.Name, now)
	if err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	project.ID = id
	project.CreatedAt = now
	return nil
}

func (s queries) GetProject(ctx context.Context, projectID int64) (*Project, error) {
	var project Project
	err := s.q.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM projects WHERE id = ?`, projectID,
	).Scan(&project.ID, &project.Name, &project.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &project, nil
}

func (s queries) ListProjects(ctx context.Context) ([]*Project, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT id, name, created_at FROM projects ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var projects []*Project
	for rows.Next() {
		var p Project
		if err := rows.Scan(&p.ID, &p.Name, &p.CreatedAt); err != nil {
			return nil, err
		}
		projects = append(projects, &p)
	}
	return projects, rows.Err()
}

// Complaint operations

const complaintColumns = `id, project_id, name, email, text, embedding, embedding_provider,
	x, y, cluster_id, created_at, updated_at`

func scanComplaint(scan func(dest ...interface{}) error) (*Complaint, error) {
	var (
		c         Complaint
		blob      []byte
		clusterID sql.NullInt64
	)
	err := scan(&c.ID, &c.ProjectID, &c.Name, &c.Email, &c.Text, &blob, &c.EmbeddingProvider,
		&c.X, &c.Y, &clusterID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.Embedding = deserializeVector(blob)
	if clusterID.Valid {
		id := clusterID.Int64
		c.ClusterID = &id
	}
	return &c, nil
}

func (s queries) listComplaints(ctx context.Context, where string, args ...interface{}) ([]*Complaint, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+complaintColumns+` FROM complaints WHERE `+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var complaints []*Complaint
	for rows.Next() {
		c, err := scanComplaint(rows.Scan)
		if err != nil {
			return nil, err
		}
		complaints = append(complaints, c)
	}
	return complaints, rows.Err()
}

func (s queries) CreateComplaint(ctx context.Context, complaint *Complaint) error {
	return s.BulkCreateComplaints(ctx, []*Complaint{complaint})
}

// BulkCreateComplaints inserts all complaints, assigning their ids in input order
func (s queries) BulkCreateComplaints(ctx context.Context, complaints []*Complaint) error {
	query := `
		INSERT INTO complaints (project_id, name, email, text, embedding, embedding_provider,
			x, y, cluster_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	now := time.Now().UTC()
	for i, c := range complaints {
		if c.ProjectID == 0 {
			return fmt.Errorf("complaint %d: project is required: %w", i, ErrNotFound)
		}
		result, err := s.q.ExecContext(ctx, query,
			c.ProjectID, c.Name, c.Email, c.Text, serializeVector(c.Embedding),
			c.EmbeddingProvider, c.X, c.Y, nullableID(c.ClusterID), now, now)
		if err != nil {
			return fmt.Errorf("failed to create complaint %d: %w", i, err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return err
		}
		c.ID = id
		c.CreatedAt = now
		c.UpdatedAt = now
	}
	return nil
}

func (s queries) GetComplaint(ctx context.Context, complaintID int64) (*Complaint, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+complaintColumns+` FROM complaints WHERE id = ?`, complaintID)
	c, err := scanComplaint(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return c, err
}

// GetComplaintsByIDs returns the requested complaints of one project.
// An id that belongs to another project yields ErrCrossProject.
func (s queries) GetComplaintsByIDs(ctx context.Context, projectID int64, ids []int64) ([]*Complaint, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders, args := inClause(ids)
	complaints, err := s.listComplaints(ctx, `id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	if len(complaints) != len(uniqueIDs(ids)) {
		return nil, fmt.Errorf("complaints %v: %w", ids, ErrNotFound)
	}
	for _, c := range complaints {
		if c.ProjectID != projectID {
			return nil, fmt.Errorf("complaint %d belongs to project %d, not %d: %w",
				c.ID, c.ProjectID, projectID, ErrCrossProject)
		}
	}
	return complaints, nil
}

func (s queries) ListComplaints(ctx context.Context, projectID int64) ([]*Complaint, error) {
	return s.listComplaints(ctx, `project_id = ?`, projectID)
}

func (s queries) ListEmbeddedComplaints(ctx context.Context, projectID int64) ([]*Complaint, error) {
	return s.listComplaints(ctx, `project_id = ? AND embedding IS NOT NULL`, projectID)
}

func (s queries) ListPendingComplaints(ctx context.Context, projectID int64) ([]*Complaint, error) {
	return s.listComplaints(ctx, `project_id = ? AND embedding IS NULL`, projectID)
}

func (s queries) ListComplaintsByCluster(ctx context.Context, clusterID int64) ([]*Complaint, error) {
	return s.listComplaints(ctx, `cluster_id = ?`, clusterID)
}

// UpdateEmbeddings writes vectors for complaints that have none yet, in one statement per batch.
// Complaints already embedded are left untouched; the number of rows written is returned.
func (s queries) UpdateEmbeddings(ctx context.Context, complaints []*Complaint) (int, error) {
	const rowsPerStatement = 200

	updated := 0
	for start := 0; start < len(complaints); start += rowsPerStatement {
		batch := complaints[start:min(start+rowsPerStatement, len(complaints))]

		var vectorCase, providerCase strings.Builder
		var vectorArgs, providerArgs []interface{}
		ids := make([]int64, 0, len(batch))
		for _, c := range batch {
			if !c.HasEmbedding() {
				continue
			}
			vectorCase.WriteString(" WHEN ? THEN ?")
			vectorArgs = append(vectorArgs, c.ID, serializeVector(c.Embedding))
			providerCase.WriteString(" WHEN ? THEN ?")
			providerArgs = append(providerArgs, c.ID, c.EmbeddingProvider)
			ids = append(ids, c.ID)
		}
		if len(ids) == 0 {
			continue
		}

		placeholders, idArgs := inClause(ids)
		query := `UPDATE complaints SET
			embedding = CASE id` + vectorCase.String() + ` END,
			embedding_provider = CASE id` + providerCase.String() + ` END,
			updated_at = ?
			WHERE embedding IS NULL AND id IN (` + placeholders + `)`

		args := append(append(vectorArgs, providerArgs...), time.Now().UTC())
		args = append(args, idArgs...)
		result, err := s.q.ExecContext(ctx, query, args...)
		if err != nil {
			return updated, fmt.Errorf("failed to update embeddings: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return updated, err
		}
		updated += int(n)
	}
	return updated, nil
}

// UpdateClusterRefs bulk-reassigns complaints of one project to clusters of the same project
func (s queries) UpdateClusterRefs(ctx context.Context, projectID int64, assignments []ClusterAssignment) error {
	if len(assignments) == 0 {
		return nil
	}

	clusterIDs := make([]int64, 0, len(assignments))
	for _, a := range assignments {
		if a.ClusterID != nil {
			clusterIDs = append(clusterIDs, *a.ClusterID)
		}
	}
	if err := s.checkClustersInProject(ctx, projectID, clusterIDs); err != nil {
		return err
	}

	var caseExpr strings.Builder
	args := make([]interface{}, 0, len(assignments)*3+2)
	ids := make([]int64, len(assignments))
	for i, a := range assignments {
		caseExpr.WriteString(" WHEN ? THEN ?")
		args = append(args, a.ComplaintID, nullableID(a.ClusterID))
		ids[i] = a.ComplaintID
	}
	placeholders, idArgs := inClause(ids)
	args = append(args, time.Now().UTC(), projectID)
	args = append(args, idArgs...)

	query := `UPDATE complaints SET cluster_id = CASE id` + caseExpr.String() + ` END, updated_at = ?
		WHERE project_id = ? AND id IN (` + placeholders + `)`
	result, err := s.q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update cluster refs: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if int(n) != len(uniqueIDs(ids)) {
		return fmt.Errorf("updated %d of %d complaints in project %d: %w", n, len(ids), projectID, ErrCrossProject)
	}
	return nil
}

// UpdateCoordinates bulk-writes the 2-D projection of complaints in one project
func (s queries) UpdateCoordinates(ctx context.Context, projectID int64, coords []Coordinate) error {
	if len(coords) == 0 {
		return nil
	}

	var xCase, yCase strings.Builder
	var xArgs, yArgs []interface{}
	ids := make([]int64, len(coords))
	for i, c := range coords {
		xCase.WriteString(" WHEN ? THEN ?")
		xArgs = append(xArgs, c.ComplaintID, c.X)
		yCase.WriteString(" WHEN ? THEN ?")
		yArgs = append(yArgs, c.ComplaintID, c.Y)
		ids[i] = c.ComplaintID
	}
	placeholders, idArgs := inClause(ids)

	args := append(append(xArgs, yArgs...), time.Now().UTC(), projectID)
	args = append(args, idArgs...)
	query := `UPDATE complaints SET x = CASE id` + xCase.String() + ` END,
		y = CASE id` + yCase.String() + ` END, updated_at = ?
		WHERE project_id = ? AND id IN (` + placeholders + `)`
	if _, err := s.q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update coordinates: %w", err)
	}
	return nil
}

// Cluster operations

const clusterColumns = `id, project_id, name, summary, size, provider_used, created_at, updated_at`

func scanCluster(scan func(dest ...interface{}) error) (*Cluster, error) {
	var c Cluster
	err := scan(&c.ID, &c.ProjectID, &c.Name, &c.Summary, &c.Size, &c.ProviderUsed, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s queries) CreateCluster(ctx context.Context, cluster *Cluster) error {
	if _, err := s.GetProject(ctx, cluster.ProjectID); err != nil {
		return fmt.Errorf("project %d: %w", cluster.ProjectID, err)
	}
	now := time.Now().UTC()
	result, err := s.q.ExecContext(ctx, `
		INSERT INTO clusters (project_id, name, summary, size, provider_used, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		cluster.ProjectID, cluster.Name, cluster.Summary, cluster.Size, cluster.ProviderUsed, now, now)
	if err != nil {
		return fmt.Errorf("failed to create cluster: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	cluster.ID = id
	cluster.CreatedAt = now
	cluster.UpdatedAt = now
	return nil
}

// GetOrCreateCluster looks a cluster up by (project, name), creating it with the given summary.
// The boolean result reports whether a new row was created.
func (s queries) GetOrCreateCluster(ctx context.Context, projectID int64, name, summary string) (*Cluster, bool, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+clusterColumns+` FROM clusters WHERE project_id = ? AND name = ?`, projectID, name)
	cluster, err := scanCluster(row.Scan)
	if err == nil {
		return cluster, false, nil
	}
	if err != sql.ErrNoRows {
		return nil, false, err
	}

	cluster = &Cluster{ProjectID: projectID, Name: name, Summary: summary}
	if err := s.CreateCluster(ctx, cluster); err != nil {
		return nil, false, err
	}
	return cluster, true, nil
}

func (s queries) GetCluster(ctx context.Context, clusterID int64) (*Cluster, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+clusterColumns+` FROM clusters WHERE id = ?`, clusterID)
	c, err := scanCluster(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return c, err
}

func (s queries) ListClusters(ctx context.Context, projectID int64) ([]*Cluster, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+clusterColumns+` FROM clusters WHERE project_id = ? ORDER BY id`, projectID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var clusters []*Cluster
	for rows.Next() {
		c, err := scanCluster(rows.Scan)
		if err != nil {
			return nil, err
		}
		clusters = append(clusters, c)
	}
	return clusters, rows.Err()
}

// UpdateCluster writes name, summary, size and provider of an existing cluster
func (s queries) UpdateCluster(ctx context.Context, cluster *Cluster) error {
	now := time.Now().UTC()
	result, err := s.q.ExecContext(ctx, `
		UPDATE clusters SET name = ?, summary = ?, size = ?, provider_used = ?, updated_at = ?
		WHERE id = ?`,
		cluster.Name, cluster.Summary, cluster.Size, cluster.ProviderUsed, now, cluster.ID)
	if err != nil {
		return fmt.Errorf("failed to update cluster: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	cluster.UpdatedAt = now
	return nil
}

func (s queries) CountClusterMembers(ctx context.Context, clusterID int64) (int, error) {
	var n int
	err := s.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM complaints WHERE cluster_id = ?`, clusterID).Scan(&n)
	return n, err
}

// DeleteCluster removes the cluster; member complaints are detached by the foreign key
func (s queries) DeleteCluster(ctx context.Context, clusterID int64) error {
	result, err := s.q.ExecContext(ctx, `DELETE FROM clusters WHERE id = ?`, clusterID)
	if err != nil {
		return fmt.Errorf("failed to delete cluster: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s queries) checkClustersInProject(ctx context.Context, projectID int64, clusterIDs []int64) error {
	unique := uniqueIDs(clusterIDs)
	if len(unique) == 0 {
		return nil
	}
	placeholders, args := inClause(unique)
	var n int
	err := s.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM clusters WHERE project_id = ? AND id IN (`+placeholders+`)`,
		append([]interface{}{projectID}, args...)...).Scan(&n)
	if err != nil {
		return err
	}
	if n != len(unique) {
		return fmt.Errorf("clusters %v not all in project %d: %w", unique, projectID, ErrCrossProject)
	}
	return nil
}

// Helpers

func nullableID(id *int64) interface{} {
	if id == nil {
		return nil
	}
	return *id
}

func inClause(ids []int64) (string, []interface{}) {
	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	return strings.Join(placeholders, ","), args
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
