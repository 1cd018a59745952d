package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dshills/docrag/pkg/types"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when trying to create a duplicate entity
	ErrAlreadyExists = errors.New("already exists")
	// ErrDimensionMismatch is returned when a vector's length differs from its model's dimension
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	// ErrConsistency is returned when a committed chunk set is not dense or not fully embedded
	ErrConsistency = errors.New("chunk set inconsistent")
	// ErrInvalidDocumentation is returned when a documentation record has no single owner
	ErrInvalidDocumentation = errors.New("documentation must have exactly one owner")
	// ErrContentChanged is returned when a file's stored content no longer
	// matches the fingerprint being marked indexed
	ErrContentChanged = errors.New("file content changed")
)

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db         *sql.DB
	vecEnabled bool
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

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite benefits from single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// Enable foreign keys
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

	// Apply migrations
	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStorage{db: db, vecEnabled: probeVectorExtension(db)}, nil
}

// probeVectorExtension reports whether vec_distance_cosine can be called.
// The cgo build links the driver but the extension may still be absent.
func probeVectorExtension(db *sql.DB) bool {
	if !VectorExtensionAvailable {
		return false
	}
	var version string
	return db.QueryRow("SELECT vec_version()").Scan(&version) == nil
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
	return &sqliteTx{tx: tx, storage: s}, nil
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// sqliteTx wraps a SQL transaction
type sqliteTx struct {
	tx      *sql.Tx
	storage *SQLiteStorage
}

func (t *sqliteTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback() error {
	return t.tx.Rollback()
}

// querier returns the transaction querier
func (t *sqliteTx) querier() querier {
	return t.tx
}

// querier returns the DB querier
func (s *SQLiteStorage) querier() querier {
	return s.db
}

// placeholders returns "?, ?, ?" for n arguments
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// Project operations

// createProjectWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) createProjectWithQuerier(ctx context.Context, q querier, project *Project) error {
	query := `
		INSERT INTO projects (name, language, framework, doc_style, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	if project.DocStyle == "" {
		project.DocStyle = "google"
	}
	now := time.Now()
	result, err := q.ExecContext(ctx, query,
		project.Name, project.Language, project.Framework, project.DocStyle, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("project %q: %w", project.Name, ErrAlreadyExists)
		}
		return fmt.Errorf("failed to create project: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	project.ID = id
	project.CreatedAt = now
	project.UpdatedAt = now
	return nil
}

func (s *SQLiteStorage) CreateProject(ctx context.Context, project *Project) error {
	return s.createProjectWithQuerier(ctx, s.querier(), project)
}

const projectColumns = `id, name, language, framework, doc_style, created_at, updated_at`

func scanProject(row interface{ Scan(...interface{}) error }) (*Project, error) {
	var project Project
	var language, framework sql.NullString
	err := row.Scan(&project.ID, &project.Name, &language, &framework,
		&project.DocStyle, &project.CreatedAt, &project.UpdatedAt)
	if err != nil {
		return nil, err
	}
	project.Language = language.String
	project.Framework = framework.String
	return &project, nil
}

// getProjectWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) getProjectWithQuerier(ctx context.Context, q querier, name string) (*Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE name = ?`
	project, err := scanProject(q.QueryRowContext(ctx, query, name))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return project, err
}

func (s *SQLiteStorage) GetProject(ctx context.Context, name string) (*Project, error) {
	return s.getProjectWithQuerier(ctx, s.querier(), name)
}

// getProjectByIDWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) getProjectByIDWithQuerier(ctx context.Context, q querier, projectID int64) (*Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE id = ?`
	project, err := scanProject(q.QueryRowContext(ctx, query, projectID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return project, err
}

func (s *SQLiteStorage) GetProjectByID(ctx context.Context, projectID int64) (*Project, error) {
	return s.getProjectByIDWithQuerier(ctx, s.querier(), projectID)
}

// updateProjectWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) updateProjectWithQuerier(ctx context.Context, q querier, project *Project) error {
	query := `
		UPDATE projects
		SET language = ?, framework = ?, doc_style = ?, updated_at = ?
		WHERE id = ?
	`
	now := time.Now()
	result, err := q.ExecContext(ctx, query,
		project.Language, project.Framework, project.DocStyle, now, project.ID)
	if err != nil {
		return fmt.Errorf("failed to update project: %w", err)
	}
	if err := requireAffected(result); err != nil {
		return err
	}
	project.UpdatedAt = now
	return nil
}

func (s *SQLiteStorage) UpdateProject(ctx context.Context, project *Project) error {
	return s.updateProjectWithQuerier(ctx, s.querier(), project)
}

// listProjectsWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) listProjectsWithQuerier(ctx context.Context, q querier) ([]*Project, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+projectColumns+` FROM projects ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	projects := make([]*Project, 0)
	for rows.Next() {
		project, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, project)
	}
	return projects, rows.Err()
}

func (s *SQLiteStorage) ListProjects(ctx context.Context) ([]*Project, error) {
	return s.listProjectsWithQuerier(ctx, s.querier())
}

// deleteProjectWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) deleteProjectWithQuerier(ctx context.Context, q querier, projectID int64) error {
	// Chunks are removed first so the FTS delete trigger sees them
	_, err := q.ExecContext(ctx, `
		DELETE FROM chunks WHERE documentation_id IN (
			SELECT d.id FROM documentation d`+docProjectJoin+`
			WHERE `+docProjectExpr+` = ?
		)
	`, projectID)
	if err != nil {
		return fmt.Errorf("failed to delete project chunks: %w", err)
	}
	result, err := q.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, projectID)
	if err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}
	return requireAffected(result)
}

func (s *SQLiteStorage) DeleteProject(ctx context.Context, projectID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := s.deleteProjectWithQuerier(ctx, tx, projectID); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// File operations

const fileColumns = `id, project_id, file_path, content, content_hash, indexed_hash,
	size_bytes, line_count, analyzer_version, last_analyzed_at, last_checked_at,
	created_at, updated_at`

func scanFile(row interface{ Scan(...interface{}) error }) (*File, error) {
	var file File
	var contentHash, indexedHash []byte
	var analyzerVersion sql.NullString
	var lastAnalyzed, lastChecked sql.NullTime
	err := row.Scan(
		&file.ID, &file.ProjectID, &file.FilePath, &file.Content,
		&contentHash, &indexedHash, &file.SizeBytes, &file.LineCount,
		&analyzerVersion, &lastAnalyzed, &lastChecked,
		&file.CreatedAt, &file.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	copy(file.ContentHash[:], contentHash)
	copy(file.IndexedHash[:], indexedHash)
	file.AnalyzerVersion = analyzerVersion.String
	if lastAnalyzed.Valid {
		file.LastAnalyzedAt = lastAnalyzed.Time
	}
	if lastChecked.Valid {
		file.LastCheckedAt = lastChecked.Time
	}
	return &file, nil
}

// upsertFileWithQuerier is the internal implementation that uses a querier.
// The indexed hash survives only while the content hash is unchanged; only
// MarkFileIndexed advances it.
func (s *SQLiteStorage) upsertFileWithQuerier(ctx context.Context, q querier, file *File) error {
	query := `
		INSERT INTO files (project_id, file_path, content, content_hash, size_bytes, line_count,
		                   analyzer_version, last_analyzed_at, last_checked_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id, file_path) DO UPDATE SET
			content = excluded.content,
			content_hash = excluded.content_hash,
			indexed_hash = CASE WHEN files.content_hash = excluded.content_hash
				THEN files.indexed_hash ELSE NULL END,
			size_bytes = excluded.size_bytes,
			line_count = excluded.line_count,
			analyzer_version = excluded.analyzer_version,
			last_analyzed_at = excluded.last_analyzed_at,
			last_checked_at = excluded.last_checked_at,
			updated_at = excluded.updated_at
		RETURNING id, created_at
	`
	now := time.Now()
	if file.SizeBytes == 0 {
		file.SizeBytes = int64(len(file.Content))
	}
	err := q.QueryRowContext(ctx, query,
		file.ProjectID, file.FilePath, file.Content, file.ContentHash[:],
		file.SizeBytes, file.LineCount, file.AnalyzerVersion, now, now, now, now,
	).Scan(&file.ID, &file.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert file: %w", err)
	}

	file.LastAnalyzedAt = now
	file.LastCheckedAt = now
	file.UpdatedAt = now
	return nil
}

func (s *SQLiteStorage) UpsertFile(ctx context.Context, file *File) error {
	return s.upsertFileWithQuerier(ctx, s.querier(), file)
}

// getFileWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) getFileWithQuerier(ctx context.Context, q querier, projectID int64, filePath string) (*File, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE project_id = ? AND file_path = ?`
	file, err := scanFile(q.QueryRowContext(ctx, query, projectID, filePath))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return file, err
}

func (s *SQLiteStorage) GetFile(ctx context.Context, projectID int64, filePath string) (*File, error) {
	return s.getFileWithQuerier(ctx, s.querier(), projectID, filePath)
}

// getFileByIDWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) getFileByIDWithQuerier(ctx context.Context, q querier, fileID int64) (*File, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE id = ?`
	file, err := scanFile(q.QueryRowContext(ctx, query, fileID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return file, err
}

func (s *SQLiteStorage) GetFileByID(ctx context.Context, fileID int64) (*File, error) {
	return s.getFileByIDWithQuerier(ctx, s.querier(), fileID)
}

// listFilesWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) listFilesWithQuerier(ctx context.Context, q querier, projectID int64) ([]*File, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE project_id = ? ORDER BY file_path`
	rows, err := q.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	files := make([]*File, 0)
	for rows.Next() {
		file, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, file)
	}
	return files, rows.Err()
}

func (s *SQLiteStorage) ListFiles(ctx context.Context, projectID int64) ([]*File, error) {
	return s.listFilesWithQuerier(ctx, s.querier(), projectID)
}

// deleteFileWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) deleteFileWithQuerier(ctx context.Context, q querier, fileID int64) error {
	_, err := q.ExecContext(ctx, `
		DELETE FROM chunks WHERE documentation_id IN (
			SELECT d.id FROM documentation d
			JOIN code_elements ce ON ce.id = d.element_id
			WHERE ce.file_id = ?
		)
	`, fileID)
	if err != nil {
		return fmt.Errorf("failed to delete file chunks: %w", err)
	}
	_, err = q.ExecContext(ctx, `DELETE FROM files WHERE id = ?`, fileID)
	return err
}

func (s *SQLiteStorage) DeleteFile(ctx context.Context, fileID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := s.deleteFileWithQuerier(ctx, tx, fileID); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// touchFileWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) touchFileWithQuerier(ctx context.Context, q querier, fileID int64, checkedAt time.Time) error {
	result, err := q.ExecContext(ctx, `UPDATE files SET last_checked_at = ? WHERE id = ?`, checkedAt, fileID)
	if err != nil {
		return fmt.Errorf("failed to touch file: %w", err)
	}
	return requireAffected(result)
}

func (s *SQLiteStorage) TouchFile(ctx context.Context, fileID int64, checkedAt time.Time) error {
	return s.touchFileWithQuerier(ctx, s.querier(), fileID, checkedAt)
}

// markFileIndexedWithQuerier is the internal implementation that uses a querier.
// The update only applies while the stored content still hashes to hash.
func (s *SQLiteStorage) markFileIndexedWithQuerier(ctx context.Context, q querier, fileID int64, hash [32]byte) error {
	now := time.Now()
	result, err := q.ExecContext(ctx, `
		UPDATE files SET indexed_hash = ?, last_checked_at = ?, updated_at = ?
		WHERE id = ? AND content_hash = ?
	`, hash[:], now, now, fileID, hash[:])
	if err != nil {
		return fmt.Errorf("failed to mark file indexed: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}

	var exists int
	err = q.QueryRowContext(ctx, `SELECT 1 FROM files WHERE id = ?`, fileID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to check file: %w", err)
	}
	return fmt.Errorf("%w: file %d", ErrContentChanged, fileID)
}

func (s *SQLiteStorage) MarkFileIndexed(ctx context.Context, fileID int64, hash [32]byte) error {
	return s.markFileIndexedWithQuerier(ctx, s.querier(), fileID, hash)
}

// Element operations

const elementColumns = `id, file_id, kind, name, qualified_name, signature, doc_comment,
	start_line, end_line, complexity, parameters, return_type,
	is_async, is_static, is_abstract, metadata, source_hash, created_at, updated_at`

func scanElement(row interface{ Scan(...interface{}) error }) (*Element, error) {
	var e Element
	var signature, docComment, returnType sql.NullString
	var params, metadata string
	var sourceHash []byte
	err := row.Scan(
		&e.ID, &e.FileID, &e.Kind, &e.Name, &e.QualifiedName, &signature, &docComment,
		&e.StartLine, &e.EndLine, &e.Complexity, &params, &returnType,
		&e.IsAsync, &e.IsStatic, &e.IsAbstract, &metadata, &sourceHash,
		&e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Signature = signature.String
	e.DocComment = docComment.String
	e.ReturnType = returnType.String
	copy(e.SourceHash[:], sourceHash)
	if err := json.Unmarshal([]byte(params), &e.Parameters); err != nil {
		return nil, fmt.Errorf("failed to decode parameters of element %d: %w", e.ID, err)
	}
	if err := json.Unmarshal([]byte(metadata), &e.Metadata); err != nil {
		return nil, fmt.Errorf("failed to decode metadata of element %d: %w", e.ID, err)
	}
	return &e, nil
}

// upsertElementWithQuerier is the internal implementation that uses a querier.
// Elements are keyed by (file, kind, qualified name) so re-analysis keeps
// their IDs and with them any existing documentation.
func (s *SQLiteStorage) upsertElementWithQuerier(ctx context.Context, q querier, element *Element) error {
	params := element.Parameters
	if params == nil {
		params = []types.Parameter{}
	}
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to encode parameters: %w", err)
	}
	metadata := element.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	query := `
		INSERT INTO code_elements (
			file_id, kind, name, qualified_name, signature, doc_comment,
			start_line, end_line, complexity, parameters, return_type,
			is_async, is_static, is_abstract, metadata, source_hash, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(file_id, kind, qualified_name) DO UPDATE SET
			name = excluded.name,
			signature = excluded.signature,
			doc_comment = excluded.doc_comment,
			start_line = excluded.start_line,
			end_line = excluded.end_line,
			complexity = excluded.complexity,
			parameters = excluded.parameters,
			return_type = excluded.return_type,
			is_async = excluded.is_async,
			is_static = excluded.is_static,
			is_abstract = excluded.is_abstract,
			metadata = excluded.metadata,
			source_hash = excluded.source_hash,
			updated_at = excluded.updated_at
		RETURNING id, created_at
	`
	now := time.Now()
	err = q.QueryRowContext(ctx, query,
		element.FileID, element.Kind, element.Name, element.QualifiedName,
		element.Signature, element.DocComment, element.StartLine, element.EndLine,
		element.Complexity, string(paramsJSON), element.ReturnType,
		element.IsAsync, element.IsStatic, element.IsAbstract,
		string(metadataJSON), element.SourceHash[:], now, now,
	).Scan(&element.ID, &element.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert element %s: %w", element.QualifiedName, err)
	}
	element.UpdatedAt = now
	return nil
}

func (s *SQLiteStorage) UpsertElement(ctx context.Context, element *Element) error {
	return s.upsertElementWithQuerier(ctx, s.querier(), element)
}

// getElementWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) getElementWithQuerier(ctx context.Context, q querier, elementID int64) (*Element, error) {
	query := `SELECT ` + elementColumns + ` FROM code_elements WHERE id = ?`
	element, err := scanElement(q.QueryRowContext(ctx, query, elementID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return element, err
}

func (s *SQLiteStorage) GetElement(ctx context.Context, elementID int64) (*Element, error) {
	return s.getElementWithQuerier(ctx, s.querier(), elementID)
}

// listElementsByFileWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) listElementsByFileWithQuerier(ctx context.Context, q querier, fileID int64) ([]*Element, error) {
	query := `SELECT ` + elementColumns + ` FROM code_elements WHERE file_id = ? ORDER BY start_line, id`
	rows, err := q.QueryContext(ctx, query, fileID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	elements := make([]*Element, 0)
	for rows.Next() {
		element, err := scanElement(rows)
		if err != nil {
			return nil, err
		}
		elements = append(elements, element)
	}
	return elements, rows.Err()
}

func (s *SQLiteStorage) ListElementsByFile(ctx context.Context, fileID int64) ([]*Element, error) {
	return s.listElementsByFileWithQuerier(ctx, s.querier(), fileID)
}

// deleteElementsExceptWithQuerier removes the file's elements whose IDs are
// not in keep, along with their documentation and chunks.
func (s *SQLiteStorage) deleteElementsExceptWithQuerier(ctx context.Context, q querier, fileID int64, keep []int64) (int, error) {
	filter := ""
	args := []interface{}{fileID}
	if len(keep) > 0 {
		filter = " AND id NOT IN (" + placeholders(len(keep)) + ")"
		for _, id := range keep {
			args = append(args, id)
		}
	}

	_, err := q.ExecContext(ctx, `
		DELETE FROM chunks WHERE documentation_id IN (
			SELECT d.id FROM documentation d WHERE d.element_id IN (
				SELECT id FROM code_elements WHERE file_id = ?`+filter+`
			)
		)
	`, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale chunks: %w", err)
	}

	result, err := q.ExecContext(ctx, `DELETE FROM code_elements WHERE file_id = ?`+filter, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale elements: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

func (s *SQLiteStorage) DeleteElementsExcept(ctx context.Context, fileID int64, keep []int64) (int, error) {
	return s.deleteElementsExceptWithQuerier(ctx, s.querier(), fileID, keep)
}

// Relationship operations

// upsertRelationshipWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) upsertRelationshipWithQuerier(ctx context.Context, q querier, rel *Relationship) error {
	if rel.Strength == 0 {
		rel.Strength = 1.0
	}
	query := `
		INSERT INTO element_relationships (source_id, target_id, type, strength, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(source_id, target_id, type) DO UPDATE SET
			strength = excluded.strength
		RETURNING id
	`
	err := q.QueryRowContext(ctx, query,
		rel.SourceID, rel.TargetID, rel.Type, rel.Strength, time.Now(),
	).Scan(&rel.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert relationship: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) UpsertRelationship(ctx context.Context, rel *Relationship) error {
	return s.upsertRelationshipWithQuerier(ctx, s.querier(), rel)
}

// deleteRelationshipsByFileWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) deleteRelationshipsByFileWithQuerier(ctx context.Context, q querier, fileID int64) error {
	_, err := q.ExecContext(ctx, `
		DELETE FROM element_relationships
		WHERE source_id IN (SELECT id FROM code_elements WHERE file_id = ?)
	`, fileID)
	return err
}

func (s *SQLiteStorage) DeleteRelationshipsByFile(ctx context.Context, fileID int64) error {
	return s.deleteRelationshipsByFileWithQuerier(ctx, s.querier(), fileID)
}

// listRelatedWithQuerier returns elements linked to elementID in either direction
func (s *SQLiteStorage) listRelatedWithQuerier(ctx context.Context, q querier, elementID int64, limit int) ([]*RelatedElement, error) {
	if limit <= 0 {
		limit = -1 // no limit
	}
	query := `
		SELECT e.id, e.name, e.qualified_name, e.kind, r.type, r.strength
		FROM element_relationships r
		JOIN code_elements e
		  ON e.id = CASE WHEN r.source_id = ? THEN r.target_id ELSE r.source_id END
		WHERE r.source_id = ? OR r.target_id = ?
		ORDER BY r.strength DESC, e.qualified_name
		LIMIT ?
	`
	rows, err := q.QueryContext(ctx, query, elementID, elementID, elementID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	related := make([]*RelatedElement, 0)
	for rows.Next() {
		var r RelatedElement
		if err := rows.Scan(&r.ElementID, &r.Name, &r.QualifiedName, &r.Kind, &r.Type, &r.Strength); err != nil {
			return nil, err
		}
		related = append(related, &r)
	}
	return related, rows.Err()
}

func (s *SQLiteStorage) ListRelated(ctx context.Context, elementID int64, limit int) ([]*RelatedElement, error) {
	return s.listRelatedWithQuerier(ctx, s.querier(), elementID, limit)
}

// Documentation operations

// docProjectJoin resolves the owning project of a documentation row aliased d
const docProjectJoin = `
	LEFT JOIN code_elements ce ON ce.id = d.element_id
	LEFT JOIN files f ON f.id = ce.file_id`

const docProjectExpr = `COALESCE(f.project_id, d.project_id)`

const documentationColumns = `d.id, d.element_id, d.project_id, d.doc_type, d.title, d.content,
	d.generator_id, d.completeness, d.clarity, d.accuracy, d.overall,
	d.low_quality, d.approved, d.reviewed_by, d.reviewed_at, d.gate_version,
	d.source_hash, d.fingerprint, d.created_at`

func scanDocumentation(row interface{ Scan(...interface{}) error }) (*Documentation, error) {
	var doc Documentation
	var elementID, projectID sql.NullInt64
	var reviewedBy, gateVersion sql.NullString
	var reviewedAt sql.NullTime
	var sourceHash, fingerprint []byte
	err := row.Scan(
		&doc.ID, &elementID, &projectID, &doc.DocType, &doc.Title, &doc.Content,
		&doc.GeneratorID, &doc.Quality.Completeness, &doc.Quality.Clarity,
		&doc.Quality.Accuracy, &doc.Quality.Overall,
		&doc.LowQuality, &doc.Approved, &reviewedBy, &reviewedAt, &gateVersion,
		&sourceHash, &fingerprint, &doc.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if elementID.Valid {
		doc.ElementID = &elementID.Int64
	}
	if projectID.Valid {
		doc.ProjectID = &projectID.Int64
	}
	if reviewedAt.Valid {
		doc.ReviewedAt = &reviewedAt.Time
	}
	doc.ReviewedBy = reviewedBy.String
	doc.GateVersion = gateVersion.String
	copy(doc.SourceHash[:], sourceHash)
	copy(doc.Fingerprint[:], fingerprint)
	return &doc, nil
}

// getDocumentationWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) getDocumentationWithQuerier(ctx context.Context, q querier, docID int64) (*Documentation, error) {
	query := `SELECT ` + documentationColumns + ` FROM documentation d WHERE d.id = ?`
	doc, err := scanDocumentation(q.QueryRowContext(ctx, query, docID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return doc, err
}

func (s *SQLiteStorage) GetDocumentation(ctx context.Context, docID int64) (*Documentation, error) {
	return s.getDocumentationWithQuerier(ctx, s.querier(), docID)
}

// getDocumentationByElementWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) getDocumentationByElementWithQuerier(ctx context.Context, q querier, elementID int64) (*Documentation, error) {
	query := `SELECT ` + documentationColumns + ` FROM documentation d WHERE d.element_id = ?`
	doc, err := scanDocumentation(q.QueryRowContext(ctx, query, elementID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return doc, err
}

func (s *SQLiteStorage) GetDocumentationByElement(ctx context.Context, elementID int64) (*Documentation, error) {
	return s.getDocumentationByElementWithQuerier(ctx, s.querier(), elementID)
}

// listProjectDocumentationWithQuerier returns project-level documentation
func (s *SQLiteStorage) listProjectDocumentationWithQuerier(ctx context.Context, q querier, projectID int64) ([]*Documentation, error) {
	query := `SELECT ` + documentationColumns + ` FROM documentation d WHERE d.project_id = ? ORDER BY d.doc_type`
	rows, err := q.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	docs := make([]*Documentation, 0)
	for rows.Next() {
		doc, err := scanDocumentation(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (s *SQLiteStorage) ListProjectDocumentation(ctx context.Context, projectID int64) ([]*Documentation, error) {
	return s.listProjectDocumentationWithQuerier(ctx, s.querier(), projectID)
}

// commitDocumentationWithQuerier replaces the owner's documentation and its
// chunks. Must run inside a transaction: either the whole new set becomes
// visible or the previous set stays.
func (s *SQLiteStorage) commitDocumentationWithQuerier(ctx context.Context, q querier, doc *Documentation, chunks []*Chunk) error {
	if (doc.ElementID == nil) == (doc.ProjectID == nil) {
		return ErrInvalidDocumentation
	}
	if err := doc.Quality.Validate(); err != nil {
		return fmt.Errorf("invalid quality scores: %w", err)
	}

	// Remove the previous record for the same owner
	var existingID int64
	var err error
	if doc.ElementID != nil {
		err = q.QueryRowContext(ctx, `SELECT id FROM documentation WHERE element_id = ?`, *doc.ElementID).Scan(&existingID)
	} else {
		err = q.QueryRowContext(ctx, `SELECT id FROM documentation WHERE project_id = ? AND doc_type = ?`,
			*doc.ProjectID, doc.DocType).Scan(&existingID)
	}
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return fmt.Errorf("failed to look up existing documentation: %w", err)
	default:
		if _, err := q.ExecContext(ctx, `DELETE FROM chunks WHERE documentation_id = ?`, existingID); err != nil {
			return fmt.Errorf("failed to delete previous chunks: %w", err)
		}
		if _, err := q.ExecContext(ctx, `DELETE FROM documentation WHERE id = ?`, existingID); err != nil {
			return fmt.Errorf("failed to delete previous documentation: %w", err)
		}
	}

	now := time.Now()
	err = q.QueryRowContext(ctx, `
		INSERT INTO documentation (
			element_id, project_id, doc_type, title, content, generator_id,
			completeness, clarity, accuracy, overall, low_quality, approved,
			reviewed_by, reviewed_at, gate_version, source_hash, fingerprint, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`,
		doc.ElementID, doc.ProjectID, doc.DocType, doc.Title, doc.Content, doc.GeneratorID,
		doc.Quality.Completeness, doc.Quality.Clarity, doc.Quality.Accuracy, doc.Quality.Overall,
		doc.LowQuality, doc.Approved, nullString(doc.ReviewedBy), doc.ReviewedAt,
		doc.GateVersion, doc.SourceHash[:], doc.Fingerprint[:], now,
	).Scan(&doc.ID)
	if err != nil {
		return fmt.Errorf("failed to insert documentation: %w", err)
	}
	doc.CreatedAt = now

	dims := make(map[string]int)
	for _, chunk := range chunks {
		chunk.DocumentationID = doc.ID
		if len(chunk.Vector) == 0 {
			return fmt.Errorf("%w: chunk %d has no vector", ErrConsistency, chunk.ChunkIndex)
		}
		if _, err := s.putChunkWithQuerier(ctx, q, chunk, dims); err != nil {
			return err
		}
	}

	// Verify the committed set is dense and fully embedded
	var count, embedded int
	var minIndex, maxIndex sql.NullInt64
	err = q.QueryRowContext(ctx, `
		SELECT COUNT(*), MIN(c.chunk_index), MAX(c.chunk_index), COUNT(e.id)
		FROM chunks c LEFT JOIN embeddings e ON e.chunk_id = c.id
		WHERE c.documentation_id = ?
	`, doc.ID).Scan(&count, &minIndex, &maxIndex, &embedded)
	if err != nil {
		return fmt.Errorf("failed to verify chunks: %w", err)
	}
	if count != len(chunks) || embedded != count {
		return fmt.Errorf("%w: %d chunks, %d embedded, %d expected", ErrConsistency, count, embedded, len(chunks))
	}
	if count > 0 && (minIndex.Int64 != 0 || maxIndex.Int64 != int64(count-1)) {
		return fmt.Errorf("%w: chunk indexes %d..%d for %d chunks", ErrConsistency, minIndex.Int64, maxIndex.Int64, count)
	}
	return nil
}

func (s *SQLiteStorage) CommitDocumentation(ctx context.Context, doc *Documentation, chunks []*Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := s.commitDocumentationWithQuerier(ctx, tx, doc, chunks); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// approveDocumentationWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) approveDocumentationWithQuerier(ctx context.Context, q querier, docID int64, reviewer string) error {
	result, err := q.ExecContext(ctx, `
		UPDATE documentation SET approved = 1, reviewed_by = ?, reviewed_at = ? WHERE id = ?
	`, reviewer, time.Now(), docID)
	if err != nil {
		return fmt.Errorf("failed to approve documentation: %w", err)
	}
	return requireAffected(result)
}

func (s *SQLiteStorage) ApproveDocumentation(ctx context.Context, docID int64, reviewer string) error {
	return s.approveDocumentationWithQuerier(ctx, s.querier(), docID, reviewer)
}

// Chunk operations

// ensureModelWithQuerier registers model with dimension on first use and
// rejects any later vector of a different length.
func (s *SQLiteStorage) ensureModelWithQuerier(ctx context.Context, q querier, model string, dimension int) error {
	if model == "" {
		return fmt.Errorf("%w: embedding model is required", ErrConsistency)
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO embedding_models (model, dimension) VALUES (?, ?)
		ON CONFLICT(model) DO NOTHING
	`, model, dimension)
	if err != nil {
		return fmt.Errorf("failed to register embedding model: %w", err)
	}
	var stored int
	if err := q.QueryRowContext(ctx, `SELECT dimension FROM embedding_models WHERE model = ?`, model).Scan(&stored); err != nil {
		return err
	}
	if stored != dimension {
		return fmt.Errorf("%w: model %s has dimension %d, got %d", ErrDimensionMismatch, model, stored, dimension)
	}
	return nil
}

// putChunkWithQuerier inserts a chunk and, when it carries a vector, its
// embedding. dims caches model dimensions already checked in this call.
func (s *SQLiteStorage) putChunkWithQuerier(ctx context.Context, q querier, chunk *Chunk, dims map[string]int) (int64, error) {
	if len(chunk.Vector) > 0 {
		if dim, ok := dims[chunk.Model]; ok {
			if dim != len(chunk.Vector) {
				return 0, fmt.Errorf("%w: model %s has dimension %d, got %d",
					ErrDimensionMismatch, chunk.Model, dim, len(chunk.Vector))
			}
		} else {
			if err := s.ensureModelWithQuerier(ctx, q, chunk.Model, len(chunk.Vector)); err != nil {
				return 0, err
			}
			if dims != nil {
				dims[chunk.Model] = len(chunk.Vector)
			}
		}
	}

	now := time.Now()
	err := q.QueryRowContext(ctx, `
		INSERT INTO chunks (
			documentation_id, chunk_index, content, role, token_count, char_count,
			overlap_tokens, overlap_bytes, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`,
		chunk.DocumentationID, chunk.ChunkIndex, chunk.Content, chunk.Role,
		chunk.TokenCount, chunk.CharCount, chunk.OverlapTokens, chunk.OverlapBytes, now,
	).Scan(&chunk.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("%w: duplicate chunk index %d", ErrConsistency, chunk.ChunkIndex)
		}
		return 0, fmt.Errorf("failed to insert chunk: %w", err)
	}
	chunk.CreatedAt = now

	if len(chunk.Vector) > 0 {
		_, err = q.ExecContext(ctx, `
			INSERT INTO embeddings (chunk_id, vector, dimension, model, created_at)
			VALUES (?, ?, ?, ?, ?)
		`, chunk.ID, serializeVector(chunk.Vector), len(chunk.Vector), chunk.Model, now)
		if err != nil {
			return 0, fmt.Errorf("failed to insert embedding: %w", err)
		}
	}
	return chunk.ID, nil
}

func (s *SQLiteStorage) PutChunk(ctx context.Context, chunk *Chunk) (int64, error) {
	return s.putChunkWithQuerier(ctx, s.querier(), chunk, nil)
}

const chunkColumns = `c.id, c.documentation_id, c.chunk_index, c.content, c.role,
	c.token_count, c.char_count, c.overlap_tokens, c.overlap_bytes,
	e.vector, e.model, c.created_at`

func scanChunk(row interface{ Scan(...interface{}) error }) (*Chunk, error) {
	var chunk Chunk
	var vector []byte
	var model sql.NullString
	err := row.Scan(
		&chunk.ID, &chunk.DocumentationID, &chunk.ChunkIndex, &chunk.Content, &chunk.Role,
		&chunk.TokenCount, &chunk.CharCount, &chunk.OverlapTokens, &chunk.OverlapBytes,
		&vector, &model, &chunk.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(vector) > 0 {
		chunk.Vector = deserializeVector(vector)
	}
	chunk.Model = model.String
	return &chunk, nil
}

// getChunkWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) getChunkWithQuerier(ctx context.Context, q querier, chunkID int64) (*Chunk, error) {
	query := `SELECT ` + chunkColumns + `
		FROM chunks c LEFT JOIN embeddings e ON e.chunk_id = c.id
		WHERE c.id = ?`
	chunk, err := scanChunk(q.QueryRowContext(ctx, query, chunkID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return chunk, err
}

func (s *SQLiteStorage) GetChunk(ctx context.Context, chunkID int64) (*Chunk, error) {
	return s.getChunkWithQuerier(ctx, s.querier(), chunkID)
}

// listChunksByDocumentationWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) listChunksByDocumentationWithQuerier(ctx context.Context, q querier, docID int64) ([]*Chunk, error) {
	query := `SELECT ` + chunkColumns + `
		FROM chunks c LEFT JOIN embeddings e ON e.chunk_id = c.id
		WHERE c.documentation_id = ?
		ORDER BY c.chunk_index`
	rows, err := q.QueryContext(ctx, query, docID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	chunks := make([]*Chunk, 0)
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)
	}
	return chunks, rows.Err()
}

func (s *SQLiteStorage) ListChunksByDocumentation(ctx context.Context, docID int64) ([]*Chunk, error) {
	return s.listChunksByDocumentationWithQuerier(ctx, s.querier(), docID)
}

// getChunkDetailsWithQuerier loads chunks with their documentation, element,
// file and project in one query.
func (s *SQLiteStorage) getChunkDetailsWithQuerier(ctx context.Context, q querier, chunkIDs []int64) (map[int64]*ChunkDetail, error) {
	details := make(map[int64]*ChunkDetail, len(chunkIDs))
	if len(chunkIDs) == 0 {
		return details, nil
	}

	query := `
		SELECT c.id, c.documentation_id, c.chunk_index, c.content, c.role, e.vector,
		       d.title, d.doc_type, d.low_quality,
		       COALESCE(ce.id, 0), COALESCE(ce.name, ''), COALESCE(ce.qualified_name, ''),
		       COALESCE(ce.kind, ''), COALESCE(ce.signature, ''), COALESCE(f.file_path, ''),
		       COALESCE(ce.start_line, 0), COALESCE(ce.end_line, 0),
		       p.id, p.name
		FROM chunks c
		JOIN documentation d ON d.id = c.documentation_id` + docProjectJoin + `
		JOIN projects p ON p.id = ` + docProjectExpr + `
		LEFT JOIN embeddings e ON e.chunk_id = c.id
		WHERE c.id IN (` + placeholders(len(chunkIDs)) + `)`
	args := make([]interface{}, len(chunkIDs))
	for i, id := range chunkIDs {
		args[i] = id
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load chunk details: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var d ChunkDetail
		var vector []byte
		err := rows.Scan(
			&d.ChunkID, &d.DocumentationID, &d.ChunkIndex, &d.Content, &d.Role, &vector,
			&d.Title, &d.DocType, &d.LowQuality,
			&d.ElementID, &d.ElementName, &d.QualifiedName, &d.ElementKind, &d.Signature,
			&d.FilePath, &d.StartLine, &d.EndLine,
			&d.ProjectID, &d.ProjectName,
		)
		if err != nil {
			return nil, err
		}
		if len(vector) > 0 {
			d.Vector = deserializeVector(vector)
		}
		details[d.ChunkID] = &d
	}
	return details, rows.Err()
}

func (s *SQLiteStorage) GetChunkDetails(ctx context.Context, chunkIDs []int64) (map[int64]*ChunkDetail, error) {
	return s.getChunkDetailsWithQuerier(ctx, s.querier(), chunkIDs)
}

// Search operations

func (s *SQLiteStorage) Nearest(ctx context.Context, vector []float32, k int, filters *SearchFilters) ([]VectorResult, error) {
	return nearest(ctx, s.querier(), s.vecEnabled, vector, k, filters)
}

func (s *SQLiteStorage) SearchText(ctx context.Context, query string, limit int, filters *SearchFilters) ([]TextResult, error) {
	return searchText(ctx, s.querier(), query, limit, filters)
}

// Telemetry operations

// recordQueryWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) recordQueryWithQuerier(ctx context.Context, q querier, query *SearchQuery) error {
	now := time.Now()
	err := q.QueryRowContext(ctx, `
		INSERT INTO search_queries (project_id, query_text, query_type, result_count, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id
	`, query.ProjectID, query.QueryText, query.QueryType, query.ResultCount, query.LatencyMs, now).Scan(&query.ID)
	if err != nil {
		return fmt.Errorf("failed to record query: %w", err)
	}
	query.CreatedAt = now
	return nil
}

func (s *SQLiteStorage) RecordQuery(ctx context.Context, query *SearchQuery) error {
	return s.recordQueryWithQuerier(ctx, s.querier(), query)
}

// recordFeedbackWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) recordFeedbackWithQuerier(ctx context.Context, q querier, queryID int64, feedback string) error {
	result, err := q.ExecContext(ctx, `UPDATE search_queries SET feedback = ? WHERE id = ?`, feedback, queryID)
	if err != nil {
		return fmt.Errorf("failed to record feedback: %w", err)
	}
	return requireAffected(result)
}

func (s *SQLiteStorage) RecordFeedback(ctx context.Context, queryID int64, feedback string) error {
	return s.recordFeedbackWithQuerier(ctx, s.querier(), queryID, feedback)
}

// Status operations

// getStatusWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) getStatusWithQuerier(ctx context.Context, q querier, projectID int64) (*ProjectStatus, error) {
	project, err := s.getProjectByIDWithQuerier(ctx, q, projectID)
	if err != nil {
		return nil, err
	}

	status := &ProjectStatus{Project: project}

	// Count files
	err = q.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(CASE WHEN indexed_hash = content_hash THEN 1 END)
		FROM files WHERE project_id = ?
	`, projectID).Scan(&status.FilesCount, &status.IndexedFilesCount)
	if err != nil {
		return nil, err
	}

	var lastAnalyzed sql.NullTime
	err = q.QueryRowContext(ctx, `
		SELECT last_analyzed_at FROM files
		WHERE project_id = ? AND last_analyzed_at IS NOT NULL
		ORDER BY last_analyzed_at DESC LIMIT 1
	`, projectID).Scan(&lastAnalyzed)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}
	if lastAnalyzed.Valid {
		status.LastAnalyzedAt = lastAnalyzed.Time
	}

	// Count elements
	err = q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM code_elements ce
		JOIN files f ON ce.file_id = f.id
		WHERE f.project_id = ?
	`, projectID).Scan(&status.ElementsCount)
	if err != nil {
		return nil, err
	}

	// Count documentation
	err = q.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(CASE WHEN d.low_quality THEN 1 END)
		FROM documentation d`+docProjectJoin+`
		WHERE `+docProjectExpr+` = ?
	`, projectID).Scan(&status.DocumentationCount, &status.LowQualityCount)
	if err != nil {
		return nil, err
	}

	// Count chunks and embeddings
	err = q.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(e.id)
		FROM chunks c
		JOIN documentation d ON d.id = c.documentation_id`+docProjectJoin+`
		LEFT JOIN embeddings e ON e.chunk_id = c.id
		WHERE `+docProjectExpr+` = ?
	`, projectID).Scan(&status.ChunksCount, &status.EmbeddingsCount)
	if err != nil {
		return nil, err
	}

	// Calculate database size
	var pageCount, pageSize int
	err = q.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount)
	if err == nil {
		_ = q.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize)
		status.IndexSizeMB = float64(pageCount*pageSize) / (1024 * 1024)
	}

	status.Health = HealthStatus{
		DatabaseAccessible:  true,
		EmbeddingsAvailable: status.EmbeddingsCount > 0,
		FTSIndexesBuilt:     true, // FTS tables are created with migrations
	}

	return status, nil
}

func (s *SQLiteStorage) GetStatus(ctx context.Context, projectID int64) (*ProjectStatus, error) {
	return s.getStatusWithQuerier(ctx, s.querier(), projectID)
}

// requireAffected maps a zero-row update to ErrNotFound
func requireAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// isUniqueViolation reports whether err is a UNIQUE constraint failure.
// Both drivers report it in the message text.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Transaction implementations

func (t *sqliteTx) CreateProject(ctx context.Context, project *Project) error {
	return t.storage.createProjectWithQuerier(ctx, t.querier(), project)
}

func (t *sqliteTx) GetProject(ctx context.Context, name string) (*Project, error) {
	return t.storage.getProjectWithQuerier(ctx, t.querier(), name)
}

func (t *sqliteTx) GetProjectByID(ctx context.Context, projectID int64) (*Project, error) {
	return t.storage.getProjectByIDWithQuerier(ctx, t.querier(), projectID)
}

func (t *sqliteTx) UpdateProject(ctx context.Context, project *Project) error {
	return t.storage.updateProjectWithQuerier(ctx, t.querier(), project)
}

func (t *sqliteTx) ListProjects(ctx context.Context) ([]*Project, error) {
	return t.storage.listProjectsWithQuerier(ctx, t.querier())
}

func (t *sqliteTx) DeleteProject(ctx context.Context, projectID int64) error {
	return t.storage.deleteProjectWithQuerier(ctx, t.querier(), projectID)
}

func (t *sqliteTx) UpsertFile(ctx context.Context, file *File) error {
	return t.storage.upsertFileWithQuerier(ctx, t.querier(), file)
}

func (t *sqliteTx) GetFile(ctx context.Context, projectID int64, filePath string) (*File, error) {
	return t.storage.getFileWithQuerier(ctx, t.querier(), projectID, filePath)
}

func (t *sqliteTx) GetFileByID(ctx context.Context, fileID int64) (*File, error) {
	return t.storage.getFileByIDWithQuerier(ctx, t.querier(), fileID)
}

func (t *sqliteTx) ListFiles(ctx context.Context, projectID int64) ([]*File, error) {
	return t.storage.listFilesWithQuerier(ctx, t.querier(), projectID)
}

func (t *sqliteTx) DeleteFile(ctx context.Context, fileID int64) error {
	return t.storage.deleteFileWithQuerier(ctx, t.querier(), fileID)
}

func (t *sqliteTx) TouchFile(ctx context.Context, fileID int64, checkedAt time.Time) error {
	return t.storage.touchFileWithQuerier(ctx, t.querier(), fileID, checkedAt)
}

func (t *sqliteTx) MarkFileIndexed(ctx context.Context, fileID int64, hash [32]byte) error {
	return t.storage.markFileIndexedWithQuerier(ctx, t.querier(), fileID, hash)
}

func (t *sqliteTx) UpsertElement(ctx context.Context, element *Element) error {
	return t.storage.upsertElementWithQuerier(ctx, t.querier(), element)
}

func (t *sqliteTx) GetElement(ctx context.Context, elementID int64) (*Element, error) {
	return t.storage.getElementWithQuerier(ctx, t.querier(), elementID)
}

func (t *sqliteTx) ListElementsByFile(ctx context.Context, fileID int64) ([]*Element, error) {
	return t.storage.listElementsByFileWithQuerier(ctx, t.querier(), fileID)
}

func (t *sqliteTx) DeleteElementsExcept(ctx context.Context, fileID int64, keep []int64) (int, error) {
	return t.storage.deleteElementsExceptWithQuerier(ctx, t.querier(), fileID, keep)
}

func (t *sqliteTx) UpsertRelationship(ctx context.Context, rel *Relationship) error {
	return t.storage.upsertRelationshipWithQuerier(ctx, t.querier(), rel)
}

func (t *sqliteTx) DeleteRelationshipsByFile(ctx context.Context, fileID int64) error {
	return t.storage.deleteRelationshipsByFileWithQuerier(ctx, t.querier(), fileID)
}

func (t *sqliteTx) ListRelated(ctx context.Context, elementID int64, limit int) ([]*RelatedElement, error) {
	return t.storage.listRelatedWithQuerier(ctx, t.querier(), elementID, limit)
}

func (t *sqliteTx) GetDocumentation(ctx context.Context, docID int64) (*Documentation, error) {
	return t.storage.getDocumentationWithQuerier(ctx, t.querier(), docID)
}

func (t *sqliteTx) GetDocumentationByElement(ctx context.Context, elementID int64) (*Documentation, error) {
	return t.storage.getDocumentationByElementWithQuerier(ctx, t.querier(), elementID)
}

func (t *sqliteTx) ListProjectDocumentation(ctx context.Context, projectID int64) ([]*Documentation, error) {
	return t.storage.listProjectDocumentationWithQuerier(ctx, t.querier(), projectID)
}

func (t *sqliteTx) CommitDocumentation(ctx context.Context, doc *Documentation, chunks []*Chunk) error {
	return t.storage.commitDocumentationWithQuerier(ctx, t.querier(), doc, chunks)
}

func (t *sqliteTx) ApproveDocumentation(ctx context.Context, docID int64, reviewer string) error {
	return t.storage.approveDocumentationWithQuerier(ctx, t.querier(), docID, reviewer)
}

func (t *sqliteTx) PutChunk(ctx context.Context, chunk *Chunk) (int64, error) {
	return t.storage.putChunkWithQuerier(ctx, t.querier(), chunk, nil)
}

func (t *sqliteTx) GetChunk(ctx context.Context, chunkID int64) (*Chunk, error) {
	return t.storage.getChunkWithQuerier(ctx, t.querier(), chunkID)
}

func (t *sqliteTx) ListChunksByDocumentation(ctx context.Context, docID int64) ([]*Chunk, error) {
	return t.storage.listChunksByDocumentationWithQuerier(ctx, t.querier(), docID)
}

func (t *sqliteTx) GetChunkDetails(ctx context.Context, chunkIDs []int64) (map[int64]*ChunkDetail, error) {
	return t.storage.getChunkDetailsWithQuerier(ctx, t.querier(), chunkIDs)
}

func (t *sqliteTx) Nearest(ctx context.Context, vector []float32, k int, filters *SearchFilters) ([]VectorResult, error) {
	return nearest(ctx, t.querier(), t.storage.vecEnabled, vector, k, filters)
}

func (t *sqliteTx) SearchText(ctx context.Context, query string, limit int, filters *SearchFilters) ([]TextResult, error) {
	return searchText(ctx, t.querier(), query, limit, filters)
}

func (t *sqliteTx) RecordQuery(ctx context.Context, query *SearchQuery) error {
	return t.storage.recordQueryWithQuerier(ctx, t.querier(), query)
}

func (t *sqliteTx) RecordFeedback(ctx context.Context, queryID int64, feedback string) error {
	return t.storage.recordFeedbackWithQuerier(ctx, t.querier(), queryID, feedback)
}

func (t *sqliteTx) GetStatus(ctx context.Context, projectID int64) (*ProjectStatus, error) {
	return t.storage.getStatusWithQuerier(ctx, t.querier(), projectID)
}

func (t *sqliteTx) Close() error {
	// Transactions don't close the underlying connection
	return nil
}

func (t *sqliteTx) BeginTx(ctx context.Context) (Tx, error) {
	// SQLite does not support true nested transactions
	return nil, errors.New("nested transactions not supported")
}
