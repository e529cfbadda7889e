package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"ckg/internal/entity"
	ckgerrors "ckg/internal/errors"
)

// Store provides the graph operations over the database: transactional
// file upserts, deletion, structural queries, and relationship access.
type Store struct {
	db     *DB
	logger *slog.Logger
}

// New creates a Store over an open database.
func New(db *DB, logger *slog.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// DB exposes the underlying database for subsystems that manage their own
// statements (embedding persistence, plan records).
func (s *Store) DB() *DB {
	return s.db
}

// ContentHash returns the canonical hex digest used to detect unchanged
// re-ingestion and stale split plans.
func ContentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// FileUpsert is the payload applied by ApplyFileUpsert. Entities and
// Relationships hold the extraction result for the file's current content;
// the file node itself is managed by the store.
type FileUpsert struct {
	Path          string
	Content       []byte
	Revision      string
	Language      string
	Doc           string
	LineCount     int
	Complexity    int
	Degraded      bool
	ParseError    string
	Entities      []entity.Entity
	Relationships []entity.Relationship
	Force         bool
}

// entityColumns is the canonical select list for scanEntity.
const entityColumns = `id, kind, path, name, qualified_name, signature, doc,
	start_line, end_line, complexity, version, language, content_hash,
	revision, line_count, maintainability, debt_score, degraded, parse_error`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntity(r rowScanner) (*entity.Entity, error) {
	var e entity.Entity
	var degraded int
	err := r.Scan(
		&e.ID, &e.Kind, &e.Path, &e.Name, &e.QualifiedName, &e.Signature, &e.Doc,
		&e.StartLine, &e.EndLine, &e.Complexity, &e.Version, &e.Language, &e.ContentHash,
		&e.Revision, &e.LineCount, &e.Maintainability, &e.DebtScore, &degraded, &e.ParseError,
	)
	if err != nil {
		return nil, err
	}
	e.Degraded = degraded != 0
	return &e, nil
}

func scanRelationship(r rowScanner) (*entity.Relationship, error) {
	var rel entity.Relationship
	var toID sql.NullString
	var resolved int
	if err := r.Scan(&rel.ID, &rel.FromID, &toID, &rel.ToName, &rel.Kind, &resolved); err != nil {
		return nil, err
	}
	rel.ToID = toID.String
	rel.Resolved = resolved != 0
	return &rel, nil
}

// ApplyFileUpsert replaces a file's extracted entities and relationships
// in a single transaction. Re-applying identical content is a no-op with an
// empty delta. Changed content deletes and recreates the file's owned
// entities while preserving the file node's identity, its version history,
// and its category assignments.
func (s *Store) ApplyFileUpsert(ctx context.Context, up *FileUpsert) (*entity.Delta, error) {
	hash := ContentHash(up.Content)
	fileID := entity.FileID(up.Path)
	delta := &entity.Delta{}

	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		var existingHash string
		var existingVersion int64
		exists := true
		err := tx.QueryRowContext(ctx,
			`SELECT content_hash, version FROM entities WHERE id = ?`, fileID,
		).Scan(&existingHash, &existingVersion)
		if err == sql.ErrNoRows {
			exists = false
		} else if err != nil {
			return err
		}

		if exists && existingHash == hash && !up.Force {
			s.logger.Debug("file content unchanged, skipping", "path", up.Path)
			return nil
		}

		// Snapshot the file's current owned entities and edges so the delta
		// reflects exactly what changed.
		oldVersions := make(map[string]int64)
		oldQNames := make(map[string]string)
		rows, err := tx.QueryContext(ctx,
			`SELECT id, qualified_name, version FROM entities WHERE path = ? AND id != ?`,
			up.Path, fileID)
		if err != nil {
			return err
		}
		for rows.Next() {
			var id, qname string
			var ver int64
			if err := rows.Scan(&id, &qname, &ver); err != nil {
				rows.Close()
				return err
			}
			oldVersions[id] = ver
			oldQNames[id] = qname
		}
		if err := rows.Close(); err != nil {
			return err
		}

		oldRelIDs := make(map[string]bool)
		if exists {
			ownerIDs := make([]string, 0, len(oldVersions)+1)
			ownerIDs = append(ownerIDs, fileID)
			for id := range oldVersions {
				ownerIDs = append(ownerIDs, id)
			}
			q := `SELECT id FROM relationships WHERE kind != 'BELONGS_TO' AND from_id IN (` +
				placeholders(len(ownerIDs)) + `)`
			relRows, err := tx.QueryContext(ctx, q, toArgs(ownerIDs)...)
			if err != nil {
				return err
			}
			for relRows.Next() {
				var id string
				if err := relRows.Scan(&id); err != nil {
					relRows.Close()
					return err
				}
				oldRelIDs[id] = true
			}
			if err := relRows.Close(); err != nil {
				return err
			}
		}

		newIDs := make(map[string]bool, len(up.Entities))
		for i := range up.Entities {
			newIDs[up.Entities[i].ID] = true
		}

		// Declarations that disappear leave their inbound edges dangling;
		// flip those to unresolved so referencing entities stay queryable
		// and impact analysis can surface the breakage.
		for id, qname := range oldQNames {
			if newIDs[id] {
				continue
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE relationships SET resolved = 0, to_id = NULL, to_name = ? WHERE to_id = ?`,
				qname, id); err != nil {
				return err
			}
		}

		// Delete-then-recreate the owned entities. Outgoing edges and
		// embedding rows cascade with them.
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM entities WHERE path = ? AND id != ?`, up.Path, fileID); err != nil {
			return err
		}
		if exists {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM relationships WHERE from_id = ? AND kind != 'BELONGS_TO'`, fileID); err != nil {
				return err
			}
		}

		degraded := 0
		if up.Degraded {
			degraded = 1
		}
		if exists {
			_, err = tx.ExecContext(ctx, `
				UPDATE entities SET
					name = ?, qualified_name = ?, doc = ?, version = ?,
					language = ?, content_hash = ?, revision = ?, line_count = ?,
					complexity = ?, maintainability = 0, debt_score = 0,
					degraded = ?, parse_error = ?
				WHERE id = ?`,
				filepath.Base(up.Path), up.Path, up.Doc, existingVersion+1,
				up.Language, hash, up.Revision, up.LineCount,
				up.Complexity, degraded, up.ParseError, fileID)
			if err != nil {
				return err
			}
			delta.UpdatedEntities = append(delta.UpdatedEntities, fileID)
		} else {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO entities (id, kind, path, name, qualified_name, doc, version,
					language, content_hash, revision, line_count, complexity,
					degraded, parse_error)
				VALUES (?, 'file', ?, ?, ?, ?, 1, ?, ?, ?, ?, ?, ?, ?)`,
				fileID, up.Path, filepath.Base(up.Path), up.Path, up.Doc,
				up.Language, hash, up.Revision, up.LineCount, up.Complexity,
				degraded, up.ParseError)
			if err != nil {
				return err
			}
			delta.CreatedEntities = append(delta.CreatedEntities, fileID)
		}

		for i := range up.Entities {
			e := &up.Entities[i]
			ver := int64(1)
			if old, ok := oldVersions[e.ID]; ok {
				ver = old + 1
				delta.UpdatedEntities = append(delta.UpdatedEntities, e.ID)
			} else {
				delta.CreatedEntities = append(delta.CreatedEntities, e.ID)
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO entities (id, kind, path, name, qualified_name, signature,
					doc, start_line, end_line, complexity, version)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				e.ID, e.Kind, up.Path, e.Name, e.QualifiedName, e.Signature,
				e.Doc, e.StartLine, e.EndLine, e.Complexity, ver)
			if err != nil {
				return fmt.Errorf("failed to insert entity %s: %w", e.QualifiedName, err)
			}
		}
		for id := range oldVersions {
			if !newIDs[id] {
				delta.DeletedEntities = append(delta.DeletedEntities, id)
			}
		}

		newRelIDs := make(map[string]bool, len(up.Relationships))
		for i := range up.Relationships {
			r := &up.Relationships[i]
			newRelIDs[r.ID] = true
			resolved := 0
			var toID interface{}
			if r.Resolved {
				resolved = 1
			}
			if r.ToID != "" {
				toID = r.ToID
			}
			_, err = tx.ExecContext(ctx, `
				INSERT OR REPLACE INTO relationships (id, from_id, to_id, to_name, kind, resolved)
				VALUES (?, ?, ?, ?, ?, ?)`,
				r.ID, r.FromID, toID, r.ToName, r.Kind, resolved)
			if err != nil {
				return fmt.Errorf("failed to insert relationship %s: %w", r.ID, err)
			}
			if !oldRelIDs[r.ID] {
				delta.CreatedRelationships = append(delta.CreatedRelationships, r.ID)
			}
		}
		for id := range oldRelIDs {
			if !newRelIDs[id] {
				delta.DeletedRelationships = append(delta.DeletedRelationships, id)
			}
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO file_contents (path, content, raw_size) VALUES (?, ?, ?)
			ON CONFLICT(path) DO UPDATE SET content = excluded.content, raw_size = excluded.raw_size`,
			up.Path, compressContent(up.Content), len(up.Content))
		return err
	})
	if err != nil {
		return nil, err
	}

	if !delta.Empty() {
		s.logger.Debug("file upsert applied", "path", up.Path,
			"created", len(delta.CreatedEntities),
			"updated", len(delta.UpdatedEntities),
			"deleted", len(delta.DeletedEntities))
	}
	return delta, nil
}

// DeleteFile removes a file and everything it owns. Inbound edges from
// other files flip to unresolved rather than disappearing, so the breakage
// stays visible to impact analysis. Deleting an absent path is a no-op.
func (s *Store) DeleteFile(ctx context.Context, path string) (*entity.Delta, error) {
	delta := &entity.Delta{}
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT id, qualified_name FROM entities WHERE path = ?`, path)
		if err != nil {
			return err
		}
		qnames := make(map[string]string)
		for rows.Next() {
			var id, qname string
			if err := rows.Scan(&id, &qname); err != nil {
				rows.Close()
				return err
			}
			qnames[id] = qname
		}
		if err := rows.Close(); err != nil {
			return err
		}
		if len(qnames) == 0 {
			return nil
		}

		for id, qname := range qnames {
			if _, err := tx.ExecContext(ctx,
				`UPDATE relationships SET resolved = 0, to_id = NULL, to_name = ? WHERE to_id = ?`,
				qname, id); err != nil {
				return err
			}
			delta.DeletedEntities = append(delta.DeletedEntities, id)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM entities WHERE path = ?`, path); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM file_contents WHERE path = ?`, path)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !delta.Empty() {
		s.logger.Info("file deleted from graph", "path", path,
			"entities", len(delta.DeletedEntities))
	}
	return delta, nil
}

// GetEntity fetches a single entity by stable id.
func (s *Store) GetEntity(ctx context.Context, id string) (*entity.Entity, error) {
	row := s.db.QueryRow(ctx, `SELECT `+entityColumns+` FROM entities WHERE id = ?`, id)
	e, err := scanEntity(row)
	if err == sql.ErrNoRows {
		return nil, ckgerrors.NewNotFoundError(id)
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// GetFileByPath fetches the file node for a path.
func (s *Store) GetFileByPath(ctx context.Context, path string) (*entity.Entity, error) {
	return s.GetEntity(ctx, entity.FileID(path))
}

// GetFileContent returns the stored source text of an indexed file.
func (s *Store) GetFileContent(ctx context.Context, path string) ([]byte, error) {
	var blob []byte
	err := s.db.QueryRow(ctx,
		`SELECT content FROM file_contents WHERE path = ?`, path).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, ckgerrors.NewNotFoundError(entity.FileID(path))
	}
	if err != nil {
		return nil, err
	}
	return decompressContent(blob)
}

// Pattern describes a structural query over the graph.
type Pattern struct {
	Kinds      []entity.Kind `json:"kinds,omitempty"`
	NameGlob   string        `json:"nameGlob,omitempty"`
	PathPrefix string        `json:"pathPrefix,omitempty"`
	Category   string        `json:"category,omitempty"`
	Degraded   *bool         `json:"degraded,omitempty"`
	Limit      int           `json:"limit,omitempty"`
}

const defaultQueryLimit = 100

// Query runs a structural pattern query: kind, name glob, path prefix, and
// category filters compose conjunctively.
func (s *Store) Query(ctx context.Context, p Pattern) ([]entity.Entity, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT `)
	sb.WriteString(prefixColumns("e"))
	sb.WriteString(` FROM entities e`)

	var args []interface{}
	var conds []string

	if p.Category != "" {
		sb.WriteString(` JOIN entities f ON f.path = e.path AND f.kind = 'file'
			JOIN relationships br ON br.from_id = f.id AND br.kind = 'BELONGS_TO'
			JOIN entities c ON c.id = br.to_id`)
		conds = append(conds, `c.name = ?`)
		args = append(args, p.Category)
	}
	if len(p.Kinds) > 0 {
		kindPh := placeholders(len(p.Kinds))
		conds = append(conds, `e.kind IN (`+kindPh+`)`)
		for _, k := range p.Kinds {
			args = append(args, string(k))
		}
	}
	if p.NameGlob != "" {
		conds = append(conds, `(e.name GLOB ? OR e.qualified_name GLOB ?)`)
		args = append(args, p.NameGlob, p.NameGlob)
	}
	if p.PathPrefix != "" {
		conds = append(conds, `e.path LIKE ? ESCAPE '\'`)
		args = append(args, escapeLike(p.PathPrefix)+"%")
	}
	if p.Degraded != nil {
		d := 0
		if *p.Degraded {
			d = 1
		}
		conds = append(conds, `e.degraded = ?`)
		args = append(args, d)
	}

	if len(conds) > 0 {
		sb.WriteString(` WHERE ` + strings.Join(conds, ` AND `))
	}
	sb.WriteString(` ORDER BY e.path, e.start_line, e.qualified_name`)

	limit := p.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	sb.WriteString(` LIMIT ?`)
	args = append(args, limit)

	rows, err := s.db.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []entity.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// ListFiles returns all indexed file nodes ordered by path.
func (s *Store) ListFiles(ctx context.Context) ([]entity.Entity, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE kind = 'file' ORDER BY path`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []entity.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// ListFileEntities returns the entities owned by a file, optionally
// filtered by kind, in source order.
func (s *Store) ListFileEntities(ctx context.Context, path string, kinds ...entity.Kind) ([]entity.Entity, error) {
	q := `SELECT ` + entityColumns + ` FROM entities WHERE path = ? AND kind != 'file'`
	args := []interface{}{path}
	if len(kinds) > 0 {
		q += ` AND kind IN (` + placeholders(len(kinds)) + `)`
		for _, k := range kinds {
			args = append(args, string(k))
		}
	}
	q += ` ORDER BY start_line, qualified_name`

	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []entity.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

const relColumns = `id, from_id, to_id, to_name, kind, resolved`

// Outgoing returns edges leaving an entity, optionally filtered by kind.
func (s *Store) Outgoing(ctx context.Context, fromID string, kinds ...entity.RelKind) ([]entity.Relationship, error) {
	q := `SELECT ` + relColumns + ` FROM relationships WHERE from_id = ?`
	args := []interface{}{fromID}
	if len(kinds) > 0 {
		q += ` AND kind IN (` + placeholders(len(kinds)) + `)`
		for _, k := range kinds {
			args = append(args, string(k))
		}
	}
	return s.queryRels(ctx, q, args...)
}

// Incoming returns resolved edges arriving at an entity.
func (s *Store) Incoming(ctx context.Context, toID string, kinds ...entity.RelKind) ([]entity.Relationship, error) {
	q := `SELECT ` + relColumns + ` FROM relationships WHERE to_id = ? AND resolved = 1`
	args := []interface{}{toID}
	if len(kinds) > 0 {
		q += ` AND kind IN (` + placeholders(len(kinds)) + `)`
		for _, k := range kinds {
			args = append(args, string(k))
		}
	}
	return s.queryRels(ctx, q, args...)
}

// IncomingForMany returns resolved edges arriving at any of the given
// entities in one pass. Used by the impact traversal frontier.
func (s *Store) IncomingForMany(ctx context.Context, toIDs []string, kinds ...entity.RelKind) ([]entity.Relationship, error) {
	if len(toIDs) == 0 {
		return nil, nil
	}
	q := `SELECT ` + relColumns + ` FROM relationships WHERE resolved = 1 AND to_id IN (` +
		placeholders(len(toIDs)) + `)`
	args := toArgs(toIDs)
	if len(kinds) > 0 {
		q += ` AND kind IN (` + placeholders(len(kinds)) + `)`
		for _, k := range kinds {
			args = append(args, string(k))
		}
	}
	return s.queryRels(ctx, q, args...)
}

// RefsWithin returns resolved REFERENCES edges whose endpoints both live in
// the given file. This is the split planner's dependency graph input.
func (s *Store) RefsWithin(ctx context.Context, path string) ([]entity.Relationship, error) {
	q := `SELECT r.id, r.from_id, r.to_id, r.to_name, r.kind, r.resolved
		FROM relationships r
		JOIN entities a ON a.id = r.from_id
		JOIN entities b ON b.id = r.to_id
		WHERE r.kind = 'REFERENCES' AND r.resolved = 1 AND a.path = ? AND b.path = ?`
	return s.queryRels(ctx, q, path, path)
}

// UnresolvedMentions returns unresolved REFERENCES edges leaving an entity:
// names it uses that did not bind to a local declaration. Import closure
// attribution matches these against import bindings.
func (s *Store) UnresolvedMentions(ctx context.Context, fromID string) ([]entity.Relationship, error) {
	q := `SELECT ` + relColumns + ` FROM relationships
		WHERE from_id = ? AND kind = 'REFERENCES' AND resolved = 0`
	return s.queryRels(ctx, q, fromID)
}

// UnresolvedMentionsIn returns unresolved REFERENCES edges leaving any
// entity owned by the file, in one pass.
func (s *Store) UnresolvedMentionsIn(ctx context.Context, path string) ([]entity.Relationship, error) {
	q := `SELECT r.id, r.from_id, r.to_id, r.to_name, r.kind, r.resolved
		FROM relationships r
		JOIN entities a ON a.id = r.from_id
		WHERE a.path = ? AND r.kind = 'REFERENCES' AND r.resolved = 0`
	return s.queryRels(ctx, q, path)
}

// ExternalReferencesTo returns resolved REFERENCES edges arriving at the
// file's declarations from entities outside the file.
func (s *Store) ExternalReferencesTo(ctx context.Context, path string) ([]entity.Relationship, error) {
	q := `SELECT r.id, r.from_id, r.to_id, r.to_name, r.kind, r.resolved
		FROM relationships r
		JOIN entities a ON a.id = r.from_id
		JOIN entities b ON b.id = r.to_id
		WHERE r.kind = 'REFERENCES' AND r.resolved = 1 AND b.path = ? AND a.path != ?`
	return s.queryRels(ctx, q, path, path)
}

// BrokenReferences returns unresolved REFERENCES and IMPORTS edges that
// previously pointed at an entity which has since been deleted. From each
// edge the caller can reach the referencing entity via FromID.
func (s *Store) BrokenReferences(ctx context.Context, toName string) ([]entity.Relationship, error) {
	q := `SELECT ` + relColumns + ` FROM relationships
		WHERE to_name = ? AND resolved = 0 AND kind IN ('REFERENCES', 'IMPORTS')`
	return s.queryRels(ctx, q, toName)
}

// ImportersOf returns file nodes holding a resolved IMPORTS edge to the
// given file.
func (s *Store) ImportersOf(ctx context.Context, path string) ([]entity.Entity, error) {
	fileID := entity.FileID(path)
	q := `SELECT ` + prefixColumns("f") + ` FROM entities f
		JOIN relationships r ON r.from_id = f.id
		WHERE r.kind = 'IMPORTS' AND r.resolved = 1 AND r.to_id = ? AND f.kind = 'file'`
	rows, err := s.db.Query(ctx, q, fileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []entity.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// UnresolvedImport pairs an unresolved IMPORTS edge with its importer.
type UnresolvedImport struct {
	RelID            string
	ImporterPath     string
	ImporterLanguage string
	ToName           string
}

// UnresolvedImports lists IMPORTS edges that have not been bound to an
// indexed file yet.
func (s *Store) UnresolvedImports(ctx context.Context) ([]UnresolvedImport, error) {
	rows, err := s.db.Query(ctx, `
		SELECT r.id, f.path, f.language, r.to_name
		FROM relationships r
		JOIN entities f ON f.id = r.from_id
		WHERE r.kind = 'IMPORTS' AND r.resolved = 0`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []UnresolvedImport
	for rows.Next() {
		var u UnresolvedImport
		if err := rows.Scan(&u.RelID, &u.ImporterPath, &u.ImporterLanguage, &u.ToName); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// BindImport resolves an IMPORTS edge to an indexed file node.
func (s *Store) BindImport(ctx context.Context, relID, targetID string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE relationships SET to_id = ?, resolved = 1 WHERE id = ?`, targetID, relID)
	return err
}

// RetargetImport points a resolved IMPORTS edge at a different file,
// updating the recorded module name. Used when a split moves declarations
// to a new file and importers must follow.
func (s *Store) RetargetImport(ctx context.Context, relID, newTargetID, newToName string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE relationships SET to_id = ?, to_name = ?, resolved = 1 WHERE id = ?`,
		newTargetID, newToName, relID)
	return err
}

// EnsureImportTarget creates the node for an external module (one that is
// not a file in the repo) and returns its ID. Safe to call repeatedly.
func (s *Store) EnsureImportTarget(ctx context.Context, module string) (string, error) {
	id := entity.ImportTargetID(module)
	_, err := s.db.Exec(ctx, `
		INSERT OR IGNORE INTO entities (id, kind, path, name, qualified_name, version)
		VALUES (?, 'import', '', ?, ?, 1)`,
		id, module, module)
	if err != nil {
		return "", err
	}
	return id, nil
}

// AddRelationships inserts edges outside a file upsert: SCIP-derived
// cross-file references and category links.
func (s *Store) AddRelationships(ctx context.Context, rels []entity.Relationship) error {
	if len(rels) == 0 {
		return nil
	}
	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		for i := range rels {
			r := &rels[i]
			resolved := 0
			if r.Resolved {
				resolved = 1
			}
			var toID interface{}
			if r.ToID != "" {
				toID = r.ToID
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT OR REPLACE INTO relationships (id, from_id, to_id, to_name, kind, resolved)
				VALUES (?, ?, ?, ?, ?, ?)`,
				r.ID, r.FromID, toID, r.ToName, r.Kind, resolved); err != nil {
				return err
			}
		}
		return nil
	})
}

// SetCategory assigns a file to a category, creating the category node on
// first use. Assignments survive file re-ingestion.
func (s *Store) SetCategory(ctx context.Context, path, category, description string) error {
	fileID := entity.FileID(path)
	catID := entity.CategoryID(category)
	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		var exists string
		if err := tx.QueryRowContext(ctx,
			`SELECT id FROM entities WHERE id = ?`, fileID).Scan(&exists); err != nil {
			if err == sql.ErrNoRows {
				return ckgerrors.NewNotFoundError(fileID)
			}
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO entities (id, kind, path, name, qualified_name, doc, version)
			VALUES (?, 'category', '', ?, ?, ?, 1)`,
			catID, category, category, description); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE entities SET doc = ? WHERE id = ?`, description, catID); err != nil {
			return err
		}
		relID := entity.RelationshipID(fileID, entity.RelBelongsTo, catID, category)
		_, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO relationships (id, from_id, to_id, to_name, kind, resolved)
			VALUES (?, ?, ?, ?, 'BELONGS_TO', 1)`,
			relID, fileID, catID, category)
		return err
	})
}

// ClearCategories removes a file's category assignments.
func (s *Store) ClearCategories(ctx context.Context, path string) error {
	_, err := s.db.Exec(ctx,
		`DELETE FROM relationships WHERE from_id = ? AND kind = 'BELONGS_TO'`,
		entity.FileID(path))
	return err
}

// PruneOrphanCategories deletes category nodes no file belongs to anymore,
// such as categories removed from the declaration file between syncs.
func (s *Store) PruneOrphanCategories(ctx context.Context) (int, error) {
	res, err := s.db.Exec(ctx, `
		DELETE FROM entities WHERE kind = 'category' AND id NOT IN (
			SELECT to_id FROM relationships WHERE kind = 'BELONGS_TO' AND to_id IS NOT NULL)`)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// UpdateFileMetrics stores computed metrics for a file under optimistic
// concurrency: the write only lands if the file's version still matches.
func (s *Store) UpdateFileMetrics(ctx context.Context, path string, complexity int, maintainability, debt float64, expectedVersion int64) error {
	fileID := entity.FileID(path)
	res, err := s.db.Exec(ctx, `
		UPDATE entities SET complexity = ?, maintainability = ?, debt_score = ?
		WHERE id = ? AND version = ?`,
		complexity, maintainability, debt, fileID, expectedVersion)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var actual int64
		err := s.db.QueryRow(ctx,
			`SELECT version FROM entities WHERE id = ?`, fileID).Scan(&actual)
		if err == sql.ErrNoRows {
			return ckgerrors.NewNotFoundError(fileID)
		}
		if err != nil {
			return err
		}
		return ckgerrors.NewConflictError(fileID, expectedVersion, actual)
	}
	return nil
}

// Stats summarizes graph state for status reporting.
type Stats struct {
	Files             int `json:"files"`
	DegradedFiles     int `json:"degradedFiles"`
	Declarations      int `json:"declarations"`
	Imports           int `json:"imports"`
	Categories        int `json:"categories"`
	Relationships     int `json:"relationships"`
	UnresolvedEdges   int `json:"unresolvedEdges"`
	FreshEmbeddings   int `json:"freshEmbeddings"`
	StaleEmbeddings   int `json:"staleEmbeddings"`
	MissingEmbeddings int `json:"missingEmbeddings"`
	ProposedPlans     int `json:"proposedPlans"`
}

// GatherStats collects counts across the graph for the given embedding model.
func (s *Store) GatherStats(ctx context.Context, model string) (*Stats, error) {
	st := &Stats{}
	counts := []struct {
		dest  *int
		query string
		args  []interface{}
	}{
		{&st.Files, `SELECT COUNT(*) FROM entities WHERE kind = 'file'`, nil},
		{&st.DegradedFiles, `SELECT COUNT(*) FROM entities WHERE kind = 'file' AND degraded = 1`, nil},
		{&st.Declarations, `SELECT COUNT(*) FROM entities WHERE kind IN ('class', 'function', 'method')`, nil},
		{&st.Imports, `SELECT COUNT(*) FROM entities WHERE kind = 'import'`, nil},
		{&st.Categories, `SELECT COUNT(*) FROM entities WHERE kind = 'category'`, nil},
		{&st.Relationships, `SELECT COUNT(*) FROM relationships`, nil},
		{&st.UnresolvedEdges, `SELECT COUNT(*) FROM relationships WHERE resolved = 0 AND kind != 'REFERENCES'`, nil},
		{&st.FreshEmbeddings, `SELECT COUNT(*) FROM embeddings WHERE model = ? AND stale = 0`, []interface{}{model}},
		{&st.StaleEmbeddings, `SELECT COUNT(*) FROM embeddings WHERE model = ? AND stale = 1`, []interface{}{model}},
		{&st.MissingEmbeddings, `
			SELECT COUNT(*) FROM entities e
			LEFT JOIN embeddings em ON em.entity_id = e.id AND em.model = ? AND em.stale = 0
			WHERE e.kind IN ('class', 'function', 'method') AND em.entity_id IS NULL`,
			[]interface{}{model}},
		{&st.ProposedPlans, `SELECT COUNT(*) FROM split_plans WHERE state = 'proposed'`, nil},
	}
	for _, c := range counts {
		if err := s.db.QueryRow(ctx, c.query, c.args...).Scan(c.dest); err != nil {
			return nil, err
		}
	}
	return st, nil
}

// EntitiesByIDs fetches a batch of entities keyed by id. Missing ids are
// simply absent from the result.
func (s *Store) EntitiesByIDs(ctx context.Context, ids []string) (map[string]entity.Entity, error) {
	out := make(map[string]entity.Entity, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	q := `SELECT ` + entityColumns + ` FROM entities WHERE id IN (` + placeholders(len(ids)) + `)`
	rows, err := s.db.Query(ctx, q, toArgs(ids)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out[e.ID] = *e
	}
	return out, rows.Err()
}

// HasFile reports whether a path is indexed.
func (s *Store) HasFile(ctx context.Context, path string) (bool, error) {
	var one int
	err := s.db.QueryRow(ctx,
		`SELECT 1 FROM entities WHERE kind = 'file' AND path = ?`, path).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) queryRels(ctx context.Context, q string, args ...interface{}) ([]entity.Relationship, error) {
	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []entity.Relationship
	for rows.Next() {
		r, err := scanRelationship(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// placeholders builds a "?, ?, ?" list of the given length.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

func toArgs(ids []string) []interface{} {
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

// escapeLike escapes LIKE wildcards in a literal prefix.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}

// prefixColumns qualifies the entity column list with a table alias.
func prefixColumns(alias string) string {
	cols := strings.Split(entityColumns, ",")
	for i, c := range cols {
		cols[i] = alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}
