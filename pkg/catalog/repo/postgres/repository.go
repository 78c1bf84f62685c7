// Package postgres implements catalog.Repository on PostgreSQL through pgx.
// Relationship integrity is enforced by foreign keys: a product with lineage
// edges or collection memberships cannot be deleted, and product sources
// must reference existing source rows.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendant/product-catalog/pkg/catalog"
	"github.com/tendant/product-catalog/pkg/catalog/metadata"
)

//go:embed schema.sql
var Schema string

const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"

	constraintProductVersion = "catalog_product_name_version_key"
	constraintSourceDigest   = "catalog_source_digest_key"
	constraintCollectionName = "catalog_collection_name_key"

	// lineageLockKey names the advisory lock held while an edge is linked
	lineageLockKey int64 = 0x636174616c6f67
)

// DBTX is an interface that allows us to use either a database connection or a transaction
type DBTX interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Begin(context.Context) (pgx.Tx, error)
}

// Repository implements catalog.Repository using PostgreSQL
type Repository struct {
	db DBTX
}

var _ catalog.Repository = (*Repository)(nil)

// New creates a new PostgreSQL repository
func New(db DBTX) *Repository {
	return &Repository{db: db}
}

// NewWithPool creates a new PostgreSQL repository with connection pool
func NewWithPool(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool}
}

// EnsureSchema creates the catalog tables in the current search_path when
// they do not exist yet.
func EnsureSchema(ctx context.Context, db DBTX) error {
	if _, err := db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply catalog schema: %w", err)
	}
	return nil
}

// Error handling helper
func (r *Repository) handlePostgresError(operation string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation:
			switch pgErr.ConstraintName {
			case constraintSourceDigest:
				return catalog.ErrSourceExists
			case constraintCollectionName:
				return catalog.ErrCollectionExists
			}
			return fmt.Errorf("duplicate entry in %s: %w", operation, catalog.ErrConflict)
		case "23502": // not_null_violation
			return fmt.Errorf("required field %s is missing", pgErr.ColumnName)
		case "42P01": // undefined_table
			return fmt.Errorf("table does not exist - database migration required")
		default:
			return fmt.Errorf("database error in %s: %s (code: %s)", operation, pgErr.Message, pgErr.Code)
		}
	}
	return fmt.Errorf("database error in %s: %w", operation, err)
}

func violation(err error, code string) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == code {
		return pgErr, true
	}
	return nil, false
}

// Product operations

const productColumns = `id, name, version, description, owner, status, visibility,
	readers, writers, metadata, uploaded_at, updated_at`

func (r *Repository) CreateProduct(ctx context.Context, product *catalog.Product) error {
	if len(product.Sources) == 0 {
		return &catalog.ValidationError{Field: "sources", Reason: "at least one source is required"}
	}
	meta, err := metadata.Marshal(product.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	err = pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		if err := lockLiveSources(ctx, tx, product.Sources); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO catalog_product (`+productColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			product.ID, product.Name, product.Version, product.Description,
			string(product.Owner), string(product.Status), string(product.Visibility),
			principals(product.Readers), principals(product.Writers), meta,
			product.Uploaded, product.Updated)
		if err != nil {
			return err
		}

		batch := &pgx.Batch{}
		for i, ps := range product.Sources {
			batch.Queue(`
				INSERT INTO catalog_product_source (product_id, position, source_id, name)
				VALUES ($1, $2, $3, $4)`, product.ID, i, ps.SourceID, ps.Name)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, catalog.ErrSourceDeleting) || errors.Is(err, catalog.ErrSourceNotFound) {
		return err
	}
	if pgErr, ok := violation(err, codeUniqueViolation); ok && pgErr.ConstraintName == constraintProductVersion {
		return &catalog.DuplicateVersionError{Name: product.Name, Version: product.Version}
	}
	if _, ok := violation(err, codeForeignKeyViolation); ok {
		return fmt.Errorf("product %s: %w", product.ID, catalog.ErrSourceNotFound)
	}
	return r.handlePostgresError("create product", err)
}

// lockLiveSources takes a share lock on every source the product links. A
// concurrent ClaimSource either finishes first, and the claim is seen here,
// or waits for this insert and then sees the new reference.
func lockLiveSources(ctx context.Context, tx pgx.Tx, sources []catalog.ProductSource) error {
	ids := make([]string, 0, len(sources))
	for _, ps := range sources {
		ids = append(ids, ps.SourceID.String())
	}
	rows, err := tx.Query(ctx, `
		SELECT id, deleting FROM catalog_source
		WHERE id = ANY($1::uuid[])
		ORDER BY id
		FOR SHARE`, ids)
	if err != nil {
		return err
	}
	type state struct {
		ID       uuid.UUID
		Deleting bool
	}
	found, err := pgx.CollectRows(rows, pgx.RowToStructByPos[state])
	if err != nil {
		return err
	}

	live := make(map[uuid.UUID]bool, len(found))
	for _, s := range found {
		if s.Deleting {
			return fmt.Errorf("source %s: %w", s.ID, catalog.ErrSourceDeleting)
		}
		live[s.ID] = true
	}
	for _, ps := range sources {
		if !live[ps.SourceID] {
			return fmt.Errorf("source %s: %w", ps.SourceID, catalog.ErrSourceNotFound)
		}
	}
	return nil
}

func (r *Repository) GetProduct(ctx context.Context, id uuid.UUID) (*catalog.Product, error) {
	row := r.db.QueryRow(ctx, `SELECT `+productColumns+` FROM catalog_product WHERE id = $1`, id)
	return r.loadProduct(ctx, row)
}

func (r *Repository) GetProductByVersion(ctx context.Context, name, version string) (*catalog.Product, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+productColumns+` FROM catalog_product
		WHERE name = $1 AND version = $2`, name, version)
	return r.loadProduct(ctx, row)
}

func (r *Repository) ListVersions(ctx context.Context, name string) (catalog.VersionIndex, error) {
	rows, err := r.db.Query(ctx, `SELECT version, id FROM catalog_product WHERE name = $1`, name)
	if err != nil {
		return nil, r.handlePostgresError("list versions", err)
	}
	defer rows.Close()

	index := catalog.VersionIndex{}
	for rows.Next() {
		var (
			version string
			id      uuid.UUID
		)
		if err := rows.Scan(&version, &id); err != nil {
			return nil, r.handlePostgresError("scan version", err)
		}
		index[version] = id
	}
	if err := rows.Err(); err != nil {
		return nil, r.handlePostgresError("iterate version rows", err)
	}
	return index, nil
}

func (r *Repository) LatestProduct(ctx context.Context, name string) (*catalog.Product, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+productColumns+` FROM catalog_product
		WHERE name = $1
		ORDER BY uploaded_at DESC, version DESC
		LIMIT 1`, name)
	return r.loadProduct(ctx, row)
}

// ListProducts returns matching products ordered by upload time, then id
func (r *Repository) ListProducts(ctx context.Context, filter catalog.ProductFilter) ([]*catalog.Product, error) {
	query := `
		SELECT id FROM catalog_product
		WHERE ($1 = '' OR name = $1) AND ($2 = '' OR owner = $2)
		ORDER BY uploaded_at, id
		OFFSET $3`
	args := []any{filter.Name, string(filter.Owner), max(filter.Offset, 0)}
	if filter.Limit > 0 {
		query += ` LIMIT $4`
		args = append(args, filter.Limit)
	}
	ids, err := r.ids(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	out := make([]*catalog.Product, 0, len(ids))
	for _, id := range ids {
		p, err := r.GetProduct(ctx, id)
		if errors.Is(err, catalog.ErrProductNotFound) {
			// deleted since the page was read
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// UpdateProduct locks the product row, applies edit and stores the editable
// fields in the same transaction. Identity, sources and relationships are
// left as they are.
func (r *Repository) UpdateProduct(ctx context.Context, id uuid.UUID, edit func(*catalog.Product) error) error {
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		txr := New(tx)
		product, err := txr.loadProduct(ctx, tx.QueryRow(ctx, `
			SELECT `+productColumns+` FROM catalog_product WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return err
		}
		if err := edit(product); err != nil {
			return err
		}

		meta, err := metadata.Marshal(product.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
		_, err = tx.Exec(ctx, `
			UPDATE catalog_product SET
				description = $2, metadata = $3, readers = $4, writers = $5,
				visibility = $6, status = $7, updated_at = $8
			WHERE id = $1`,
			id, product.Description, meta,
			principals(product.Readers), principals(product.Writers),
			string(product.Visibility), string(product.Status), product.Updated)
		if err != nil {
			return r.handlePostgresError("update product", err)
		}
		return nil
	})
}

func (r *Repository) DeleteProduct(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM catalog_product WHERE id = $1`, id)
	if err != nil {
		if _, ok := violation(err, codeForeignKeyViolation); ok {
			return fmt.Errorf("product %s still has relationships: %w", id, catalog.ErrConflict)
		}
		return r.handlePostgresError("delete product", err)
	}
	if tag.RowsAffected() == 0 {
		return catalog.ErrProductNotFound
	}
	return nil
}

func (r *Repository) loadProduct(ctx context.Context, row pgx.Row) (*catalog.Product, error) {
	var (
		p                         catalog.Product
		owner, status, visibility string
		readers, writers          []string
		meta                      []byte
	)
	err := row.Scan(&p.ID, &p.Name, &p.Version, &p.Description, &owner, &status, &visibility,
		&readers, &writers, &meta, &p.Uploaded, &p.Updated)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrProductNotFound
		}
		return nil, r.handlePostgresError("get product", err)
	}
	p.Owner = catalog.Principal(owner)
	p.Status = catalog.ProductStatus(status)
	p.Visibility = catalog.Visibility(visibility)
	p.Readers = fromStrings(readers)
	p.Writers = fromStrings(writers)
	if len(meta) > 0 {
		if p.Metadata, err = metadata.Parse(meta); err != nil {
			return nil, fmt.Errorf("decode metadata of product %s: %w", p.ID, err)
		}
	}

	rows, err := r.db.Query(ctx, `
		SELECT source_id, name FROM catalog_product_source
		WHERE product_id = $1 ORDER BY position`, p.ID)
	if err != nil {
		return nil, r.handlePostgresError("get product sources", err)
	}
	p.Sources, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (catalog.ProductSource, error) {
		var ps catalog.ProductSource
		err := row.Scan(&ps.SourceID, &ps.Name)
		return ps, err
	})
	if err != nil {
		return nil, r.handlePostgresError("scan product sources", err)
	}

	if p.ChildOf, err = r.ids(ctx, `
		SELECT parent_id FROM catalog_lineage WHERE child_id = $1 ORDER BY created_at`, p.ID); err != nil {
		return nil, err
	}
	if p.ParentOf, err = r.ids(ctx, `
		SELECT child_id FROM catalog_lineage WHERE parent_id = $1 ORDER BY created_at`, p.ID); err != nil {
		return nil, err
	}
	if p.Collections, err = r.ids(ctx, `
		SELECT collection_id FROM catalog_collection_member WHERE product_id = $1 ORDER BY added_at`, p.ID); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *Repository) ids(ctx context.Context, query string, args ...any) ([]uuid.UUID, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, r.handlePostgresError("query ids", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, r.handlePostgresError("scan ids", err)
	}
	if ids == nil {
		ids = []uuid.UUID{}
	}
	return ids, nil
}

// Lineage operations

// LinkLineage serializes edge inserts on a transaction-scoped advisory lock
// so the ancestor check cannot race a concurrent link in the other direction.
func (r *Repository) LinkLineage(ctx context.Context, parentID, childID uuid.UUID) (bool, error) {
	var linked bool
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, lineageLockKey); err != nil {
			return err
		}

		var cyclic bool
		err := tx.QueryRow(ctx, `
			WITH RECURSIVE ancestors (id) AS (
				SELECT parent_id FROM catalog_lineage WHERE child_id = $1
				UNION
				SELECT l.parent_id FROM catalog_lineage l JOIN ancestors a ON l.child_id = a.id
			)
			SELECT $1 = $2 OR EXISTS (SELECT 1 FROM ancestors WHERE id = $2)`,
			parentID, childID).Scan(&cyclic)
		if err != nil {
			return err
		}
		if cyclic {
			return fmt.Errorf("%s is an ancestor of %s: %w", childID, parentID, catalog.ErrLineageCycle)
		}

		tag, err := tx.Exec(ctx, `
			INSERT INTO catalog_lineage (parent_id, child_id) VALUES ($1, $2)
			ON CONFLICT DO NOTHING`, parentID, childID)
		if err != nil {
			return err
		}
		linked = tag.RowsAffected() > 0
		return nil
	})
	if err != nil {
		if _, ok := violation(err, codeForeignKeyViolation); ok {
			return false, catalog.ErrProductNotFound
		}
		if errors.Is(err, catalog.ErrLineageCycle) {
			return false, err
		}
		return false, r.handlePostgresError("link lineage", err)
	}
	return linked, nil
}

func (r *Repository) UnlinkLineage(ctx context.Context, parentID, childID uuid.UUID) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM catalog_lineage WHERE parent_id = $1 AND child_id = $2`, parentID, childID)
	if err != nil {
		return false, r.handlePostgresError("unlink lineage", err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}
	return false, r.requireProducts(ctx, parentID, childID)
}

func (r *Repository) requireProducts(ctx context.Context, ids ...uuid.UUID) error {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id.String()] = struct{}{}
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}

	var found int
	err := r.db.QueryRow(ctx, `
		SELECT count(*) FROM catalog_product WHERE id = ANY($1::uuid[])`, keys).Scan(&found)
	if err != nil {
		return r.handlePostgresError("check products", err)
	}
	if found < len(keys) {
		return catalog.ErrProductNotFound
	}
	return nil
}

// Collection operations

func (r *Repository) CreateCollection(ctx context.Context, collection *catalog.Collection) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO catalog_collection (id, name, description, created_at)
		VALUES ($1, $2, $3, $4)`,
		collection.ID, collection.Name, collection.Description, collection.CreatedAt)
	if err != nil {
		return r.handlePostgresError("create collection", err)
	}
	return nil
}

func (r *Repository) GetCollection(ctx context.Context, id uuid.UUID) (*catalog.Collection, error) {
	return r.loadCollection(ctx, r.db.QueryRow(ctx, `
		SELECT id, name, description, created_at FROM catalog_collection WHERE id = $1`, id))
}

func (r *Repository) GetCollectionByName(ctx context.Context, name string) (*catalog.Collection, error) {
	return r.loadCollection(ctx, r.db.QueryRow(ctx, `
		SELECT id, name, description, created_at FROM catalog_collection WHERE name = $1`, name))
}

func (r *Repository) loadCollection(ctx context.Context, row pgx.Row) (*catalog.Collection, error) {
	var c catalog.Collection
	if err := row.Scan(&c.ID, &c.Name, &c.Description, &c.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrCollectionNotFound
		}
		return nil, r.handlePostgresError("get collection", err)
	}
	members, err := r.ids(ctx, `
		SELECT product_id FROM catalog_collection_member
		WHERE collection_id = $1 ORDER BY added_at`, c.ID)
	if err != nil {
		return nil, err
	}
	c.Products = members
	return &c, nil
}

func (r *Repository) DeleteCollection(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM catalog_collection WHERE id = $1`, id)
	if err != nil {
		return r.handlePostgresError("delete collection", err)
	}
	if tag.RowsAffected() == 0 {
		return catalog.ErrCollectionNotFound
	}
	return nil
}

func (r *Repository) AddCollectionMember(ctx context.Context, collectionID, productID uuid.UUID) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		INSERT INTO catalog_collection_member (collection_id, product_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING`, collectionID, productID)
	if err != nil {
		if pgErr, ok := violation(err, codeForeignKeyViolation); ok {
			if pgErr.ConstraintName == "catalog_collection_member_product_fkey" {
				return false, catalog.ErrProductNotFound
			}
			return false, catalog.ErrCollectionNotFound
		}
		return false, r.handlePostgresError("add collection member", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *Repository) RemoveCollectionMember(ctx context.Context, collectionID, productID uuid.UUID) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM catalog_collection_member
		WHERE collection_id = $1 AND product_id = $2`, collectionID, productID)
	if err != nil {
		return false, r.handlePostgresError("remove collection member", err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}
	if _, err := r.GetCollection(ctx, collectionID); err != nil {
		return false, err
	}
	return false, r.requireProducts(ctx, productID)
}

// Source operations

const sourceColumns = `id, name, digest, size, storage_key, created_at`

func (r *Repository) CreateSource(ctx context.Context, source *catalog.Source) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO catalog_source (`+sourceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		source.ID, source.Name, source.Digest, source.Size, source.StorageKey, source.CreatedAt)
	if err != nil {
		return r.handlePostgresError("create source", err)
	}
	return nil
}

func (r *Repository) GetSource(ctx context.Context, id uuid.UUID) (*catalog.Source, error) {
	return r.scanSource(r.db.QueryRow(ctx, `SELECT `+sourceColumns+` FROM catalog_source WHERE id = $1`, id))
}

func (r *Repository) GetSourceByDigest(ctx context.Context, digest string) (*catalog.Source, error) {
	var (
		s        catalog.Source
		deleting bool
	)
	err := r.db.QueryRow(ctx, `SELECT `+sourceColumns+`, deleting FROM catalog_source WHERE digest = $1`, digest).
		Scan(&s.ID, &s.Name, &s.Digest, &s.Size, &s.StorageKey, &s.CreatedAt, &deleting)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrSourceNotFound
		}
		return nil, r.handlePostgresError("get source", err)
	}
	if deleting {
		return nil, fmt.Errorf("digest %s: %w", digest, catalog.ErrSourceDeleting)
	}
	return &s, nil
}

func (r *Repository) scanSource(row pgx.Row) (*catalog.Source, error) {
	var s catalog.Source
	if err := row.Scan(&s.ID, &s.Name, &s.Digest, &s.Size, &s.StorageKey, &s.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrSourceNotFound
		}
		return nil, r.handlePostgresError("get source", err)
	}
	return &s, nil
}

func (r *Repository) SourceReferences(ctx context.Context, sourceID uuid.UUID) ([]uuid.UUID, error) {
	return r.ids(ctx, `
		SELECT DISTINCT product_id FROM catalog_product_source WHERE source_id = $1`, sourceID)
}

// ClaimSource locks the source row, checks that only holder links it and
// marks it deleting, all in one transaction. See lockLiveSources for the
// other side of the lock.
func (r *Repository) ClaimSource(ctx context.Context, id, holder uuid.UUID) error {
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		var deleting bool
		err := tx.QueryRow(ctx, `SELECT deleting FROM catalog_source WHERE id = $1 FOR UPDATE`, id).Scan(&deleting)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return catalog.ErrSourceNotFound
			}
			return r.handlePostgresError("lock source", err)
		}
		if deleting {
			return fmt.Errorf("source %s: %w", id, catalog.ErrSourceDeleting)
		}

		var other uuid.UUID
		err = tx.QueryRow(ctx, `
			SELECT product_id FROM catalog_product_source
			WHERE source_id = $1 AND product_id <> $2
			LIMIT 1`, id, holder).Scan(&other)
		switch {
		case err == nil:
			return fmt.Errorf("source %s is used by product %s: %w", id, other, catalog.ErrSourceReferenced)
		case !errors.Is(err, pgx.ErrNoRows):
			return r.handlePostgresError("check source references", err)
		}

		if _, err := tx.Exec(ctx, `UPDATE catalog_source SET deleting = true WHERE id = $1`, id); err != nil {
			return r.handlePostgresError("claim source", err)
		}
		return nil
	})
}

func (r *Repository) UnclaimSource(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `UPDATE catalog_source SET deleting = false WHERE id = $1`, id)
	if err != nil {
		return r.handlePostgresError("unclaim source", err)
	}
	if tag.RowsAffected() == 0 {
		return catalog.ErrSourceNotFound
	}
	return nil
}

// DeleteSource removes a claimed source row. Links held by the releasing
// product cascade.
func (r *Repository) DeleteSource(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM catalog_source WHERE id = $1 AND deleting`, id)
	if err != nil {
		return r.handlePostgresError("delete source", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	if _, err := r.GetSource(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("source %s has not been claimed: %w", id, catalog.ErrConflict)
}

func principals(ps []catalog.Principal) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = string(p)
	}
	return out
}

func fromStrings(ss []string) []catalog.Principal {
	if len(ss) == 0 {
		return nil
	}
	out := make([]catalog.Principal, len(ss))
	for i, s := range ss {
		out[i] = catalog.Principal(s)
	}
	return out
}
