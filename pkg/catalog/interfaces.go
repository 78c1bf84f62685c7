package catalog

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/product-catalog/pkg/catalog/hash"
)

// ObjectStore is the narrow contract the catalog needs from a blob store.
// Exists may be eventually consistent right after Put on some backends.
type ObjectStore interface {
	// Put streams r to key. sizeHint is the expected length or -1.
	Put(ctx context.Context, key string, r io.Reader, sizeHint int64) error

	// PresignGet returns a short-lived, read-only URL for key
	PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error)

	// Delete removes key
	Delete(ctx context.Context, key string) error

	// Exists reports whether key is stored
	Exists(ctx context.Context, key string) (bool, error)
}

// ExpiringPresigner is implemented by object stores that may return a URL
// signed before the call, such as a cache. PresignGetExpiry reports when
// the returned URL stops working.
type ExpiringPresigner interface {
	PresignGetExpiry(ctx context.Context, key string, expiry time.Duration) (string, time.Time, error)
}

// Repository defines the interface for product, source and collection
// persistence. Edge methods must change both sides of a relationship
// atomically. DeleteProduct returns ErrConflict while the product still has
// lineage edges or collection memberships.
type Repository interface {
	// Product operations
	CreateProduct(ctx context.Context, product *Product) error
	GetProduct(ctx context.Context, id uuid.UUID) (*Product, error)
	GetProductByVersion(ctx context.Context, name, version string) (*Product, error)
	ListVersions(ctx context.Context, name string) (VersionIndex, error)
	LatestProduct(ctx context.Context, name string) (*Product, error)
	// ListProducts pages through products ordered by upload time
	ListProducts(ctx context.Context, filter ProductFilter) ([]*Product, error)
	// UpdateProduct loads the product, applies edit and stores its editable
	// fields as one atomic step. An error from edit aborts the update and is
	// returned unchanged.
	UpdateProduct(ctx context.Context, id uuid.UUID, edit func(*Product) error) error
	DeleteProduct(ctx context.Context, id uuid.UUID) error

	// Lineage operations
	// LinkLineage returns ErrLineageCycle when childID is already an
	// ancestor of parentID. The check and the insert are atomic.
	LinkLineage(ctx context.Context, parentID, childID uuid.UUID) (bool, error)
	UnlinkLineage(ctx context.Context, parentID, childID uuid.UUID) (bool, error)

	// Collection operations
	CreateCollection(ctx context.Context, collection *Collection) error
	GetCollection(ctx context.Context, id uuid.UUID) (*Collection, error)
	GetCollectionByName(ctx context.Context, name string) (*Collection, error)
	DeleteCollection(ctx context.Context, id uuid.UUID) error
	AddCollectionMember(ctx context.Context, collectionID, productID uuid.UUID) (bool, error)
	RemoveCollectionMember(ctx context.Context, collectionID, productID uuid.UUID) (bool, error)

	// Source operations
	CreateSource(ctx context.Context, source *Source) error
	GetSource(ctx context.Context, id uuid.UUID) (*Source, error)
	GetSourceByDigest(ctx context.Context, digest string) (*Source, error)
	// SourceReferences returns the ids of products whose source list
	// contains sourceID
	SourceReferences(ctx context.Context, sourceID uuid.UUID) ([]uuid.UUID, error)
	// ClaimSource marks a source as being deleted unless a product other
	// than holder references it (ErrSourceReferenced). A claimed source is
	// reported as ErrSourceDeleting by GetSourceByDigest and ClaimSource, and
	// CreateProduct refuses to link it.
	ClaimSource(ctx context.Context, id, holder uuid.UUID) error
	// UnclaimSource clears a claim after the blob could not be deleted
	UnclaimSource(ctx context.Context, id uuid.UUID) error
	// DeleteSource removes a claimed source record
	DeleteSource(ctx context.Context, id uuid.UUID) error
}

// OpenFunc opens a fresh reader over source bytes. It may be called more
// than once when a write is retried.
type OpenFunc func() (io.ReadCloser, error)

// SourceRegistry maps content digests to stored blobs, keeping at most one
// physical copy per digest.
type SourceRegistry interface {
	RegisterOrReuse(ctx context.Context, name string, digest hash.Digest, size int64, open OpenFunc) (*Registration, error)
	PresignedURL(ctx context.Context, source *Source) (string, time.Time, error)
	Confirm(ctx context.Context, source *Source) (bool, error)
	// Delete removes a source that no product other than holder references.
	// The source is claimed before its blob is touched, so an upload that
	// reused it either commits first and keeps it, or is refused.
	Delete(ctx context.Context, source *Source, holder uuid.UUID) error
}

// PrincipalDirectory resolves principal identifiers supplied by an external
// identity source.
type PrincipalDirectory interface {
	Lookup(ctx context.Context, id Principal) (*PrincipalInfo, error)
}

// EventSink defines the interface for catalog event handling
type EventSink interface {
	// ProductCreated is fired when a product or a new version is created
	ProductCreated(ctx context.Context, product *Product) error

	// ProductUpdated is fired when product fields or relationships change
	ProductUpdated(ctx context.Context, product *Product) error

	// ProductDeleted is fired after a product document is removed
	ProductDeleted(ctx context.Context, productID uuid.UUID) error

	// SourceRegistered is fired for every source resolved during an upload
	SourceRegistered(ctx context.Context, reg *Registration) error

	// IntegrityViolation is fired whenever corruption is detected
	IntegrityViolation(ctx context.Context, violation *IntegrityError) error
}
