package catalog

import "github.com/google/uuid"

// Request DTOs

// SourceInput is one file contributed to an upload. Open may be called
// more than once: once to hash and again for each storage attempt.
type SourceInput struct {
	Name string
	// Size is the declared length in bytes; zero means undeclared. A
	// declared size that disagrees with the stream is a validation error.
	Size int64
	Open OpenFunc
}

// MetadataInput carries a raw metadata payload. When Type is empty the
// discriminator is read from the payload's metadata_type field.
type MetadataInput struct {
	Type    string
	Payload []byte
}

// CreateProductRequest contains parameters for creating a product
type CreateProductRequest struct {
	Name        string
	Version     string
	Description string
	Owner       Principal
	Readers     []Principal
	Writers     []Principal
	Visibility  Visibility
	Sources     []SourceInput
	Metadata    *MetadataInput
	// Parents become the new product's child_of set; Owner needs write
	// access on each of them.
	Parents []uuid.UUID
}

// RevisionLevel selects which component ReviseVersion increments.
type RevisionLevel string

const (
	RevisionMajor RevisionLevel = "major"
	RevisionMinor RevisionLevel = "minor"
	RevisionPatch RevisionLevel = "patch"
)

// AddVersionRequest contains parameters for adding a version to an existing
// product name. Exactly one of Version and Level is set. Fields left empty
// are inherited from the latest version.
type AddVersionRequest struct {
	Actor       Principal
	Name        string
	Version     string
	Level       RevisionLevel
	Description string
	Sources     []SourceInput
	Metadata    *MetadataInput
	// CarrySources keeps the latest version's sources ahead of the new ones.
	CarrySources bool
	Parents      []uuid.UUID
}

// UpdateProductRequest contains parameters for editing a product in place.
// Nil fields are left unchanged.
type UpdateProductRequest struct {
	Actor         Principal
	ID            uuid.UUID
	Description   *string
	Metadata      *MetadataInput
	Visibility    *Visibility
	AddReaders    []Principal
	RemoveReaders []Principal
	AddWriters    []Principal
	RemoveWriters []Principal
}

// DeleteProductRequest contains parameters for deleting a product
type DeleteProductRequest struct {
	Actor Principal
	ID    uuid.UUID
	// Force strips child edges and collection memberships instead of
	// refusing the delete.
	Force bool
}

// ProductFilter selects products for listing. Empty fields match
// everything and a zero Limit returns every remaining product.
type ProductFilter struct {
	Name   string
	Owner  Principal
	Offset int
	Limit  int
}

// CollectionSpec names a collection by its natural key. Description is only
// used when the collection is created.
type CollectionSpec struct {
	Name        string
	Description string
}
