package catalog

import (
	"context"

	"github.com/google/uuid"
)

// Service defines the main interface of the product catalog
type Service interface {
	// Product operations
	CreateProduct(ctx context.Context, req CreateProductRequest) (*ProductView, error)
	AddVersion(ctx context.Context, req AddVersionRequest) (*ProductView, error)
	GetVersions(ctx context.Context, name string) (VersionIndex, error)
	GetProduct(ctx context.Context, principal Principal, id uuid.UUID) (*ProductView, error)
	GetProductByVersion(ctx context.Context, principal Principal, name, version string) (*ProductView, error)
	UpdateProduct(ctx context.Context, req UpdateProductRequest) (*ProductView, error)
	DeleteProduct(ctx context.Context, req DeleteProductRequest) error

	// Lineage operations
	AddChild(ctx context.Context, actor Principal, parentID, childID uuid.UUID) error
	AddParent(ctx context.Context, actor Principal, childID, parentID uuid.UUID) error
	RemoveChild(ctx context.Context, actor Principal, parentID, childID uuid.UUID) error

	// Collection operations
	AddToCollection(ctx context.Context, actor Principal, productID uuid.UUID, spec CollectionSpec) (*Collection, error)
	RemoveFromCollection(ctx context.Context, actor Principal, productID, collectionID uuid.UUID) error
	GetCollection(ctx context.Context, name string) (*Collection, error)
	DeleteCollection(ctx context.Context, actor Principal, collectionID uuid.UUID) error

	// Access and integrity
	CheckAccess(product *Product, principal Principal, mode AccessMode) bool
	Verify(ctx context.Context, principal Principal, id uuid.UUID) (*VerifyReport, error)
}
