package catalog

import (
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/product-catalog/pkg/catalog/metadata"
)

// Principal is a stable identifier for a user or service account supplied
// by an external identity source.
type Principal string

// AccessMode selects the kind of access being checked.
type AccessMode string

const (
	AccessRead  AccessMode = "read"
	AccessWrite AccessMode = "write"
)

// Visibility controls read access for principals not listed on a product.
type Visibility string

const (
	// VisibilityDefault defers to Config.DefaultVisibility.
	VisibilityDefault    Visibility = ""
	VisibilityPublic     Visibility = "public"
	VisibilityRestricted Visibility = "restricted"
)

// Valid reports whether v is a recognised visibility.
func (v Visibility) Valid() bool {
	switch v {
	case VisibilityDefault, VisibilityPublic, VisibilityRestricted:
		return true
	}
	return false
}

// ProductStatus is the lifecycle state of a product.
type ProductStatus string

const (
	ProductStatusDraft  ProductStatus = "draft"
	ProductStatusActive ProductStatus = "active"
)

// Product is a named, versioned data artifact.
type Product struct {
	ID          uuid.UUID         `json:"id"`
	Name        string            `json:"name"`
	Version     string            `json:"version"`
	Description string            `json:"description"`
	Owner       Principal         `json:"owner"`
	Status      ProductStatus     `json:"status"`
	Uploaded    time.Time         `json:"uploaded"`
	Updated     time.Time         `json:"updated"`
	Readers     []Principal       `json:"readers,omitempty"`
	Writers     []Principal       `json:"writers,omitempty"`
	Visibility  Visibility        `json:"visibility,omitempty"`
	ChildOf     []uuid.UUID       `json:"child_of"`
	ParentOf    []uuid.UUID       `json:"parent_of"`
	Collections []uuid.UUID       `json:"collections"`
	Sources     []ProductSource   `json:"sources"`
	Metadata    metadata.Metadata `json:"-"`
}

// ProductSource is the product-local reference to a shared Source.
type ProductSource struct {
	SourceID uuid.UUID `json:"source_id"`
	// Name is the file name this product uses for the source; it may differ
	// from the name the bytes were first registered under.
	Name string `json:"name"`
}

// Clone returns a deep copy of p. Metadata is shared; instances are
// treated as immutable once validated.
func (p *Product) Clone() *Product {
	if p == nil {
		return nil
	}
	c := *p
	c.Readers = slices.Clone(p.Readers)
	c.Writers = slices.Clone(p.Writers)
	c.ChildOf = slices.Clone(p.ChildOf)
	c.ParentOf = slices.Clone(p.ParentOf)
	c.Collections = slices.Clone(p.Collections)
	c.Sources = slices.Clone(p.Sources)
	return &c
}

// SourceIDs returns the ids of the sources p references, in order.
func (p *Product) SourceIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(p.Sources))
	for _, s := range p.Sources {
		ids = append(ids, s.SourceID)
	}
	return ids
}

// Source is one physical blob, shared by reference across products.
type Source struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	Digest     string    `json:"digest"`
	Size       int64     `json:"size"`
	StorageKey string    `json:"storage_key"`
	CreatedAt  time.Time `json:"created_at"`
}

// Registration is the outcome of registering source bytes.
type Registration struct {
	Source *Source
	// Reused is true when no new bytes were written because a source with
	// the same digest already existed.
	Reused bool
}

// Collection is a named many-to-many grouping of products.
type Collection struct {
	ID          uuid.UUID   `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	CreatedAt   time.Time   `json:"created_at"`
	Products    []uuid.UUID `json:"products,omitempty"`
}

// VersionIndex maps version tokens of one product name to product ids.
type VersionIndex map[string]uuid.UUID

// Versions returns the version tokens in lexical order. Ordering by
// semantics is left to the presentation layer.
func (vi VersionIndex) Versions() []string {
	out := make([]string, 0, len(vi))
	for v := range vi {
		out = append(out, v)
	}
	slices.Sort(out)
	return out
}

// SourceView is a read model pairing a product-local source name with the
// stored source and a short-lived download URL.
type SourceView struct {
	Name      string    `json:"name"`
	Source    *Source   `json:"source"`
	URL       string    `json:"url,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// ProductView is the read model returned by Service operations.
type ProductView struct {
	Product  *Product         `json:"product"`
	Sources  []SourceView     `json:"sources"`
	Metadata []metadata.Field `json:"metadata,omitempty"`
}

// VerifyReport lists which of a product's sources are present in the
// object store.
type VerifyReport struct {
	ProductID uuid.UUID `json:"product_id"`
	Present   []string  `json:"present"`
	Missing   []string  `json:"missing"`
}

// OK reports whether every source blob was found.
func (r *VerifyReport) OK() bool {
	return len(r.Missing) == 0
}

// Privilege is a catalog-wide right held by a principal.
type Privilege string

const (
	PrivilegeCreateCollection Privilege = "create_collection"
	PrivilegeDeleteCollection Privilege = "delete_collection"
)

// PrincipalInfo is what a PrincipalDirectory knows about a principal.
type PrincipalInfo struct {
	ID         Principal
	Privileges []Privilege
}

// Has reports whether the principal holds priv.
func (pi *PrincipalInfo) Has(priv Privilege) bool {
	return pi != nil && slices.Contains(pi.Privileges, priv)
}
