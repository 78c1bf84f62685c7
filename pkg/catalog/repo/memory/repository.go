package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/tendant/product-catalog/pkg/catalog"
)

// Repository implements catalog.Repository using in-memory storage. One
// mutex guards every map, so edge updates touch both sides atomically.
type Repository struct {
	mu                sync.RWMutex
	products          map[uuid.UUID]*catalog.Product
	versions          map[string]map[string]uuid.UUID // name -> version -> product_id
	sources           map[uuid.UUID]*catalog.Source
	sourcesByDigest   map[string]uuid.UUID
	claimed           map[uuid.UUID]bool
	collections       map[uuid.UUID]*catalog.Collection
	collectionsByName map[string]uuid.UUID
}

var _ catalog.Repository = (*Repository)(nil)

// New creates a new in-memory repository
func New() *Repository {
	return &Repository{
		products:          make(map[uuid.UUID]*catalog.Product),
		versions:          make(map[string]map[string]uuid.UUID),
		sources:           make(map[uuid.UUID]*catalog.Source),
		sourcesByDigest:   make(map[string]uuid.UUID),
		claimed:           make(map[uuid.UUID]bool),
		collections:       make(map[uuid.UUID]*catalog.Collection),
		collectionsByName: make(map[string]uuid.UUID),
	}
}

// Product operations

func (r *Repository) CreateProduct(ctx context.Context, product *catalog.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.versions[product.Name][product.Version]; taken {
		return &catalog.DuplicateVersionError{Name: product.Name, Version: product.Version}
	}
	if _, exists := r.products[product.ID]; exists {
		return fmt.Errorf("product %s already exists", product.ID)
	}
	if len(product.Sources) == 0 {
		return &catalog.ValidationError{Field: "sources", Reason: "at least one source is required"}
	}
	for _, ps := range product.Sources {
		if _, ok := r.sources[ps.SourceID]; !ok {
			return fmt.Errorf("source %s: %w", ps.SourceID, catalog.ErrSourceNotFound)
		}
		if r.claimed[ps.SourceID] {
			return fmt.Errorf("source %s: %w", ps.SourceID, catalog.ErrSourceDeleting)
		}
	}

	// Relationships are only created through the edge operations
	stored := product.Clone()
	stored.ChildOf = []uuid.UUID{}
	stored.ParentOf = []uuid.UUID{}
	stored.Collections = []uuid.UUID{}
	r.products[stored.ID] = stored

	if r.versions[product.Name] == nil {
		r.versions[product.Name] = make(map[string]uuid.UUID)
	}
	r.versions[product.Name][product.Version] = product.ID
	return nil
}

func (r *Repository) GetProduct(ctx context.Context, id uuid.UUID) (*catalog.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.products[id]
	if !ok {
		return nil, catalog.ErrProductNotFound
	}
	return p.Clone(), nil
}

func (r *Repository) GetProductByVersion(ctx context.Context, name, version string) (*catalog.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.versions[name][version]
	if !ok {
		return nil, catalog.ErrProductNotFound
	}
	return r.products[id].Clone(), nil
}

func (r *Repository) ListVersions(ctx context.Context, name string) (catalog.VersionIndex, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	index := make(catalog.VersionIndex, len(r.versions[name]))
	for version, id := range r.versions[name] {
		index[version] = id
	}
	return index, nil
}

// ListProducts returns matching products ordered by upload time, then id
func (r *Repository) ListProducts(ctx context.Context, filter catalog.ProductFilter) ([]*catalog.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []*catalog.Product
	for _, p := range r.products {
		if filter.Name != "" && p.Name != filter.Name {
			continue
		}
		if filter.Owner != "" && p.Owner != filter.Owner {
			continue
		}
		matched = append(matched, p)
	}
	slices.SortFunc(matched, func(a, b *catalog.Product) int {
		if c := a.Uploaded.Compare(b.Uploaded); c != 0 {
			return c
		}
		return strings.Compare(a.ID.String(), b.ID.String())
	})

	if filter.Offset >= len(matched) {
		return []*catalog.Product{}, nil
	}
	matched = matched[max(filter.Offset, 0):]
	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}
	out := make([]*catalog.Product, 0, len(matched))
	for _, p := range matched {
		out = append(out, p.Clone())
	}
	return out, nil
}

// LatestProduct returns the most recently uploaded version of name. Ties
// are broken by version token so the answer is stable.
func (r *Repository) LatestProduct(ctx context.Context, name string) (*catalog.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var latest *catalog.Product
	for _, id := range r.versions[name] {
		p := r.products[id]
		if latest == nil || p.Uploaded.After(latest.Uploaded) ||
			(p.Uploaded.Equal(latest.Uploaded) && p.Version > latest.Version) {
			latest = p
		}
	}
	if latest == nil {
		return nil, catalog.ErrProductNotFound
	}
	return latest.Clone(), nil
}

// UpdateProduct applies edit to a copy of the product under the write lock
// and stores the editable fields. Identity, sources and relationships are
// left as they are.
func (r *Repository) UpdateProduct(ctx context.Context, id uuid.UUID, edit func(*catalog.Product) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.products[id]
	if !ok {
		return catalog.ErrProductNotFound
	}
	edited := p.Clone()
	if err := edit(edited); err != nil {
		return err
	}
	p.Description = edited.Description
	p.Metadata = edited.Metadata
	p.Readers = slices.Clone(edited.Readers)
	p.Writers = slices.Clone(edited.Writers)
	p.Visibility = edited.Visibility
	p.Status = edited.Status
	p.Updated = edited.Updated
	return nil
}

func (r *Repository) DeleteProduct(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.products[id]
	if !ok {
		return catalog.ErrProductNotFound
	}
	if len(p.ChildOf) > 0 || len(p.ParentOf) > 0 || len(p.Collections) > 0 {
		return fmt.Errorf("product %s still has relationships: %w", id, catalog.ErrConflict)
	}

	delete(r.products, id)
	delete(r.versions[p.Name], p.Version)
	if len(r.versions[p.Name]) == 0 {
		delete(r.versions, p.Name)
	}
	return nil
}

// Lineage operations

func (r *Repository) LinkLineage(ctx context.Context, parentID, childID uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	parent, child, err := r.edgeEnds(parentID, childID)
	if err != nil {
		return false, err
	}
	if slices.Contains(parent.ParentOf, childID) {
		return false, nil
	}
	if r.reachableLocked(parent, childID) {
		return false, fmt.Errorf("%s is an ancestor of %s: %w", childID, parentID, catalog.ErrLineageCycle)
	}
	parent.ParentOf = append(parent.ParentOf, childID)
	child.ChildOf = append(child.ChildOf, parentID)
	return true, nil
}

func (r *Repository) UnlinkLineage(ctx context.Context, parentID, childID uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	parent, child, err := r.edgeEnds(parentID, childID)
	if err != nil {
		return false, err
	}
	if !slices.Contains(parent.ParentOf, childID) {
		return false, nil
	}
	parent.ParentOf = remove(parent.ParentOf, childID)
	child.ChildOf = remove(child.ChildOf, parentID)
	return true, nil
}

// reachableLocked walks child_of edges upward from p and reports whether id
// is p itself or one of its ancestors.
func (r *Repository) reachableLocked(p *catalog.Product, id uuid.UUID) bool {
	visited := map[uuid.UUID]bool{}
	queue := []uuid.UUID{p.ID}
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if next == id {
			return true
		}
		if visited[next] {
			continue
		}
		visited[next] = true
		if ancestor, ok := r.products[next]; ok {
			queue = append(queue, ancestor.ChildOf...)
		}
	}
	return false
}

func (r *Repository) edgeEnds(parentID, childID uuid.UUID) (*catalog.Product, *catalog.Product, error) {
	parent, ok := r.products[parentID]
	if !ok {
		return nil, nil, fmt.Errorf("parent %s: %w", parentID, catalog.ErrProductNotFound)
	}
	child, ok := r.products[childID]
	if !ok {
		return nil, nil, fmt.Errorf("child %s: %w", childID, catalog.ErrProductNotFound)
	}
	return parent, child, nil
}

// Collection operations

func (r *Repository) CreateCollection(ctx context.Context, collection *catalog.Collection) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.collectionsByName[collection.Name]; taken {
		return catalog.ErrCollectionExists
	}
	stored := *collection
	stored.Products = []uuid.UUID{}
	r.collections[stored.ID] = &stored
	r.collectionsByName[stored.Name] = stored.ID
	return nil
}

func (r *Repository) GetCollection(ctx context.Context, id uuid.UUID) (*catalog.Collection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.collections[id]
	if !ok {
		return nil, catalog.ErrCollectionNotFound
	}
	return cloneCollection(c), nil
}

func (r *Repository) GetCollectionByName(ctx context.Context, name string) (*catalog.Collection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.collectionsByName[name]
	if !ok {
		return nil, catalog.ErrCollectionNotFound
	}
	return cloneCollection(r.collections[id]), nil
}

// DeleteCollection removes the collection and every membership edge. Member
// products remain.
func (r *Repository) DeleteCollection(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.collections[id]
	if !ok {
		return catalog.ErrCollectionNotFound
	}
	for _, productID := range c.Products {
		if p, ok := r.products[productID]; ok {
			p.Collections = remove(p.Collections, id)
		}
	}
	delete(r.collections, id)
	delete(r.collectionsByName, c.Name)
	return nil
}

func (r *Repository) AddCollectionMember(ctx context.Context, collectionID, productID uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, p, err := r.memberEnds(collectionID, productID)
	if err != nil {
		return false, err
	}
	if slices.Contains(c.Products, productID) {
		return false, nil
	}
	c.Products = append(c.Products, productID)
	p.Collections = append(p.Collections, collectionID)
	return true, nil
}

func (r *Repository) RemoveCollectionMember(ctx context.Context, collectionID, productID uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, p, err := r.memberEnds(collectionID, productID)
	if err != nil {
		return false, err
	}
	if !slices.Contains(c.Products, productID) {
		return false, nil
	}
	c.Products = remove(c.Products, productID)
	p.Collections = remove(p.Collections, collectionID)
	return true, nil
}

func (r *Repository) memberEnds(collectionID, productID uuid.UUID) (*catalog.Collection, *catalog.Product, error) {
	c, ok := r.collections[collectionID]
	if !ok {
		return nil, nil, catalog.ErrCollectionNotFound
	}
	p, ok := r.products[productID]
	if !ok {
		return nil, nil, catalog.ErrProductNotFound
	}
	return c, p, nil
}

// Source operations

func (r *Repository) CreateSource(ctx context.Context, source *catalog.Source) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.sourcesByDigest[source.Digest]; taken {
		return catalog.ErrSourceExists
	}
	stored := *source
	r.sources[stored.ID] = &stored
	r.sourcesByDigest[stored.Digest] = stored.ID
	return nil
}

func (r *Repository) GetSource(ctx context.Context, id uuid.UUID) (*catalog.Source, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sources[id]
	if !ok {
		return nil, catalog.ErrSourceNotFound
	}
	sourceCopy := *s
	return &sourceCopy, nil
}

func (r *Repository) GetSourceByDigest(ctx context.Context, digest string) (*catalog.Source, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.sourcesByDigest[digest]
	if !ok {
		return nil, catalog.ErrSourceNotFound
	}
	if r.claimed[id] {
		return nil, fmt.Errorf("digest %s: %w", digest, catalog.ErrSourceDeleting)
	}
	sourceCopy := *r.sources[id]
	return &sourceCopy, nil
}

func (r *Repository) SourceReferences(ctx context.Context, sourceID uuid.UUID) ([]uuid.UUID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.referencesLocked(sourceID), nil
}

func (r *Repository) ClaimSource(ctx context.Context, id, holder uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sources[id]; !ok {
		return catalog.ErrSourceNotFound
	}
	if r.claimed[id] {
		return fmt.Errorf("source %s: %w", id, catalog.ErrSourceDeleting)
	}
	for _, ref := range r.referencesLocked(id) {
		if ref != holder {
			return fmt.Errorf("source %s is used by product %s: %w", id, ref, catalog.ErrSourceReferenced)
		}
	}
	r.claimed[id] = true
	return nil
}

func (r *Repository) UnclaimSource(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sources[id]; !ok {
		return catalog.ErrSourceNotFound
	}
	delete(r.claimed, id)
	return nil
}

func (r *Repository) DeleteSource(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sources[id]
	if !ok {
		return catalog.ErrSourceNotFound
	}
	if !r.claimed[id] {
		return fmt.Errorf("source %s has not been claimed: %w", id, catalog.ErrConflict)
	}
	delete(r.sources, id)
	delete(r.sourcesByDigest, s.Digest)
	delete(r.claimed, id)
	return nil
}

func (r *Repository) referencesLocked(sourceID uuid.UUID) []uuid.UUID {
	var refs []uuid.UUID
	for id, p := range r.products {
		if slices.ContainsFunc(p.Sources, func(ps catalog.ProductSource) bool { return ps.SourceID == sourceID }) {
			refs = append(refs, id)
		}
	}
	return refs
}

func cloneCollection(c *catalog.Collection) *catalog.Collection {
	out := *c
	out.Products = slices.Clone(c.Products)
	return &out
}

func remove(ids []uuid.UUID, id uuid.UUID) []uuid.UUID {
	return slices.DeleteFunc(ids, func(v uuid.UUID) bool { return v == id })
}
