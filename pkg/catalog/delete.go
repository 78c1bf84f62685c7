package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// DeleteProduct removes a product. Relationships are stripped first, then
// sources no other product references, and the document last, so an
// interrupted delete leaves a visible product rather than a dangling id.
func (s *service) DeleteProduct(ctx context.Context, req DeleteProductRequest) error {
	product, err := s.repository.GetProduct(ctx, req.ID)
	if err != nil {
		return err
	}
	if err := s.authorize(product, req.Actor, AccessWrite); err != nil {
		return err
	}
	if !req.Force && (len(product.ParentOf) > 0 || len(product.Collections) > 0) {
		return &ConflictError{
			ProductID: product.ID,
			Reason: fmt.Sprintf("product has %d children and %d collection memberships",
				len(product.ParentOf), len(product.Collections)),
		}
	}

	sources, err := s.ownedSources(ctx, product, req.Force)
	if err != nil {
		return err
	}

	var stripped []string
	fail := func(step string, err error) error {
		if len(stripped) == 0 {
			return &ProductError{ProductID: product.ID, Op: "delete", Err: err}
		}
		return &PartialFailureError{Op: "delete", Committed: stripped, Failed: step, Err: err}
	}

	for _, childID := range product.ParentOf {
		if _, err := s.repository.UnlinkLineage(ctx, product.ID, childID); err != nil {
			return fail(fmt.Sprintf("unlink child %s", childID), err)
		}
		stripped = append(stripped, fmt.Sprintf("lineage %s -> %s", product.ID, childID))
	}
	for _, collectionID := range product.Collections {
		if _, err := s.repository.RemoveCollectionMember(ctx, collectionID, product.ID); err != nil {
			return fail(fmt.Sprintf("leave collection %s", collectionID), err)
		}
		stripped = append(stripped, fmt.Sprintf("collection %s", collectionID))
	}
	for _, parentID := range product.ChildOf {
		if _, err := s.repository.UnlinkLineage(ctx, parentID, product.ID); err != nil {
			return fail(fmt.Sprintf("unlink parent %s", parentID), err)
		}
		stripped = append(stripped, fmt.Sprintf("lineage %s -> %s", parentID, product.ID))
	}

	for _, src := range sources {
		refs, err := s.repository.SourceReferences(ctx, src.ID)
		if err != nil {
			return fail(fmt.Sprintf("count references to source %s", src.ID), err)
		}
		if referencedElsewhere(refs, product.ID) {
			continue
		}
		err = s.registry.Delete(ctx, src, product.ID)
		switch {
		case err == nil:
			stripped = append(stripped, fmt.Sprintf("source %s", src.ID))
		case errors.Is(err, ErrSourceReferenced), errors.Is(err, ErrSourceDeleting):
			// picked up by a concurrent upload, or another delete owns it
		default:
			return fail(fmt.Sprintf("delete source %s", src.ID), err)
		}
	}

	if err := s.repository.DeleteProduct(ctx, product.ID); err != nil {
		if errors.Is(err, ErrConflict) {
			err = &ConflictError{ProductID: product.ID, Reason: "relationships were added during delete"}
		}
		return fail("delete document", err)
	}

	s.logger.InfoContext(ctx, "product deleted",
		"product_id", product.ID, "name", product.Name, "version", product.Version, "forced", req.Force)
	s.fire(ctx, "product_deleted", func() error { return s.eventSink.ProductDeleted(ctx, product.ID) })
	for _, id := range append(append([]uuid.UUID{}, product.ParentOf...), product.ChildOf...) {
		s.edgeChanged(ctx, id)
	}
	return nil
}

// ownedSources resolves the product's source records. A reference to a
// missing record is an integrity violation; with force it is reported and
// skipped so the product can still be removed.
func (s *service) ownedSources(ctx context.Context, product *Product, force bool) ([]*Source, error) {
	var out []*Source
	seen := map[uuid.UUID]bool{}
	for _, ps := range product.Sources {
		if seen[ps.SourceID] {
			continue
		}
		seen[ps.SourceID] = true
		src, err := s.repository.GetSource(ctx, ps.SourceID)
		if errors.Is(err, ErrSourceNotFound) {
			ie := &IntegrityError{
				SourceID: ps.SourceID,
				Reason:   fmt.Sprintf("product %s references a missing source record", product.ID),
			}
			s.reportIntegrity(ctx, ie)
			if !force {
				return nil, ie
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, src)
	}
	return out, nil
}

func referencedElsewhere(refs []uuid.UUID, self uuid.UUID) bool {
	for _, id := range refs {
		if id != self {
			return true
		}
	}
	return false
}
