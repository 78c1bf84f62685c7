package catalog

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"
)

// Lineage operations

func (s *service) AddChild(ctx context.Context, actor Principal, parentID, childID uuid.UUID) error {
	if parentID == childID {
		return &ValidationError{Field: "child", Reason: "a product cannot be its own child"}
	}
	parent, err := s.edgeEnds(ctx, actor, parentID, childID)
	if err != nil {
		return err
	}
	if slices.Contains(parent.ParentOf, childID) {
		return nil
	}

	// the repository rejects cycles atomically with the insert
	linked, err := s.repository.LinkLineage(ctx, parentID, childID)
	if errors.Is(err, ErrLineageCycle) {
		return &ValidationError{Field: "child", Reason: fmt.Sprintf("product %s is an ancestor of %s", childID, parentID), Err: err}
	}
	if err != nil {
		return &ProductError{ProductID: parentID, Op: "add_child", Err: err}
	}
	if linked {
		s.edgeChanged(ctx, parentID, childID)
	}
	return nil
}

func (s *service) AddParent(ctx context.Context, actor Principal, childID, parentID uuid.UUID) error {
	return s.AddChild(ctx, actor, parentID, childID)
}

func (s *service) RemoveChild(ctx context.Context, actor Principal, parentID, childID uuid.UUID) error {
	if _, err := s.edgeEnds(ctx, actor, parentID, childID); err != nil {
		return err
	}
	removed, err := s.repository.UnlinkLineage(ctx, parentID, childID)
	if err != nil {
		return &ProductError{ProductID: parentID, Op: "remove_child", Err: err}
	}
	if removed {
		s.edgeChanged(ctx, parentID, childID)
	}
	return nil
}

// edgeEnds loads both ends of an edge and returns the parent. The actor
// needs write access on each end because both documents change.
func (s *service) edgeEnds(ctx context.Context, actor Principal, parentID, childID uuid.UUID) (*Product, error) {
	parent, err := s.repository.GetProduct(ctx, parentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load parent %s: %w", parentID, err)
	}
	child, err := s.repository.GetProduct(ctx, childID)
	if err != nil {
		return nil, fmt.Errorf("failed to load child %s: %w", childID, err)
	}
	if err := s.authorize(parent, actor, AccessWrite); err != nil {
		return nil, err
	}
	if err := s.authorize(child, actor, AccessWrite); err != nil {
		return nil, err
	}
	return parent, nil
}

func (s *service) edgeChanged(ctx context.Context, ids ...uuid.UUID) {
	for _, id := range ids {
		p, err := s.repository.GetProduct(ctx, id)
		if err != nil {
			s.logger.WarnContext(ctx, "failed to reload product for event", "product_id", id, "err", err)
			continue
		}
		s.fire(ctx, "product_updated", func() error { return s.eventSink.ProductUpdated(ctx, p) })
	}
}
