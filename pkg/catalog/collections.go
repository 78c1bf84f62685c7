package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Collection operations

func (s *service) AddToCollection(ctx context.Context, actor Principal, productID uuid.UUID, spec CollectionSpec) (*Collection, error) {
	name := strings.TrimSpace(spec.Name)
	if name == "" {
		return nil, &ValidationError{Field: "collection", Reason: "name is required"}
	}
	product, err := s.repository.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(product, actor, AccessWrite); err != nil {
		return nil, err
	}

	collection, err := s.repository.GetCollectionByName(ctx, name)
	if errors.Is(err, ErrCollectionNotFound) {
		collection, err = s.createCollection(ctx, actor, name, spec.Description)
	}
	if err != nil {
		return nil, err
	}

	added, err := s.repository.AddCollectionMember(ctx, collection.ID, productID)
	if err != nil {
		return nil, &ProductError{ProductID: productID, Op: "add_to_collection", Err: err}
	}
	if added {
		s.edgeChanged(ctx, productID)
	}
	return s.repository.GetCollection(ctx, collection.ID)
}

// createCollection creates name if actor may. Losing a creation race to
// another caller reuses the winner's collection.
func (s *service) createCollection(ctx context.Context, actor Principal, name, description string) (*Collection, error) {
	if err := s.requirePrivilege(ctx, actor, PrivilegeCreateCollection); err != nil {
		return nil, err
	}
	collection := &Collection{
		ID:          uuid.New(),
		Name:        name,
		Description: description,
		CreatedAt:   s.now(),
	}
	err := s.repository.CreateCollection(ctx, collection)
	switch {
	case err == nil:
		s.logger.InfoContext(ctx, "collection created", "collection_id", collection.ID, "name", name)
		return collection, nil
	case errors.Is(err, ErrCollectionExists):
		return s.repository.GetCollectionByName(ctx, name)
	}
	return nil, fmt.Errorf("failed to create collection %q: %w", name, err)
}

func (s *service) RemoveFromCollection(ctx context.Context, actor Principal, productID, collectionID uuid.UUID) error {
	product, err := s.repository.GetProduct(ctx, productID)
	if err != nil {
		return err
	}
	if err := s.authorize(product, actor, AccessWrite); err != nil {
		return err
	}
	removed, err := s.repository.RemoveCollectionMember(ctx, collectionID, productID)
	if err != nil {
		return &ProductError{ProductID: productID, Op: "remove_from_collection", Err: err}
	}
	if removed {
		s.edgeChanged(ctx, productID)
	}
	return nil
}

func (s *service) GetCollection(ctx context.Context, name string) (*Collection, error) {
	return s.repository.GetCollectionByName(ctx, strings.TrimSpace(name))
}

// DeleteCollection removes a collection and its membership edges. Member
// products are untouched.
func (s *service) DeleteCollection(ctx context.Context, actor Principal, collectionID uuid.UUID) error {
	if err := s.requirePrivilege(ctx, actor, PrivilegeDeleteCollection); err != nil {
		return err
	}
	collection, err := s.repository.GetCollection(ctx, collectionID)
	if err != nil {
		return err
	}
	if err := s.repository.DeleteCollection(ctx, collectionID); err != nil {
		return fmt.Errorf("failed to delete collection %q: %w", collection.Name, err)
	}
	s.logger.InfoContext(ctx, "collection deleted", "collection_id", collectionID, "name", collection.Name)
	s.edgeChanged(ctx, collection.Products...)
	return nil
}
