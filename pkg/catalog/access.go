package catalog

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"
)

// CheckAccess reports whether principal may access product in mode. The
// owner is always a writer and every writer is a reader. Read access is also
// granted when the product is effectively public.
func (s *service) CheckAccess(product *Product, principal Principal, mode AccessMode) bool {
	if product == nil {
		return false
	}
	writer := principal != "" && (product.Owner == principal || slices.Contains(product.Writers, principal))
	switch mode {
	case AccessWrite:
		return writer
	case AccessRead:
		if writer || (principal != "" && slices.Contains(product.Readers, principal)) {
			return true
		}
		return s.visibility(product) == VisibilityPublic
	}
	return false
}

func (s *service) visibility(product *Product) Visibility {
	if product.Visibility == VisibilityDefault {
		return s.config.DefaultVisibility
	}
	return product.Visibility
}

func (s *service) authorize(product *Product, principal Principal, mode AccessMode) error {
	if s.CheckAccess(product, principal, mode) {
		return nil
	}
	return &PermissionError{
		Principal: principal,
		Target:    fmt.Sprintf("product %s", product.ID),
		Mode:      mode,
	}
}

func (s *service) requirePrivilege(ctx context.Context, actor Principal, priv Privilege) error {
	info, err := s.directory.Lookup(ctx, actor)
	if err != nil {
		return &PermissionError{Principal: actor, Target: "catalog", Mode: AccessWrite, Reason: "principal cannot be resolved"}
	}
	if !info.Has(priv) {
		return &PermissionError{Principal: actor, Target: "catalog", Mode: AccessWrite, Reason: fmt.Sprintf("missing %s privilege", priv)}
	}
	return nil
}

// Verify confirms that every source blob of a product is present in the
// object store. Missing source records count as missing and are reported as
// integrity violations.
func (s *service) Verify(ctx context.Context, principal Principal, id uuid.UUID) (*VerifyReport, error) {
	product, err := s.repository.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(product, principal, AccessRead); err != nil {
		return nil, err
	}

	report := &VerifyReport{ProductID: product.ID, Present: []string{}, Missing: []string{}}
	for _, ps := range product.Sources {
		src, err := s.repository.GetSource(ctx, ps.SourceID)
		if errors.Is(err, ErrSourceNotFound) {
			s.reportIntegrity(ctx, &IntegrityError{
				SourceID: ps.SourceID,
				Reason:   fmt.Sprintf("product %s references a missing source record", product.ID),
			})
			report.Missing = append(report.Missing, ps.Name)
			continue
		}
		if err != nil {
			return nil, err
		}
		ok, err := s.registry.Confirm(ctx, src)
		if err != nil {
			return nil, &StorageError{Key: src.StorageKey, Op: "exists", Err: err}
		}
		if ok {
			report.Present = append(report.Present, ps.Name)
		} else {
			s.reportIntegrity(ctx, &IntegrityError{Digest: src.Digest, SourceID: src.ID, Reason: "blob missing from object store"})
			report.Missing = append(report.Missing, ps.Name)
		}
	}
	return report, nil
}
