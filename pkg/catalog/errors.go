package catalog

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Error types
var (
	// ErrProductNotFound indicates a product was not found
	ErrProductNotFound = errors.New("product not found")

	// ErrSourceNotFound indicates a source record was not found
	ErrSourceNotFound = errors.New("source not found")

	// ErrCollectionNotFound indicates a collection was not found
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrPrincipalNotFound indicates a principal could not be resolved
	ErrPrincipalNotFound = errors.New("principal not found")

	// ErrValidation indicates malformed input; nothing was committed
	ErrValidation = errors.New("validation failed")

	// ErrDuplicateVersion indicates the (name, version) pair already exists
	ErrDuplicateVersion = errors.New("duplicate version")

	// ErrConflict indicates the operation conflicts with existing relationships
	ErrConflict = errors.New("conflict")

	// ErrPermission indicates the principal lacks the required access
	ErrPermission = errors.New("permission denied")

	// ErrIntegrity indicates stored data is inconsistent or corrupt
	ErrIntegrity = errors.New("integrity violation")

	// ErrPartialFailure indicates a multi-step operation committed only some steps
	ErrPartialFailure = errors.New("partial failure")

	// ErrSourceExists is returned by repositories when a source with the
	// same digest is already recorded
	ErrSourceExists = errors.New("source already exists")

	// ErrCollectionExists is returned by repositories when a collection name is taken
	ErrCollectionExists = errors.New("collection already exists")

	// ErrSourceReferenced is returned by repositories asked to delete a
	// source that a product still references
	ErrSourceReferenced = errors.New("source still referenced")

	// ErrSourceDeleting is returned by repositories for a source that has
	// been claimed for deletion
	ErrSourceDeleting = errors.New("source is being deleted")

	// ErrLineageCycle is returned by repositories asked to link a product
	// below one of its own descendants
	ErrLineageCycle = errors.New("lineage cycle")
)

// ValidationError describes malformed input.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	msg := "validation failed"
	if e.Field != "" {
		msg += " for " + e.Field
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func (e *ValidationError) Unwrap() error { return e.Err }

// DuplicateVersionError reports an existing (name, version) pair.
type DuplicateVersionError struct {
	Name    string
	Version string
}

func (e *DuplicateVersionError) Error() string {
	return fmt.Sprintf("product %q already has version %q", e.Name, e.Version)
}

func (e *DuplicateVersionError) Is(target error) bool { return target == ErrDuplicateVersion }

// ConflictError reports an operation refused because of existing relationships.
type ConflictError struct {
	ProductID uuid.UUID
	Reason    string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on product %s: %s", e.ProductID, e.Reason)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// PermissionError reports a denied access check.
type PermissionError struct {
	Principal Principal
	Target    string
	Mode      AccessMode
	Reason    string
}

func (e *PermissionError) Error() string {
	msg := fmt.Sprintf("principal %q denied %s access to %s", e.Principal, e.Mode, e.Target)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *PermissionError) Is(target error) bool { return target == ErrPermission }

// IntegrityError reports data corruption such as a digest collision with a
// mismatched size, or a dangling reference found during delete.
type IntegrityError struct {
	Digest   string
	SourceID uuid.UUID
	Reason   string
}

func (e *IntegrityError) Error() string {
	switch {
	case e.Digest != "":
		return fmt.Sprintf("integrity violation for digest %s: %s", e.Digest, e.Reason)
	case e.SourceID != uuid.Nil:
		return fmt.Sprintf("integrity violation for source %s: %s", e.SourceID, e.Reason)
	}
	return "integrity violation: " + e.Reason
}

func (e *IntegrityError) Is(target error) bool { return target == ErrIntegrity }

// PartialFailureError reports a multi-step mutation that left some steps
// committed. Committed names the steps that are durable so an operator can
// reconcile them.
type PartialFailureError struct {
	Op        string
	Committed []string
	Failed    string
	Err       error
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("%s partially failed at %s (committed: %s): %v",
		e.Op, e.Failed, strings.Join(e.Committed, ", "), e.Err)
}

func (e *PartialFailureError) Is(target error) bool { return target == ErrPartialFailure }

func (e *PartialFailureError) Unwrap() error { return e.Err }

// ProductError represents an error related to product operations
type ProductError struct {
	ProductID uuid.UUID
	Op        string
	Err       error
}

func (e *ProductError) Error() string {
	return fmt.Sprintf("product operation %s failed for product %s: %v", e.Op, e.ProductID, e.Err)
}

func (e *ProductError) Unwrap() error {
	return e.Err
}

// StorageError represents an error related to object store operations
type StorageError struct {
	Key string
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage operation %s failed for key %s: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
