package scan

import (
	"context"
	"errors"

	"github.com/tendant/product-catalog/pkg/catalog"
)

// ErrSkip tells the scanner a product was deliberately not processed.
var ErrSkip = errors.New("skip product")

// ProductProcessor processes individual products.
// Callers implement this to define custom processing logic.
//
// Example implementations:
//   - Verifier (confirms every source blob is present)
//   - Reporter (exports product documents)
//   - Backfill (re-validates stored metadata)
type ProductProcessor interface {
	// Process is called for each product found during a scan. Return an
	// error to mark the product as failed (the scan continues), or ErrSkip
	// to count it as skipped.
	Process(ctx context.Context, product *catalog.Product) error
}

// ProcessorFunc adapts a function to the ProductProcessor interface.
type ProcessorFunc func(ctx context.Context, product *catalog.Product) error

func (f ProcessorFunc) Process(ctx context.Context, product *catalog.Product) error {
	return f(ctx, product)
}
