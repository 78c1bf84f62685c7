// Package scan walks every product in a repository in pages and hands each
// one to a processor.
package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tendant/product-catalog/pkg/catalog"
)

// Lister is the part of catalog.Repository a Scanner needs.
type Lister interface {
	ListProducts(ctx context.Context, filter catalog.ProductFilter) ([]*catalog.Product, error)
}

// Scanner queries products and processes them with the provided processor.
type Scanner struct {
	products Lister
	logger   *slog.Logger
}

// New creates a new Scanner instance.
func New(products Lister, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{products: products, logger: logger}
}

// Options configures the scan operation.
type Options struct {
	// Filter narrows the scan; its Offset and Limit are managed by the scanner
	Filter catalog.ProductFilter

	// Processor defines the processing logic (required unless DryRun is true)
	Processor ProductProcessor

	// BatchSize controls how many products to query at once (default: 100)
	BatchSize int

	// DryRun logs the products that would be processed without processing them
	DryRun bool

	// OnProgress is called after each batch is processed (optional)
	OnProgress func(processed, total int64)
}

// Result contains statistics about the scan operation.
type Result struct {
	TotalFound     int64
	TotalProcessed int64
	TotalFailed    int64
	TotalSkipped   int64

	// FailedIDs contains the ids of products that failed processing
	FailedIDs []string
}

// Scan queries products matching the filter and processes each one. A
// product that fails is recorded and the scan moves on; only listing errors
// and context cancellation stop it early.
func (s *Scanner) Scan(ctx context.Context, opts Options) (*Result, error) {
	result := &Result{}

	if !opts.DryRun && opts.Processor == nil {
		return result, fmt.Errorf("processor is required when DryRun is false")
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}

	filter := opts.Filter
	filter.Limit = opts.BatchSize
	filter.Offset = 0
	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		batch, err := s.products.ListProducts(ctx, filter)
		if err != nil {
			return result, fmt.Errorf("failed to list products: %w", err)
		}
		if len(batch) == 0 {
			break
		}
		result.TotalFound += int64(len(batch))

		for _, product := range batch {
			if opts.DryRun {
				s.logger.InfoContext(ctx, "dry run: would process product",
					"product_id", product.ID, "name", product.Name, "version", product.Version)
				result.TotalProcessed++
				continue
			}

			err := opts.Processor.Process(ctx, product)
			switch {
			case err == nil:
				result.TotalProcessed++
			case errors.Is(err, ErrSkip):
				result.TotalSkipped++
			default:
				result.TotalFailed++
				result.FailedIDs = append(result.FailedIDs, product.ID.String())
				s.logger.WarnContext(ctx, "failed to process product",
					"product_id", product.ID, "name", product.Name, "version", product.Version, "err", err)
			}
		}

		if opts.OnProgress != nil {
			opts.OnProgress(result.TotalProcessed+result.TotalFailed+result.TotalSkipped, result.TotalFound)
		}
		if len(batch) < opts.BatchSize {
			break
		}
		filter.Offset += opts.BatchSize
	}

	return result, nil
}

// ForEach processes each product matching filter with fn.
//
// Example:
//
//	scanner.ForEach(ctx, catalog.ProductFilter{Owner: "alice"}, func(ctx context.Context, p *catalog.Product) error {
//	    fmt.Println(p.Name, p.Version)
//	    return nil
//	})
func (s *Scanner) ForEach(ctx context.Context, filter catalog.ProductFilter, fn func(context.Context, *catalog.Product) error) (*Result, error) {
	return s.Scan(ctx, Options{
		Filter:    filter,
		Processor: ProcessorFunc(fn),
	})
}
