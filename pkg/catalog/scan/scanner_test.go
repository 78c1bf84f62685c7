package scan_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/product-catalog/pkg/catalog"
	"github.com/tendant/product-catalog/pkg/catalog/repo/memory"
	"github.com/tendant/product-catalog/pkg/catalog/scan"
)

func seed(t *testing.T, n int) (*memory.Repository, []*catalog.Product) {
	t.Helper()
	ctx := context.Background()
	repo := memory.New()
	src := &catalog.Source{ID: uuid.New(), Name: "map.fits", Digest: "d1", Size: 1, StorageKey: "k"}
	require.NoError(t, repo.CreateSource(ctx, src))

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	products := make([]*catalog.Product, n)
	for i := range products {
		owner := catalog.Principal("alice")
		if i%2 == 1 {
			owner = "bob"
		}
		p := &catalog.Product{
			ID:       uuid.New(),
			Name:     fmt.Sprintf("p%02d", i),
			Version:  "1",
			Owner:    owner,
			Status:   catalog.ProductStatusActive,
			Uploaded: base.Add(time.Duration(i) * time.Minute),
			Updated:  base.Add(time.Duration(i) * time.Minute),
			Sources:  []catalog.ProductSource{{SourceID: src.ID, Name: "map.fits"}},
		}
		require.NoError(t, repo.CreateProduct(ctx, p))
		products[i] = p
	}
	return repo, products
}

func TestScan(t *testing.T) {
	repo, products := seed(t, 7)
	scanner := scan.New(repo, nil)

	var seen []string
	var progress [][2]int64
	result, err := scanner.Scan(context.Background(), scan.Options{
		BatchSize: 3,
		Processor: scan.ProcessorFunc(func(ctx context.Context, p *catalog.Product) error {
			seen = append(seen, p.Name)
			return nil
		}),
		OnProgress: func(processed, total int64) {
			progress = append(progress, [2]int64{processed, total})
		},
	})
	require.NoError(t, err)

	assert.Equal(t, int64(7), result.TotalFound)
	assert.Equal(t, int64(7), result.TotalProcessed)
	require.Len(t, seen, len(products))
	for i, p := range products {
		assert.Equal(t, p.Name, seen[i], "products are visited in upload order")
	}
	assert.Equal(t, [][2]int64{{3, 3}, {6, 6}, {7, 7}}, progress)
}

func TestScan_FailuresAndSkips(t *testing.T) {
	repo, products := seed(t, 5)
	scanner := scan.New(repo, nil)

	result, err := scanner.Scan(context.Background(), scan.Options{
		BatchSize: 2,
		Processor: scan.ProcessorFunc(func(ctx context.Context, p *catalog.Product) error {
			switch p.Name {
			case "p01":
				return errors.New("boom")
			case "p03":
				return scan.ErrSkip
			}
			return nil
		}),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5), result.TotalFound)
	assert.Equal(t, int64(3), result.TotalProcessed)
	assert.Equal(t, int64(1), result.TotalFailed)
	assert.Equal(t, int64(1), result.TotalSkipped)
	assert.Equal(t, []string{products[1].ID.String()}, result.FailedIDs)
}

func TestScan_Filter(t *testing.T) {
	repo, _ := seed(t, 6)
	scanner := scan.New(repo, nil)

	var owners []catalog.Principal
	result, err := scanner.ForEach(context.Background(), catalog.ProductFilter{Owner: "bob"},
		func(ctx context.Context, p *catalog.Product) error {
			owners = append(owners, p.Owner)
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, int64(3), result.TotalProcessed)
	assert.Equal(t, []catalog.Principal{"bob", "bob", "bob"}, owners)
}

func TestScan_DryRun(t *testing.T) {
	repo, _ := seed(t, 2)
	result, err := scan.New(repo, nil).Scan(context.Background(), scan.Options{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.TotalProcessed)
}

func TestScan_RequiresProcessor(t *testing.T) {
	_, err := scan.New(memory.New(), nil).Scan(context.Background(), scan.Options{})
	assert.Error(t, err)
}

func TestScan_Cancelled(t *testing.T) {
	repo, _ := seed(t, 2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := scan.New(repo, nil).Scan(ctx, scan.Options{DryRun: true})
	assert.ErrorIs(t, err, context.Canceled)
}
