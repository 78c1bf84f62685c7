package catalog_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/product-catalog/pkg/catalog"
	"github.com/tendant/product-catalog/pkg/catalog/repo/memory"
	"github.com/tendant/product-catalog/pkg/catalog/registry"
	"github.com/tendant/product-catalog/pkg/catalog/retry"
	memorystorage "github.com/tendant/product-catalog/pkg/catalog/storage/memory"
)

// recordingSink counts delivered events
type recordingSink struct {
	mu         sync.Mutex
	created    []uuid.UUID
	updated    []uuid.UUID
	deleted    []uuid.UUID
	registered int
	integrity  []*catalog.IntegrityError
	fail       bool
}

func (r *recordingSink) record(fn func()) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn()
	if r.fail {
		return errors.New("sink down")
	}
	return nil
}

func (r *recordingSink) ProductCreated(ctx context.Context, p *catalog.Product) error {
	return r.record(func() { r.created = append(r.created, p.ID) })
}

func (r *recordingSink) ProductUpdated(ctx context.Context, p *catalog.Product) error {
	return r.record(func() { r.updated = append(r.updated, p.ID) })
}

func (r *recordingSink) ProductDeleted(ctx context.Context, id uuid.UUID) error {
	return r.record(func() { r.deleted = append(r.deleted, id) })
}

func (r *recordingSink) SourceRegistered(ctx context.Context, reg *catalog.Registration) error {
	return r.record(func() { r.registered++ })
}

func (r *recordingSink) IntegrityViolation(ctx context.Context, ie *catalog.IntegrityError) error {
	return r.record(func() { r.integrity = append(r.integrity, ie) })
}

type harness struct {
	svc     catalog.Service
	repo    catalog.Repository
	store   *memory.Repository
	objects *memorystorage.Backend
	sink    *recordingSink
}

type harnessOption func(*harnessConfig)

type harnessConfig struct {
	wrap        func(catalog.Repository) catalog.Repository
	wrapObjects func(*memorystorage.Backend) catalog.ObjectStore
	options     []catalog.Option
}

func withRepositoryWrapper(wrap func(catalog.Repository) catalog.Repository) harnessOption {
	return func(c *harnessConfig) { c.wrap = wrap }
}

func withObjectStoreWrapper(wrap func(*memorystorage.Backend) catalog.ObjectStore) harnessOption {
	return func(c *harnessConfig) { c.wrapObjects = wrap }
}

func withOptions(opts ...catalog.Option) harnessOption {
	return func(c *harnessConfig) { c.options = append(c.options, opts...) }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	var cfg harnessConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	h := &harness{
		store:   memory.New(),
		objects: memorystorage.New(),
		sink:    &recordingSink{},
	}
	h.repo = h.store
	if cfg.wrap != nil {
		h.repo = cfg.wrap(h.store)
	}
	var objects catalog.ObjectStore = h.objects
	if cfg.wrapObjects != nil {
		objects = cfg.wrapObjects(h.objects)
	}
	reg := registry.New(h.repo, objects, registry.WithRetry(retry.Config{
		MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1,
	}))

	options := append([]catalog.Option{
		catalog.WithRepository(h.repo),
		catalog.WithRegistry(reg),
		catalog.WithEventSink(h.sink),
	}, cfg.options...)
	svc, err := catalog.New(options...)
	require.NoError(t, err)
	h.svc = svc
	return h
}

func file(name, body string) catalog.SourceInput {
	return catalog.SourceInput{
		Name: name,
		Size: int64(len(body)),
		Open: func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader([]byte(body))), nil },
	}
}

func (h *harness) create(t *testing.T, name, version string, owner catalog.Principal, sources ...catalog.SourceInput) *catalog.Product {
	t.Helper()
	if len(sources) == 0 {
		sources = []catalog.SourceInput{file(name+".fits", "bytes of "+name+" "+version)}
	}
	view, err := h.svc.CreateProduct(context.Background(), catalog.CreateProductRequest{
		Name:    name,
		Version: version,
		Owner:   owner,
		Sources: sources,
	})
	require.NoError(t, err)
	return view.Product
}

func (h *harness) get(t *testing.T, id uuid.UUID) *catalog.Product {
	t.Helper()
	p, err := h.repo.GetProduct(context.Background(), id)
	require.NoError(t, err)
	return p
}

func TestCreateProduct(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	view, err := h.svc.CreateProduct(ctx, catalog.CreateProductRequest{
		Name:        "ymap",
		Version:     "1.0",
		Description: "Y map",
		Owner:       "alice",
		Readers:     []catalog.Principal{"bob", "bob"},
		Sources:     []catalog.SourceInput{file("maps/map.fits", "0123456789"), file("beam.txt", "beam")},
		Metadata:    &catalog.MetadataInput{Payload: []byte(`{"metadata_type":"simple"}`)},
	})
	require.NoError(t, err)

	p := view.Product
	assert.Equal(t, catalog.ProductStatusActive, p.Status)
	assert.Equal(t, []catalog.Principal{"bob"}, p.Readers)
	require.Len(t, view.Sources, 2)
	assert.Equal(t, "map.fits", view.Sources[0].Name, "directories are stripped")
	assert.Equal(t, int64(10), view.Sources[0].Source.Size)
	assert.NotEmpty(t, view.Sources[0].URL)
	assert.False(t, view.Sources[0].ExpiresAt.IsZero())
	assert.Empty(t, view.Metadata)

	assert.Equal(t, []uuid.UUID{p.ID}, h.sink.created)
	assert.Equal(t, 2, h.sink.registered)
}

func TestCreateProduct_Validation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  catalog.CreateProductRequest
	}{
		{"missing name", catalog.CreateProductRequest{Version: "1", Owner: "alice", Sources: []catalog.SourceInput{file("a", "a")}}},
		{"missing version", catalog.CreateProductRequest{Name: "p", Owner: "alice", Sources: []catalog.SourceInput{file("a", "a")}}},
		{"no sources", catalog.CreateProductRequest{Name: "p", Version: "1", Owner: "alice"}},
		{"duplicate source names", catalog.CreateProductRequest{Name: "p", Version: "1", Owner: "alice",
			Sources: []catalog.SourceInput{file("a/x.fits", "1"), file("b/x.fits", "2")}}},
		{"declared size mismatch", catalog.CreateProductRequest{Name: "p", Version: "1", Owner: "alice",
			Sources: []catalog.SourceInput{{Name: "x", Size: 99, Open: file("x", "short").Open}}}},
		{"unknown visibility", catalog.CreateProductRequest{Name: "p", Version: "1", Owner: "alice",
			Visibility: "secret", Sources: []catalog.SourceInput{file("a", "a")}}},
		{"unknown metadata kind", catalog.CreateProductRequest{Name: "p", Version: "1", Owner: "alice",
			Sources:  []catalog.SourceInput{file("a", "a")},
			Metadata: &catalog.MetadataInput{Payload: []byte(`{"metadata_type":"unknown_kind","x":1}`)}}},
		{"metadata missing required field", catalog.CreateProductRequest{Name: "p", Version: "1", Owner: "alice",
			Sources:  []catalog.SourceInput{file("a", "a")},
			Metadata: &catalog.MetadataInput{Type: "catalog", Payload: []byte(`{"file_type":"fits"}`)}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.svc.CreateProduct(ctx, tt.req)
			assert.ErrorIs(t, err, catalog.ErrValidation)
		})
	}

	assert.Empty(t, h.objects.Keys(), "rejected uploads store nothing")
	_, err := h.svc.GetVersions(ctx, "p")
	assert.ErrorIs(t, err, catalog.ErrProductNotFound)
}

func TestCreateProduct_MetadataRendered(t *testing.T) {
	h := newHarness(t)
	view, err := h.svc.CreateProduct(context.Background(), catalog.CreateProductRequest{
		Name: "act_catalog", Version: "1", Owner: "alice",
		Sources: []catalog.SourceInput{file("cat.fits", "catalog rows")},
		Metadata: &catalog.MetadataInput{
			Type:    "catalog",
			Payload: []byte(`{"file_type":"fits","column_description":{"ra":"right ascension"},"telescope":"act"}`),
		},
	})
	require.NoError(t, err)

	var names []string
	for _, f := range view.Metadata {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"file_type", "column_description", "telescope"}, names)
	assert.Equal(t, "fits", view.Metadata[0].Value)
}

func TestSharedBytesStoredOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	ymap := h.create(t, "ymap", "1.0", "alice", file("map.fits", "0123456789"))
	ymapCopy := h.create(t, "ymap_copy", "1.0", "bob", file("map.fits", "0123456789"))

	require.Len(t, ymap.Sources, 1)
	require.Len(t, ymapCopy.Sources, 1)
	assert.Equal(t, ymap.Sources[0].SourceID, ymapCopy.Sources[0].SourceID)
	assert.Len(t, h.objects.Keys(), 1)
	assert.Equal(t, 1, h.objects.Puts())

	refs, err := h.repo.SourceReferences(ctx, ymap.Sources[0].SourceID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{ymap.ID, ymapCopy.ID}, refs)
}

func TestConcurrentUploadsOfSameBytes(t *testing.T) {
	h := newHarness(t)

	const uploads = 12
	var wg sync.WaitGroup
	ids := make([]uuid.UUID, uploads)
	for i := 0; i < uploads; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			view, err := h.svc.CreateProduct(context.Background(), catalog.CreateProductRequest{
				Name: fmt.Sprintf("copy-%d", i), Version: "1", Owner: "alice",
				Sources: []catalog.SourceInput{file("map.fits", "identical payload")},
			})
			if assert.NoError(t, err) {
				ids[i] = view.Product.Sources[0].SourceID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.Equal(t, 1, h.objects.Puts())
}

func TestAddVersion(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, err := h.svc.CreateProduct(ctx, catalog.CreateProductRequest{
		Name: "ymap", Version: "1.0", Owner: "alice", Description: "Y map",
		Writers:    []catalog.Principal{"carol"},
		Visibility: catalog.VisibilityPublic,
		Sources:    []catalog.SourceInput{file("map.fits", "v1 bytes")},
		Metadata:   &catalog.MetadataInput{Type: "simple"},
	})
	require.NoError(t, err)

	second, err := h.svc.AddVersion(ctx, catalog.AddVersionRequest{
		Actor: "carol", Name: "ymap", Version: "1.1",
		Sources: []catalog.SourceInput{file("map.fits", "v2 bytes")},
	})
	require.NoError(t, err)
	assert.Equal(t, catalog.Principal("alice"), second.Product.Owner)
	assert.Equal(t, "Y map", second.Product.Description)
	assert.Equal(t, catalog.VisibilityPublic, second.Product.Visibility)
	assert.NotNil(t, second.Product.Metadata)

	third, err := h.svc.AddVersion(ctx, catalog.AddVersionRequest{
		Actor: "alice", Name: "ymap", Level: catalog.RevisionMajor, CarrySources: true,
		Sources: []catalog.SourceInput{file("beam.txt", "beam")},
	})
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", third.Product.Version)
	require.Len(t, third.Product.Sources, 2)
	assert.Equal(t, second.Product.Sources[0].SourceID, third.Product.Sources[0].SourceID)

	index, err := h.svc.GetVersions(ctx, "ymap")
	require.NoError(t, err)
	assert.Equal(t, []string{"1.0", "1.1", "2.0.0"}, index.Versions())
	assert.Equal(t, first.Product.ID, index["1.0"])

	t.Run("duplicate version leaves no document", func(t *testing.T) {
		puts := h.objects.Puts()
		_, err := h.svc.AddVersion(ctx, catalog.AddVersionRequest{
			Actor: "alice", Name: "ymap", Version: "1.1",
			Sources: []catalog.SourceInput{file("new.fits", "never stored")},
		})
		var dve *catalog.DuplicateVersionError
		require.True(t, errors.As(err, &dve))
		assert.ErrorIs(t, err, catalog.ErrDuplicateVersion)

		after, err := h.svc.GetVersions(ctx, "ymap")
		require.NoError(t, err)
		assert.Equal(t, index, after)
		assert.Equal(t, puts, h.objects.Puts())
	})

	t.Run("non writer is refused", func(t *testing.T) {
		_, err := h.svc.AddVersion(ctx, catalog.AddVersionRequest{
			Actor: "mallory", Name: "ymap", Version: "9",
			Sources: []catalog.SourceInput{file("x", "x")},
		})
		assert.ErrorIs(t, err, catalog.ErrPermission)
	})

	t.Run("version and level are exclusive", func(t *testing.T) {
		_, err := h.svc.AddVersion(ctx, catalog.AddVersionRequest{
			Actor: "alice", Name: "ymap", Version: "3", Level: catalog.RevisionMinor,
			Sources: []catalog.SourceInput{file("x", "x")},
		})
		assert.ErrorIs(t, err, catalog.ErrValidation)
	})

	t.Run("unknown name", func(t *testing.T) {
		_, err := h.svc.AddVersion(ctx, catalog.AddVersionRequest{
			Actor: "alice", Name: "nope", Version: "1", Sources: []catalog.SourceInput{file("x", "x")},
		})
		assert.ErrorIs(t, err, catalog.ErrProductNotFound)
	})
}

func TestCreateProduct_DuplicateVersion(t *testing.T) {
	h := newHarness(t)
	h.create(t, "ymap", "1.0", "alice")

	_, err := h.svc.CreateProduct(context.Background(), catalog.CreateProductRequest{
		Name: "ymap", Version: "1.0", Owner: "alice",
		Sources: []catalog.SourceInput{file("other.fits", "other bytes")},
	})
	assert.ErrorIs(t, err, catalog.ErrDuplicateVersion)
	assert.Len(t, h.objects.Keys(), 1)
}

func TestAccess(t *testing.T) {
	ctx := context.Background()

	restricted := withOptions(catalog.WithConfig(catalog.Config{DefaultVisibility: catalog.VisibilityRestricted}))

	t.Run("public by default", func(t *testing.T) {
		h := newHarness(t)
		p := h.create(t, "open", "1", "alice")

		_, err := h.svc.GetProductByVersion(ctx, "stranger", "open", "1")
		assert.NoError(t, err)
		assert.False(t, h.svc.CheckAccess(p, "stranger", catalog.AccessWrite))
	})

	t.Run("restricted by configuration", func(t *testing.T) {
		h := newHarness(t, restricted)
		p := h.create(t, "private", "1", "alice")

		_, err := h.svc.GetProduct(ctx, "stranger", p.ID)
		assert.ErrorIs(t, err, catalog.ErrPermission)

		_, err = h.svc.GetProduct(ctx, "alice", p.ID)
		assert.NoError(t, err)
	})

	t.Run("product visibility overrides the default", func(t *testing.T) {
		h := newHarness(t)
		view, err := h.svc.CreateProduct(ctx, catalog.CreateProductRequest{
			Name: "secret", Version: "1", Owner: "alice", Visibility: catalog.VisibilityRestricted,
			Sources: []catalog.SourceInput{file("s.fits", "secret")},
		})
		require.NoError(t, err)
		_, err = h.svc.GetProduct(ctx, "stranger", view.Product.ID)
		assert.ErrorIs(t, err, catalog.ErrPermission)
	})

	t.Run("check access matrix", func(t *testing.T) {
		h := newHarness(t, restricted)
		p := &catalog.Product{
			Owner:   "alice",
			Readers: []catalog.Principal{"bob"},
			Writers: []catalog.Principal{"carol"},
		}
		tests := []struct {
			principal catalog.Principal
			mode      catalog.AccessMode
			want      bool
		}{
			{"alice", catalog.AccessWrite, true},
			{"carol", catalog.AccessWrite, true},
			{"carol", catalog.AccessRead, true},
			{"bob", catalog.AccessRead, true},
			{"bob", catalog.AccessWrite, false},
			{"mallory", catalog.AccessRead, false},
			{"", catalog.AccessRead, false},
		}
		for _, tt := range tests {
			assert.Equal(t, tt.want, h.svc.CheckAccess(p, tt.principal, tt.mode), "%s %s", tt.principal, tt.mode)
		}

		p.Visibility = catalog.VisibilityPublic
		assert.True(t, h.svc.CheckAccess(p, "mallory", catalog.AccessRead))
		assert.False(t, h.svc.CheckAccess(p, "mallory", catalog.AccessWrite))
	})

	t.Run("unresolvable owner", func(t *testing.T) {
		h := newHarness(t, withOptions(catalog.WithPrincipalDirectory(catalog.StaticDirectory{"alice": nil})))
		_, err := h.svc.CreateProduct(ctx, catalog.CreateProductRequest{
			Name: "p", Version: "1", Owner: "ghost", Sources: []catalog.SourceInput{file("a", "a")},
		})
		assert.ErrorIs(t, err, catalog.ErrPermission)

		_, err = h.svc.CreateProduct(ctx, catalog.CreateProductRequest{
			Name: "p", Version: "1", Owner: "alice", Readers: []catalog.Principal{"ghost"},
			Sources: []catalog.SourceInput{file("a", "a")},
		})
		assert.ErrorIs(t, err, catalog.ErrPermission)
		assert.Empty(t, h.objects.Keys())
	})

	t.Run("update product", func(t *testing.T) {
		h := newHarness(t)
		p := h.create(t, "editable", "1", "alice")

		desc := "new words"
		public := catalog.VisibilityPublic
		view, err := h.svc.UpdateProduct(ctx, catalog.UpdateProductRequest{
			Actor: "alice", ID: p.ID, Description: &desc, Visibility: &public,
			AddWriters: []catalog.Principal{"carol"},
		})
		require.NoError(t, err)
		assert.Equal(t, "new words", view.Product.Description)
		assert.Equal(t, []catalog.Principal{"carol"}, view.Product.Writers)

		_, err = h.svc.UpdateProduct(ctx, catalog.UpdateProductRequest{Actor: "mallory", ID: p.ID, Description: &desc})
		assert.ErrorIs(t, err, catalog.ErrPermission)

		view, err = h.svc.UpdateProduct(ctx, catalog.UpdateProductRequest{
			Actor: "carol", ID: p.ID, RemoveWriters: []catalog.Principal{"carol"},
		})
		require.NoError(t, err)
		assert.Empty(t, view.Product.Writers)
	})

	t.Run("concurrent edits are all kept", func(t *testing.T) {
		h := newHarness(t)
		p := h.create(t, "busy", "1", "alice")

		var wg sync.WaitGroup
		for i := 0; i < 12; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := h.svc.UpdateProduct(ctx, catalog.UpdateProductRequest{
					Actor: "alice", ID: p.ID, AddReaders: []catalog.Principal{catalog.Principal(fmt.Sprintf("r%d", i))},
				})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()
		assert.Len(t, h.get(t, p.ID).Readers, 12)
	})

	t.Run("update of a missing product", func(t *testing.T) {
		h := newHarness(t)
		desc := "x"
		_, err := h.svc.UpdateProduct(ctx, catalog.UpdateProductRequest{Actor: "alice", ID: uuid.New(), Description: &desc})
		assert.ErrorIs(t, err, catalog.ErrProductNotFound)
	})
}

func TestLineage(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	parent := h.create(t, "parent", "1", "alice")
	child := h.create(t, "child", "1", "alice")

	require.NoError(t, h.svc.AddChild(ctx, "alice", parent.ID, child.ID))
	require.NoError(t, h.svc.AddParent(ctx, "alice", child.ID, parent.ID), "re-adding an edge is a no-op")

	assert.Equal(t, []uuid.UUID{child.ID}, h.get(t, parent.ID).ParentOf)
	assert.Equal(t, []uuid.UUID{parent.ID}, h.get(t, child.ID).ChildOf)

	t.Run("cycle is rejected", func(t *testing.T) {
		grandchild := h.create(t, "grandchild", "1", "alice")
		require.NoError(t, h.svc.AddChild(ctx, "alice", child.ID, grandchild.ID))

		err := h.svc.AddChild(ctx, "alice", grandchild.ID, parent.ID)
		assert.ErrorIs(t, err, catalog.ErrValidation)
		assert.ErrorIs(t, h.svc.AddChild(ctx, "alice", parent.ID, parent.ID), catalog.ErrValidation)
	})

	t.Run("write access on both ends", func(t *testing.T) {
		foreign := h.create(t, "foreign", "1", "bob")
		err := h.svc.AddChild(ctx, "alice", parent.ID, foreign.ID)
		assert.ErrorIs(t, err, catalog.ErrPermission)
		assert.NotContains(t, h.get(t, parent.ID).ParentOf, foreign.ID)
	})

	t.Run("remove child", func(t *testing.T) {
		require.NoError(t, h.svc.RemoveChild(ctx, "alice", parent.ID, child.ID))
		assert.Empty(t, h.get(t, parent.ID).ParentOf)
		assert.Empty(t, h.get(t, child.ID).ChildOf)
		require.NoError(t, h.svc.RemoveChild(ctx, "alice", parent.ID, child.ID))
	})

	t.Run("parents at creation", func(t *testing.T) {
		view, err := h.svc.CreateProduct(ctx, catalog.CreateProductRequest{
			Name: "derived", Version: "1", Owner: "alice",
			Sources: []catalog.SourceInput{file("derived.fits", "derived")},
			Parents: []uuid.UUID{parent.ID},
		})
		require.NoError(t, err)
		assert.Equal(t, []uuid.UUID{parent.ID}, view.Product.ChildOf)
		assert.Contains(t, h.get(t, parent.ID).ParentOf, view.Product.ID)
	})
}

func TestConcurrentOppositeAddChild(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for round := 0; round < 20; round++ {
		x := h.create(t, fmt.Sprintf("x%d", round), "1", "alice")
		y := h.create(t, fmt.Sprintf("y%d", round), "1", "alice")

		errs := make([]error, 2)
		var wg sync.WaitGroup
		wg.Add(2)
		go func() { defer wg.Done(); errs[0] = h.svc.AddChild(ctx, "alice", x.ID, y.ID) }()
		go func() { defer wg.Done(); errs[1] = h.svc.AddChild(ctx, "alice", y.ID, x.ID) }()
		wg.Wait()

		edges := len(h.get(t, x.ID).ParentOf) + len(h.get(t, y.ID).ParentOf)
		assert.Equal(t, 1, edges, "round %d: only one direction may be linked", round)
		failed := 0
		for _, err := range errs {
			if err != nil {
				assert.ErrorIs(t, err, catalog.ErrValidation)
				failed++
			}
		}
		assert.Equal(t, 1, failed)
	}
}

func TestConcurrentAddChild(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	parent := h.create(t, "hub", "1", "alice")

	children := make([]*catalog.Product, 16)
	for i := range children {
		children[i] = h.create(t, fmt.Sprintf("leaf-%d", i), "1", "alice")
	}

	var wg sync.WaitGroup
	for _, c := range children {
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			assert.NoError(t, h.svc.AddChild(ctx, "alice", parent.ID, id))
		}(c.ID)
	}
	wg.Wait()

	got := h.get(t, parent.ID)
	assert.Len(t, got.ParentOf, len(children))
	for _, c := range children {
		assert.Contains(t, got.ParentOf, c.ID)
		assert.Equal(t, []uuid.UUID{parent.ID}, h.get(t, c.ID).ChildOf)
	}
}

func TestCollections(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, withOptions(catalog.WithPrincipalDirectory(catalog.StaticDirectory{
		"alice": {catalog.PrivilegeCreateCollection, catalog.PrivilegeDeleteCollection},
		"bob":   nil,
	})))
	a := h.create(t, "a", "1", "alice")
	b := h.create(t, "b", "1", "bob")

	coll, err := h.svc.AddToCollection(ctx, "alice", a.ID, catalog.CollectionSpec{Name: " planck ", Description: "Planck maps"})
	require.NoError(t, err)
	assert.Equal(t, "planck", coll.Name)
	assert.Equal(t, []uuid.UUID{a.ID}, coll.Products)

	again, err := h.svc.AddToCollection(ctx, "alice", a.ID, catalog.CollectionSpec{Name: "planck"})
	require.NoError(t, err)
	assert.Equal(t, coll.ID, again.ID)
	assert.Len(t, again.Products, 1)

	// bob may join an existing collection but not create one
	joined, err := h.svc.AddToCollection(ctx, "bob", b.ID, catalog.CollectionSpec{Name: "planck"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{a.ID, b.ID}, joined.Products)
	_, err = h.svc.AddToCollection(ctx, "bob", b.ID, catalog.CollectionSpec{Name: "bob-only"})
	assert.ErrorIs(t, err, catalog.ErrPermission)

	assert.Equal(t, []uuid.UUID{coll.ID}, h.get(t, a.ID).Collections)

	require.NoError(t, h.svc.RemoveFromCollection(ctx, "bob", b.ID, coll.ID))
	got, err := h.svc.GetCollection(ctx, "planck")
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{a.ID}, got.Products)

	assert.ErrorIs(t, h.svc.DeleteCollection(ctx, "bob", coll.ID), catalog.ErrPermission)
	require.NoError(t, h.svc.DeleteCollection(ctx, "alice", coll.ID))
	assert.Empty(t, h.get(t, a.ID).Collections)
	_, err = h.svc.GetCollection(ctx, "planck")
	assert.ErrorIs(t, err, catalog.ErrCollectionNotFound)
}

func TestDeleteProduct(t *testing.T) {
	ctx := context.Background()

	t.Run("refused while it has children", func(t *testing.T) {
		h := newHarness(t)
		parent := h.create(t, "parent", "1", "alice")
		child := h.create(t, "child", "1", "alice")
		require.NoError(t, h.svc.AddChild(ctx, "alice", parent.ID, child.ID))

		err := h.svc.DeleteProduct(ctx, catalog.DeleteProductRequest{Actor: "alice", ID: parent.ID})
		assert.ErrorIs(t, err, catalog.ErrConflict)
		h.get(t, parent.ID)

		require.NoError(t, h.svc.DeleteProduct(ctx, catalog.DeleteProductRequest{Actor: "alice", ID: parent.ID, Force: true}))
		_, err = h.repo.GetProduct(ctx, parent.ID)
		assert.ErrorIs(t, err, catalog.ErrProductNotFound)
		assert.Empty(t, h.get(t, child.ID).ChildOf)
		assert.Contains(t, h.sink.deleted, parent.ID)
	})

	t.Run("refused while in a collection", func(t *testing.T) {
		h := newHarness(t)
		p := h.create(t, "member", "1", "alice")
		coll, err := h.svc.AddToCollection(ctx, "alice", p.ID, catalog.CollectionSpec{Name: "set"})
		require.NoError(t, err)

		err = h.svc.DeleteProduct(ctx, catalog.DeleteProductRequest{Actor: "alice", ID: p.ID})
		assert.ErrorIs(t, err, catalog.ErrConflict)

		require.NoError(t, h.svc.DeleteProduct(ctx, catalog.DeleteProductRequest{Actor: "alice", ID: p.ID, Force: true}))
		got, err := h.svc.GetCollection(ctx, coll.Name)
		require.NoError(t, err)
		assert.Empty(t, got.Products)
	})

	t.Run("shared source survives", func(t *testing.T) {
		h := newHarness(t)
		first := h.create(t, "first", "1", "alice", file("map.fits", "0123456789"), file("own.txt", "only mine"))
		second := h.create(t, "second", "1", "alice", file("map.fits", "0123456789"))
		assert.Len(t, h.objects.Keys(), 2)

		require.NoError(t, h.svc.DeleteProduct(ctx, catalog.DeleteProductRequest{Actor: "alice", ID: first.ID}))

		view, err := h.svc.GetProduct(ctx, "alice", second.ID)
		require.NoError(t, err)
		require.Len(t, view.Sources, 1)
		rc, err := h.objects.Open(view.Sources[0].Source.StorageKey)
		require.NoError(t, err)
		body, err := io.ReadAll(rc)
		require.NoError(t, err)
		assert.Equal(t, "0123456789", string(body))

		assert.Len(t, h.objects.Keys(), 1, "the unshared blob is gone")
	})

	t.Run("parent edges are stripped without force", func(t *testing.T) {
		h := newHarness(t)
		parent := h.create(t, "parent", "1", "alice")
		child := h.create(t, "child", "1", "alice")
		require.NoError(t, h.svc.AddChild(ctx, "alice", parent.ID, child.ID))

		require.NoError(t, h.svc.DeleteProduct(ctx, catalog.DeleteProductRequest{Actor: "alice", ID: child.ID}))
		assert.Empty(t, h.get(t, parent.ID).ParentOf)
	})

	t.Run("dangling source reference", func(t *testing.T) {
		h := newHarness(t)
		p := h.create(t, "dangling", "1", "alice")
		require.NoError(t, h.store.ClaimSource(ctx, p.Sources[0].SourceID, p.ID))
		require.NoError(t, h.store.DeleteSource(ctx, p.Sources[0].SourceID))

		err := h.svc.DeleteProduct(ctx, catalog.DeleteProductRequest{Actor: "alice", ID: p.ID})
		assert.ErrorIs(t, err, catalog.ErrIntegrity)
		h.get(t, p.ID)

		require.NoError(t, h.svc.DeleteProduct(ctx, catalog.DeleteProductRequest{Actor: "alice", ID: p.ID, Force: true}))
		assert.Len(t, h.sink.integrity, 2)
	})

	t.Run("non writer", func(t *testing.T) {
		h := newHarness(t)
		p := h.create(t, "guarded", "1", "alice")
		err := h.svc.DeleteProduct(ctx, catalog.DeleteProductRequest{Actor: "mallory", ID: p.ID, Force: true})
		assert.ErrorIs(t, err, catalog.ErrPermission)
		h.get(t, p.ID)
	})
}

func TestVerify(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.create(t, "checked", "1", "alice", file("a.fits", "aaa"), file("b.fits", "bbb"))

	report, err := h.svc.Verify(ctx, "alice", p.ID)
	require.NoError(t, err)
	assert.True(t, report.OK())
	assert.Equal(t, []string{"a.fits", "b.fits"}, report.Present)

	src, err := h.repo.GetSource(ctx, p.Sources[1].SourceID)
	require.NoError(t, err)
	require.NoError(t, h.objects.Delete(ctx, src.StorageKey))

	report, err = h.svc.Verify(ctx, "alice", p.ID)
	require.NoError(t, err)
	assert.False(t, report.OK())
	assert.Equal(t, []string{"b.fits"}, report.Missing)
	require.Len(t, h.sink.integrity, 1)
	assert.Equal(t, src.Digest, h.sink.integrity[0].Digest)
}

func TestEventSinkFailureDoesNotFailOperation(t *testing.T) {
	h := newHarness(t)
	h.sink.fail = true

	p := h.create(t, "noisy", "1", "alice")
	assert.Len(t, h.sink.created, 1)
	require.NoError(t, h.svc.DeleteProduct(context.Background(), catalog.DeleteProductRequest{Actor: "alice", ID: p.ID}))
}

// failingRepository injects failures into edge and delete operations
type failingRepository struct {
	catalog.Repository
	failLink   bool
	failDelete bool
	failCreate bool
}

var errInjected = errors.New("injected failure")

func (f *failingRepository) LinkLineage(ctx context.Context, parentID, childID uuid.UUID) (bool, error) {
	if f.failLink {
		return false, errInjected
	}
	return f.Repository.LinkLineage(ctx, parentID, childID)
}

func (f *failingRepository) DeleteProduct(ctx context.Context, id uuid.UUID) error {
	if f.failDelete {
		return errInjected
	}
	return f.Repository.DeleteProduct(ctx, id)
}

func (f *failingRepository) CreateProduct(ctx context.Context, p *catalog.Product) error {
	if f.failCreate {
		return errInjected
	}
	return f.Repository.CreateProduct(ctx, p)
}

func TestCreateProduct_Compensation(t *testing.T) {
	ctx := context.Background()
	var failing *failingRepository
	wrap := withRepositoryWrapper(func(r catalog.Repository) catalog.Repository {
		failing = &failingRepository{Repository: r}
		return failing
	})

	t.Run("failed link is rolled back", func(t *testing.T) {
		h := newHarness(t, wrap)
		parent := h.create(t, "parent", "1", "alice")
		failing.failLink = true

		_, err := h.svc.CreateProduct(ctx, catalog.CreateProductRequest{
			Name: "child", Version: "1", Owner: "alice", Parents: []uuid.UUID{parent.ID},
			Sources: []catalog.SourceInput{file("child.fits", "child bytes")},
		})
		require.ErrorIs(t, err, errInjected)
		assert.NotErrorIs(t, err, catalog.ErrPartialFailure)

		_, err = h.repo.GetProductByVersion(ctx, "child", "1")
		assert.ErrorIs(t, err, catalog.ErrProductNotFound)
		assert.Len(t, h.objects.Keys(), 1, "the new blob is released")
	})

	t.Run("failed rollback is a partial failure", func(t *testing.T) {
		h := newHarness(t, wrap)
		parent := h.create(t, "parent", "1", "alice")
		failing.failLink = true
		failing.failDelete = true

		_, err := h.svc.CreateProduct(ctx, catalog.CreateProductRequest{
			Name: "child", Version: "1", Owner: "alice", Parents: []uuid.UUID{parent.ID},
			Sources: []catalog.SourceInput{file("child.fits", "child bytes")},
		})
		var pfe *catalog.PartialFailureError
		require.True(t, errors.As(err, &pfe))
		assert.Equal(t, "create", pfe.Op)
		assert.Contains(t, pfe.Failed, parent.ID.String())
		assert.NotEmpty(t, pfe.Committed)
	})

	t.Run("failed document write releases new sources", func(t *testing.T) {
		h := newHarness(t, wrap)
		shared := h.create(t, "shared", "1", "alice", file("map.fits", "0123456789"))
		failing.failCreate = true

		_, err := h.svc.CreateProduct(ctx, catalog.CreateProductRequest{
			Name: "doomed", Version: "1", Owner: "alice",
			Sources: []catalog.SourceInput{file("map.fits", "0123456789"), file("new.fits", "fresh")},
		})
		require.ErrorIs(t, err, errInjected)
		assert.Len(t, h.objects.Keys(), 1, "only the reused blob remains")
		_, err = h.svc.GetProduct(ctx, "alice", shared.ID)
		assert.NoError(t, err)
	})
}

// gatedRepository runs a hook before the first CreateProduct of a name
type gatedRepository struct {
	catalog.Repository
	mu    sync.Mutex
	hooks map[string]func() error
}

func (g *gatedRepository) CreateProduct(ctx context.Context, p *catalog.Product) error {
	g.mu.Lock()
	hook := g.hooks[p.Name]
	delete(g.hooks, p.Name)
	g.mu.Unlock()
	if hook != nil {
		if err := hook(); err != nil {
			return err
		}
	}
	return g.Repository.CreateProduct(ctx, p)
}

// hookedStore calls onDelete before every blob delete
type hookedStore struct {
	*memorystorage.Backend
	onDelete func()
}

func (h *hookedStore) Delete(ctx context.Context, key string) error {
	if h.onDelete != nil {
		h.onDelete()
	}
	return h.Backend.Delete(ctx, key)
}

func newGatedHarness(t *testing.T) (*harness, *gatedRepository, *hookedStore) {
	gated := &gatedRepository{hooks: map[string]func() error{}}
	hooked := &hookedStore{}
	h := newHarness(t,
		withRepositoryWrapper(func(r catalog.Repository) catalog.Repository {
			gated.Repository = r
			return gated
		}),
		withObjectStoreWrapper(func(b *memorystorage.Backend) catalog.ObjectStore {
			hooked.Backend = b
			return hooked
		}))
	return h, gated, hooked
}

type createResult struct {
	view *catalog.ProductView
	err  error
}

func (h *harness) createAsync(name string, sources ...catalog.SourceInput) <-chan createResult {
	done := make(chan createResult, 1)
	go func() {
		view, err := h.svc.CreateProduct(context.Background(), catalog.CreateProductRequest{
			Name: name, Version: "1", Owner: "alice", Sources: sources,
		})
		done <- createResult{view, err}
	}()
	return done
}

func TestSharedSourceSurvivesConcurrentDelete(t *testing.T) {
	ctx := context.Background()
	h, gated, hooked := newGatedHarness(t)
	a := h.create(t, "a", "1", "alice", file("x.fits", "shared bytes"))

	// b reuses a's source, then waits until a's blob delete has started
	reached := make(chan struct{})
	release := make(chan struct{})
	gated.hooks["b"] = func() error {
		close(reached)
		<-release
		return nil
	}
	var once sync.Once
	hooked.onDelete = func() { once.Do(func() { close(release) }) }

	done := h.createAsync("b", file("x.fits", "shared bytes"))
	<-reached
	require.NoError(t, h.svc.DeleteProduct(ctx, catalog.DeleteProductRequest{Actor: "alice", ID: a.ID}))

	res := <-done
	require.NoError(t, res.err)
	report, err := h.svc.Verify(ctx, "alice", res.view.Product.ID)
	require.NoError(t, err)
	assert.True(t, report.OK())
	assert.Equal(t, []string{"x.fits"}, report.Present)
	assert.Len(t, h.objects.Keys(), 1)
	assert.Empty(t, h.sink.integrity)

	_, err = h.repo.GetProduct(ctx, a.ID)
	assert.ErrorIs(t, err, catalog.ErrProductNotFound)
}

func TestReusedSourceSurvivesCreatorRollback(t *testing.T) {
	ctx := context.Background()
	h, gated, _ := newGatedHarness(t)

	leaderWriting := make(chan struct{})
	followerWriting := make(chan struct{})
	leaderDone := make(chan struct{})
	gated.hooks["leader"] = func() error {
		close(leaderWriting)
		<-followerWriting
		return errInjected
	}
	gated.hooks["follower"] = func() error {
		close(followerWriting)
		<-leaderDone
		return nil
	}

	leader := h.createAsync("leader", file("x.fits", "same bytes"))
	<-leaderWriting
	follower := h.createAsync("follower", file("x.fits", "same bytes"))

	res := <-leader
	require.ErrorIs(t, res.err, errInjected)
	assert.Empty(t, h.objects.Keys(), "the creator released the source it stored")
	close(leaderDone)

	res = <-follower
	require.NoError(t, res.err)
	report, err := h.svc.Verify(ctx, "alice", res.view.Product.ID)
	require.NoError(t, err)
	assert.True(t, report.OK())
	assert.Len(t, h.objects.Keys(), 1)
}

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := catalog.New()
	assert.Error(t, err)

	repo := memory.New()
	_, err = catalog.New(catalog.WithRepository(repo))
	assert.Error(t, err)

	_, err = catalog.New(
		catalog.WithRepository(repo),
		catalog.WithRegistry(registry.New(repo, memorystorage.New())),
		catalog.WithConfig(catalog.Config{DefaultVisibility: "hidden"}),
	)
	assert.Error(t, err)
}
