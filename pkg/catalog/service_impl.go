package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/product-catalog/pkg/catalog/hash"
	"github.com/tendant/product-catalog/pkg/catalog/metadata"
	"github.com/tendant/product-catalog/pkg/catalog/objectkey"
	"golang.org/x/sync/errgroup"
)

// Config holds process-wide catalog settings.
type Config struct {
	// DefaultVisibility applies to products whose own visibility is unset.
	DefaultVisibility Visibility
	// UploadConcurrency bounds how many sources of one upload are hashed
	// and registered at once.
	UploadConcurrency int
}

// DefaultConfig returns public-by-default settings.
func DefaultConfig() Config {
	return Config{
		DefaultVisibility: VisibilityPublic,
		UploadConcurrency: 4,
	}
}

// service implements the Service interface
type service struct {
	repository Repository
	registry   SourceRegistry
	eventSink  EventSink
	directory  PrincipalDirectory
	logger     *slog.Logger
	config     Config
	now        func() time.Time
}

// Option represents a functional option for configuring the service
type Option func(*service)

// WithRepository sets the repository for the service
func WithRepository(repo Repository) Option {
	return func(s *service) {
		s.repository = repo
	}
}

// WithRegistry sets the source registry for the service
func WithRegistry(registry SourceRegistry) Option {
	return func(s *service) {
		s.registry = registry
	}
}

// WithEventSink sets the event sink for the service
func WithEventSink(sink EventSink) Option {
	return func(s *service) {
		s.eventSink = sink
	}
}

// WithPrincipalDirectory sets the directory used to resolve principals
func WithPrincipalDirectory(dir PrincipalDirectory) Option {
	return func(s *service) {
		s.directory = dir
	}
}

// WithLogger sets the structured logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *service) {
		s.logger = logger
	}
}

// WithConfig replaces the default configuration
func WithConfig(cfg Config) Option {
	return func(s *service) {
		s.config = cfg
	}
}

// WithClock overrides the time source, for tests
func WithClock(now func() time.Time) Option {
	return func(s *service) {
		s.now = now
	}
}

// New creates a new service instance with the given options
func New(options ...Option) (Service, error) {
	s := &service{
		eventSink: NewNoopEventSink(),
		directory: OpenDirectory{},
		logger:    slog.Default(),
		config:    DefaultConfig(),
		now:       func() time.Time { return time.Now().UTC() },
	}

	for _, option := range options {
		option(s)
	}

	if s.repository == nil {
		return nil, fmt.Errorf("repository is required")
	}
	if s.registry == nil {
		return nil, fmt.Errorf("source registry is required")
	}
	switch s.config.DefaultVisibility {
	case VisibilityDefault:
		s.config.DefaultVisibility = VisibilityPublic
	case VisibilityPublic, VisibilityRestricted:
	default:
		return nil, fmt.Errorf("invalid default visibility %q", s.config.DefaultVisibility)
	}
	if s.config.UploadConcurrency <= 0 {
		s.config.UploadConcurrency = 1
	}

	return s, nil
}

// Product operations

func (s *service) CreateProduct(ctx context.Context, req CreateProductRequest) (*ProductView, error) {
	if err := validateIdentity(req.Name, req.Version); err != nil {
		return nil, err
	}
	if err := s.resolve(ctx, req.Owner); err != nil {
		return nil, err
	}
	if err := s.resolveAll(ctx, req.Readers, req.Writers); err != nil {
		return nil, err
	}
	if !req.Visibility.Valid() {
		return nil, &ValidationError{Field: "visibility", Reason: fmt.Sprintf("unknown visibility %q", req.Visibility)}
	}
	inputs, err := normalizeSources(req.Sources, nil)
	if err != nil {
		return nil, err
	}
	meta, err := parseMetadata(req.Metadata)
	if err != nil {
		return nil, err
	}
	if err := s.ensureVersionFree(ctx, req.Name, req.Version); err != nil {
		return nil, err
	}
	parents, err := s.writableProducts(ctx, req.Owner, req.Parents)
	if err != nil {
		return nil, err
	}

	now := s.now()
	product := &Product{
		ID:          uuid.New(),
		Name:        req.Name,
		Version:     req.Version,
		Description: req.Description,
		Owner:       req.Owner,
		Status:      ProductStatusDraft,
		Uploaded:    now,
		Updated:     now,
		Readers:     dedupe(req.Readers),
		Writers:     dedupe(req.Writers),
		Visibility:  req.Visibility,
		Metadata:    meta,
	}
	return s.persist(ctx, "create", product, inputs, parents)
}

func (s *service) AddVersion(ctx context.Context, req AddVersionRequest) (*ProductView, error) {
	latest, err := s.repository.LatestProduct(ctx, req.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to find versions of %q: %w", req.Name, err)
	}
	if err := s.authorize(latest, req.Actor, AccessWrite); err != nil {
		return nil, err
	}

	version := req.Version
	switch {
	case version != "" && req.Level != "":
		return nil, &ValidationError{Field: "version", Reason: "give either an explicit version or a revision level, not both"}
	case version == "" && req.Level == "":
		return nil, &ValidationError{Field: "version", Reason: "a version or revision level is required"}
	case version == "":
		if version, err = ReviseVersion(latest.Version, req.Level); err != nil {
			return nil, err
		}
	}
	if err := validateIdentity(req.Name, version); err != nil {
		return nil, err
	}

	var carried []ProductSource
	if req.CarrySources {
		carried = latest.Sources
	}
	inputs, err := normalizeSources(req.Sources, carried)
	if err != nil {
		return nil, err
	}

	meta := latest.Metadata
	if req.Metadata != nil {
		if meta, err = parseMetadata(req.Metadata); err != nil {
			return nil, err
		}
	}
	if err := s.ensureVersionFree(ctx, req.Name, version); err != nil {
		return nil, err
	}
	parents, err := s.writableProducts(ctx, req.Actor, req.Parents)
	if err != nil {
		return nil, err
	}

	description := req.Description
	if description == "" {
		description = latest.Description
	}
	now := s.now()
	product := &Product{
		ID:          uuid.New(),
		Name:        req.Name,
		Version:     version,
		Description: description,
		Owner:       latest.Owner,
		Status:      ProductStatusDraft,
		Uploaded:    now,
		Updated:     now,
		Readers:     slices.Clone(latest.Readers),
		Writers:     slices.Clone(latest.Writers),
		Visibility:  latest.Visibility,
		Sources:     slices.Clone(carried),
		Metadata:    meta,
	}
	return s.persist(ctx, "add_version", product, inputs, parents)
}

func (s *service) GetVersions(ctx context.Context, name string) (VersionIndex, error) {
	index, err := s.repository.ListVersions(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions of %q: %w", name, err)
	}
	if len(index) == 0 {
		return nil, fmt.Errorf("no versions of %q: %w", name, ErrProductNotFound)
	}
	return index, nil
}

func (s *service) GetProduct(ctx context.Context, principal Principal, id uuid.UUID) (*ProductView, error) {
	product, err := s.repository.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(product, principal, AccessRead); err != nil {
		return nil, err
	}
	return s.view(ctx, product)
}

func (s *service) GetProductByVersion(ctx context.Context, principal Principal, name, version string) (*ProductView, error) {
	product, err := s.repository.GetProductByVersion(ctx, name, version)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(product, principal, AccessRead); err != nil {
		return nil, err
	}
	return s.view(ctx, product)
}

func (s *service) UpdateProduct(ctx context.Context, req UpdateProductRequest) (*ProductView, error) {
	if err := s.resolveAll(ctx, req.AddReaders, req.AddWriters); err != nil {
		return nil, err
	}
	var meta metadata.Metadata
	if req.Metadata != nil {
		var err error
		if meta, err = parseMetadata(req.Metadata); err != nil {
			return nil, err
		}
	}
	if req.Visibility != nil && !req.Visibility.Valid() {
		return nil, &ValidationError{Field: "visibility", Reason: fmt.Sprintf("unknown visibility %q", *req.Visibility)}
	}

	// The edit runs against the stored document inside the repository's
	// update, so concurrent edits apply one after the other.
	var denied error
	err := s.repository.UpdateProduct(ctx, req.ID, func(product *Product) error {
		if err := s.authorize(product, req.Actor, AccessWrite); err != nil {
			denied = err
			return err
		}
		if req.Metadata != nil {
			product.Metadata = meta
		}
		if req.Visibility != nil {
			product.Visibility = *req.Visibility
		}
		if req.Description != nil {
			product.Description = *req.Description
		}
		product.Readers = editPrincipals(product.Readers, req.AddReaders, req.RemoveReaders)
		product.Writers = editPrincipals(product.Writers, req.AddWriters, req.RemoveWriters)
		product.Updated = s.now()
		return nil
	})
	switch {
	case denied != nil:
		return nil, denied
	case errors.Is(err, ErrProductNotFound):
		return nil, err
	case err != nil:
		return nil, &ProductError{ProductID: req.ID, Op: "update", Err: err}
	}

	updated, err := s.repository.GetProduct(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	s.fire(ctx, "product_updated", func() error { return s.eventSink.ProductUpdated(ctx, updated) })
	return s.view(ctx, updated)
}

// registerAttempts bounds how often an upload re-registers its sources
// after a reused source was deleted before the document was written.
const registerAttempts = 3

// persist registers the sources, writes the product document and links the
// requested parents. A failed link is compensated by removing what was
// written; if compensation fails the caller gets a PartialFailureError.
func (s *service) persist(ctx context.Context, op string, product *Product, inputs []SourceInput, parents []*Product) (*ProductView, error) {
	carried := product.Sources
	var owned []*Source
	for attempt := 1; ; attempt++ {
		regs, err := s.registerSources(ctx, inputs)
		if err != nil {
			s.releaseSources(context.WithoutCancel(ctx), uuid.Nil, owned)
			return nil, &ProductError{ProductID: product.ID, Op: op, Err: err}
		}
		owned = addSources(owned, created(regs))

		product.Sources = slices.Clone(carried)
		for i, reg := range regs {
			product.Sources = append(product.Sources, ProductSource{SourceID: reg.Source.ID, Name: inputs[i].Name})
		}
		product.Status = ProductStatusActive

		err = s.repository.CreateProduct(ctx, product)
		if err == nil {
			break
		}
		if attempt < registerAttempts && len(inputs) > 0 &&
			(errors.Is(err, ErrSourceDeleting) || errors.Is(err, ErrSourceNotFound)) {
			s.logger.WarnContext(ctx, "source removed during upload, registering again",
				"op", op, "product_id", product.ID, "attempt", attempt, "err", err)
			continue
		}
		s.releaseSources(context.WithoutCancel(ctx), uuid.Nil, owned)
		return nil, &ProductError{ProductID: product.ID, Op: op, Err: err}
	}

	var linked []uuid.UUID
	for _, parent := range parents {
		if _, err := s.repository.LinkLineage(ctx, parent.ID, product.ID); err != nil {
			step := fmt.Sprintf("link parent %s", parent.ID)
			return nil, s.compensateCreate(context.WithoutCancel(ctx), op, product, linked, owned, step, err)
		}
		linked = append(linked, parent.ID)
	}

	stored, err := s.repository.GetProduct(ctx, product.ID)
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "product stored",
		"op", op, "product_id", stored.ID, "name", stored.Name, "version", stored.Version)
	s.fire(ctx, "product_created", func() error { return s.eventSink.ProductCreated(ctx, stored) })
	for _, parent := range parents {
		s.fire(ctx, "product_updated", func() error { return s.eventSink.ProductUpdated(ctx, parent) })
	}
	return s.view(ctx, stored)
}

func (s *service) compensateCreate(ctx context.Context, op string, product *Product, linked []uuid.UUID, owned []*Source, step string, cause error) error {
	var committed []string
	var compErr error
	for _, parentID := range linked {
		if _, err := s.repository.UnlinkLineage(ctx, parentID, product.ID); err != nil {
			committed = append(committed, fmt.Sprintf("lineage %s -> %s", parentID, product.ID))
			compErr = errors.Join(compErr, err)
		}
	}
	if len(committed) == 0 {
		if err := s.repository.DeleteProduct(ctx, product.ID); err != nil {
			committed = append(committed, fmt.Sprintf("product %s", product.ID))
			compErr = errors.Join(compErr, err)
		} else {
			s.releaseSources(ctx, uuid.Nil, owned)
		}
	} else {
		committed = append(committed, fmt.Sprintf("product %s", product.ID))
	}

	if len(committed) == 0 {
		return &ProductError{ProductID: product.ID, Op: op, Err: cause}
	}
	s.logger.ErrorContext(ctx, "compensation failed",
		"op", op, "product_id", product.ID, "failed", step, "committed", committed, "err", compErr)
	return &PartialFailureError{
		Op:        op,
		Committed: committed,
		Failed:    step,
		Err:       errors.Join(cause, compErr),
	}
}

// registerSources hashes each input and resolves it through the registry.
// On failure, sources this call created are released again.
func (s *service) registerSources(ctx context.Context, inputs []SourceInput) ([]*Registration, error) {
	regs := make([]*Registration, len(inputs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.UploadConcurrency)
	for i, in := range inputs {
		g.Go(func() error {
			digest, size, err := digestSource(in)
			if err != nil {
				return err
			}
			reg, err := s.registry.RegisterOrReuse(gctx, in.Name, digest, size, in.Open)
			if err != nil {
				var ie *IntegrityError
				if errors.As(err, &ie) {
					s.reportIntegrity(gctx, ie)
				}
				return fmt.Errorf("failed to register source %q: %w", in.Name, err)
			}
			regs[i] = reg
			s.fire(gctx, "source_registered", func() error { return s.eventSink.SourceRegistered(gctx, reg) })
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.releaseSources(context.WithoutCancel(ctx), uuid.Nil, created(regs))
		return nil, err
	}
	return regs, nil
}

func digestSource(in SourceInput) (hash.Digest, int64, error) {
	rc, err := in.Open()
	if err != nil {
		return "", 0, fmt.Errorf("failed to open source %q: %w", in.Name, err)
	}
	defer rc.Close()

	digest, size, err := hash.Reader(rc)
	if err != nil {
		return "", 0, fmt.Errorf("failed to read source %q: %w", in.Name, err)
	}
	if in.Size != 0 && in.Size != size {
		return "", 0, &ValidationError{
			Field:  "sources." + in.Name,
			Reason: fmt.Sprintf("declared %d bytes but read %d", in.Size, size),
		}
	}
	return digest, size, nil
}

// releaseSources deletes sources that no product other than holder
// references. Sources still in use elsewhere are left alone.
func (s *service) releaseSources(ctx context.Context, holder uuid.UUID, sources []*Source) {
	for _, src := range sources {
		err := s.registry.Delete(ctx, src, holder)
		switch {
		case err == nil:
			s.logger.InfoContext(ctx, "source released", "source_id", src.ID, "digest", src.Digest)
		case errors.Is(err, ErrSourceReferenced), errors.Is(err, ErrSourceDeleting), errors.Is(err, ErrSourceNotFound):
			// in use elsewhere, or already on its way out
		default:
			s.logger.WarnContext(ctx, "failed to release source",
				"source_id", src.ID, "digest", src.Digest, "err", err)
		}
	}
}

func addSources(list, more []*Source) []*Source {
	for _, src := range more {
		if !slices.ContainsFunc(list, func(s *Source) bool { return s.ID == src.ID }) {
			list = append(list, src)
		}
	}
	return list
}

func created(regs []*Registration) []*Source {
	var out []*Source
	for _, reg := range regs {
		if reg != nil && !reg.Reused {
			out = append(out, reg.Source)
		}
	}
	return out
}

// view builds the read model, presigning a download URL per source.
func (s *service) view(ctx context.Context, product *Product) (*ProductView, error) {
	v := &ProductView{
		Product:  product,
		Sources:  make([]SourceView, 0, len(product.Sources)),
		Metadata: metadata.Render(product.Metadata),
	}
	for _, ps := range product.Sources {
		src, err := s.repository.GetSource(ctx, ps.SourceID)
		if errors.Is(err, ErrSourceNotFound) {
			return nil, s.reportIntegrity(ctx, &IntegrityError{
				SourceID: ps.SourceID,
				Reason:   fmt.Sprintf("product %s references a missing source record", product.ID),
			})
		}
		if err != nil {
			return nil, err
		}
		url, expires, err := s.registry.PresignedURL(ctx, src)
		if err != nil {
			return nil, &StorageError{Key: src.StorageKey, Op: "presign", Err: err}
		}
		v.Sources = append(v.Sources, SourceView{Name: ps.Name, Source: src, URL: url, ExpiresAt: expires})
	}
	return v, nil
}

func (s *service) ensureVersionFree(ctx context.Context, name, version string) error {
	_, err := s.repository.GetProductByVersion(ctx, name, version)
	switch {
	case err == nil:
		return &DuplicateVersionError{Name: name, Version: version}
	case errors.Is(err, ErrProductNotFound):
		return nil
	}
	return fmt.Errorf("failed to check version %q of %q: %w", version, name, err)
}

// writableProducts loads ids and checks actor may write each of them.
func (s *service) writableProducts(ctx context.Context, actor Principal, ids []uuid.UUID) ([]*Product, error) {
	out := make([]*Product, 0, len(ids))
	for _, id := range dedupe(ids) {
		p, err := s.repository.GetProduct(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to load product %s: %w", id, err)
		}
		if err := s.authorize(p, actor, AccessWrite); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *service) resolve(ctx context.Context, id Principal) error {
	if _, err := s.directory.Lookup(ctx, id); err != nil {
		return &PermissionError{Principal: id, Target: "catalog", Mode: AccessWrite, Reason: "principal cannot be resolved"}
	}
	return nil
}

func (s *service) resolveAll(ctx context.Context, lists ...[]Principal) error {
	for _, list := range lists {
		for _, id := range list {
			if err := s.resolve(ctx, id); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *service) reportIntegrity(ctx context.Context, ie *IntegrityError) error {
	s.logger.ErrorContext(ctx, "integrity violation", "kind", "integrity",
		"digest", ie.Digest, "source_id", ie.SourceID, "reason", ie.Reason)
	s.fire(ctx, "integrity_violation", func() error { return s.eventSink.IntegrityViolation(ctx, ie) })
	return ie
}

// fire delivers an event. Sink failures are logged and never fail the
// operation that produced the event.
func (s *service) fire(ctx context.Context, event string, deliver func() error) {
	if err := deliver(); err != nil {
		s.logger.WarnContext(ctx, "event sink failed", "event", event, "err", err)
	}
}

func validateIdentity(name, version string) error {
	if strings.TrimSpace(name) == "" {
		return &ValidationError{Field: "name", Reason: "is required"}
	}
	if strings.TrimSpace(version) == "" {
		return &ValidationError{Field: "version", Reason: "is required"}
	}
	return nil
}

// normalizeSources strips directories from file names and rejects inputs
// that would leave the product without sources or with clashing names.
func normalizeSources(inputs []SourceInput, carried []ProductSource) ([]SourceInput, error) {
	if len(inputs) == 0 && len(carried) == 0 {
		return nil, &ValidationError{Field: "sources", Reason: "at least one source is required"}
	}
	seen := make(map[string]bool, len(inputs)+len(carried))
	for _, ps := range carried {
		seen[ps.Name] = true
	}
	out := make([]SourceInput, 0, len(inputs))
	for _, in := range inputs {
		in.Name = objectkey.SanitizeFilename(in.Name)
		switch {
		case in.Name == "" || in.Name == "." || in.Name == "..":
			return nil, &ValidationError{Field: "sources", Reason: "source name is required"}
		case in.Open == nil:
			return nil, &ValidationError{Field: "sources." + in.Name, Reason: "no content"}
		case in.Size < 0:
			return nil, &ValidationError{Field: "sources." + in.Name, Reason: "negative size"}
		case seen[in.Name]:
			return nil, &ValidationError{Field: "sources." + in.Name, Reason: "duplicate source name"}
		}
		seen[in.Name] = true
		out = append(out, in)
	}
	return out, nil
}

func parseMetadata(in *MetadataInput) (metadata.Metadata, error) {
	if in == nil || (in.Type == "" && len(in.Payload) == 0) {
		return nil, nil
	}
	var (
		m   metadata.Metadata
		err error
	)
	if in.Type != "" {
		payload := in.Payload
		if len(payload) == 0 {
			payload = []byte("{}")
		}
		m, err = metadata.Validate(in.Type, payload)
	} else {
		m, err = metadata.Parse(in.Payload)
	}
	if err != nil {
		return nil, &ValidationError{Field: "metadata", Err: err}
	}
	return m, nil
}

func editPrincipals(list, add, remove []Principal) []Principal {
	out := slices.Clone(list)
	for _, p := range add {
		if !slices.Contains(out, p) {
			out = append(out, p)
		}
	}
	return slices.DeleteFunc(out, func(p Principal) bool { return slices.Contains(remove, p) })
}

func dedupe[T comparable](in []T) []T {
	var out []T
	for _, v := range in {
		if !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}
