// Package catalog provides a data-product catalog with content-addressed
// source storage.
//
// A product is a named, versioned artifact made of one or more sources and
// an optional polymorphic metadata document. Products are organised into
// lineage (parent/child) and named collections. The Service interface
// coordinates two external stores: a Repository holding product, source and
// collection documents, and an ObjectStore holding the source bytes.
//
// Source Deduplication
//
// Sources are identified by the digest of their bytes. The source registry
// (see the registry subpackage) keeps at most one stored copy per digest no
// matter how many products reference it; products refer to sources by id.
//
// Relationship Consistency
//
// Lineage edges are visible from both sides (Product.ChildOf and
// Product.ParentOf). Repositories expose atomic edge primitives and the
// Service compensates multi-step operations, reporting a
// PartialFailureError when compensation itself fails.
package catalog
