// Package store provides the SQLite-backed versioned entity store.
//
// Products and contents are stored once per (business id, version) and
// shared between owners:
//   - products / contents: immutable-once-shared rows, UNIQUE(id, entity_version)
//   - product_provided_products, product_contents, products.derived_product_uuid:
//     child links by UUID
//   - owner_products / owner_contents: one active UUID per (owner, business id)
//   - pools: the removal guard for the products and contents they reach
//
// # Critical Patterns
//
// Get-or-create by version:
//   - INSERT ... ON CONFLICT(id, entity_version) DO NOTHING, then SELECT
//   - concurrent creators of an equal entity collapse onto one row
//
// One refresh, one transaction:
//   - ApplyChangeSet writes every row and association swap of a refresh in a
//     single transaction; a failure leaves the owner untouched
//
// Deterministic reads:
//   - owner listings are ordered by business id (COLLATE BINARY)
//   - JSON columns are canonical JSON
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
