// Package harness runs refresh scenarios against a fresh store.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: shared_widget
//	description: "Two owners importing the same products share rows"
//	steps:
//	  - refresh:
//	      owner: acme
//	      catalog:
//	        products:
//	          - { id: X, name: Widget, provided_product_ids: [Y] }
//	          - { id: Y, name: Gadget }
//	    expect:
//	      counts: { created: 2 }
//	  - add_pool: { owner: acme, id: pool-1, product: X }
//	  - refresh:
//	      owner: acme
//	      catalog_file: catalogs/only_y.yaml
//	    expect:
//	      error: CONFLICT
//	  - remove_pool: pool-1
//	assertions:
//	  - { type: shared, entity: product, id: X, owners: [acme, globex] }
//	  - { type: orphans, count: 0 }
//
// A refresh step without expect must succeed. A refresh step without a
// catalog refreshes with an empty batch, which removes everything the
// owner has.
//
// # Assertion Types
//
//   - owner_entity: the owner is associated with the entity (optionally a given uuid or name)
//   - owner_absent: the owner is not associated with the entity
//   - shared: the owners are associated with one row
//   - distinct: the owners are associated with pairwise different rows
//   - orphans: the number of unreferenced rows
//
// # Deterministic Testing
//
// Every run uses an in-memory SQLite store, sequential object identities
// (uuid-0001, uuid-0002, ...) and a stepping clock, so reports can be
// compared against golden files.
package harness
