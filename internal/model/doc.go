// Package model defines the versioned entities shared between owners.
//
// Products and Content are content-addressed: Version() is a 64-bit hash over
// every semantic field, including nested collections folded in sorted order.
// Two rows with the same (ID, Version) are interchangeable and the store keeps
// only one of them.
//
// This package imports nothing internal. Every other package builds on it.
//
// Key constraints:
//   - Version() never includes UUID, timestamps or the locked flag
//   - every semantic setter clears the cached version
//   - the derived/provided product graph is acyclic; setters refuse edges
//     that would close a cycle and leave the product unchanged
package model
