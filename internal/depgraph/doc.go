// File: internal/depgraph/doc.go
// Brief: Dependency ordering for deployment units.

// Package depgraph orders named nodes so that every node's dependencies come
// before it, and reports cycles and undeclared dependencies before any work
// starts.
package depgraph
