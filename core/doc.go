// Package core contains the canonical workflow-engine domain contracts,
// entities, and state tables. Lower-level adapters and stores must depend on
// this package; core must not depend on queue-, transport-, or
// store-specific adapters.
package core
