// Package resolver is the Resolver of spec.md §4.7: the single place that
// drives INACTIVE -> STARTING transitions, and the only place that reacts
// to lost requirements by failing a component out. It is deliberately
// state-free between passes; everything it needs lives in the Component
// Table and Capability Registry it is handed.
package resolver
