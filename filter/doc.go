// Package filter provides the composable query expression tree used by
// collection finds: field comparisons, substring and token matches, and the
// logical combinators and/or/not.
//
// Filters are plain predicates over documents. Whether a filter is answered
// by an index probe or by direct evaluation is decided by the engine's
// planner, not by the filter itself.
package filter
