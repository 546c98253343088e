// Package mapping defines the topic routing tables: sensor mappings
// (source topic to validated/failed targets plus an optional schema) and
// actuator mappings (one record per actuator covering its command and
// status sub-flows).
//
// BuildIndex merges both classes into a single precomputed topic index
// with an exclusivity invariant: a topic belongs to exactly one
// classification, enforced when the index is built rather than per
// message. The index is immutable for the life of a session; lookups
// need no locking.
package mapping
