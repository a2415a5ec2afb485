// Package cache holds the process-lifetime caches used by the pipeline.
//
// Bounded is a fixed-capacity key/value store whose entries expire after a
// TTL. Expiry is checked on read; there is no background sweeper. When a new
// key is written into a full cache the entry with the oldest write timestamp
// is evicted. Reads do not refresh timestamps, so eviction order follows
// write recency rather than access recency.
//
// Semantic wraps a Bounded cache with embedding vectors and answers
// nearest-neighbour lookups with a linear cosine-similarity scan.
package cache
