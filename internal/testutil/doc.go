// Package testutil contains builders and helpers shared by tests: pipeline
// events, conversations with a previous answer, and stream collection.
// Not intended for production usage.
package testutil
