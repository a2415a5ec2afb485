// Package session keeps per-user conversation context: the rows of the last
// answer, used by follow-up and visualization requests, and a sliding window
// of turns that feeds the triage prompt. Store is in memory; SQLPersister
// writes turns through the write pool in the background.
package session
