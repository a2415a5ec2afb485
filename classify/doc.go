// Package classify holds the model-backed classifiers that run before target
// selection: Triage, which picks the handler for a message, and
// IntentClassifier, which assigns a data question its sub-type. SubTypes is
// the table of request shapes both the engine and the hooks key on.
package classify
