// Package query holds the collaborators of the resolution loop: the static
// Validator, the model-backed Generator, the pooled Executor, the result
// Verifier and SuggestFix, which turns backend error text into remediation
// guidance for the next generation attempt.
package query
