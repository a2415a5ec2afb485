// Package model defines the provider-agnostic abstraction for the generation
// and classification collaborator.
//
// Core goals:
//   - Keep request/response shapes minimal and transport independent
//   - Let adapters (anthropic, openai) hide vendor SDKs behind Model
//   - Route every call through Guarded (concurrency gate, transient retry,
//     per-call timeout, call logging)
//   - Facilitate lightweight scripting of replies in tests (MockModel)
package model
