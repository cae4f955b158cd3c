// Package dagflow builds and runs directed acyclic graphs of typed data
// transformers — some stateless, some trained from data, some pure
// metadata views over a trained sibling.
//
// 🚀 What is dagflow?
//
//	A dependency-light library that brings together:
//
//	  • Producer primitives: placeholders, generators, trainable
//	    transformers and views, wired into a graph with plain Go values
//	  • Canonicalization: structural dedup, phase assignment and a stable
//	    fingerprint, so two equivalent graphs compare equal
//	  • Three executors: a single-threaded reference implementation, a
//	    batched worker-pool implementation, and a prepared-only fast path
//
// ✨ Why choose dagflow?
//
//   - No generics required    — producers are plain interfaces over `any`
//   - Deterministic            — canonical ordering, reproducible sampling
//     and shuffling
//   - Pluggable storage        — in-memory or disk-backed batch buffers,
//     optionally compressed and encrypted
//   - Pure Go                  — a small, auditable third-party stack
//
// Under the hood, everything is organized under a handful of subpackages:
//
//	handle/    — opaque 128-bit node identity
//	producer/  — the producer kinds (Placeholder, Generator, Preparable,
//	             Prepared, View, Embedded) and their equality/ordering rules
//	dag/       — canonicalization: dedup, phase assignment, fingerprinting
//	reduce/    — the fixed-point graph-rewrite pass (folding, inlining)
//	ioseq/     — the Reader/Writer/Iterator sequence abstraction and its
//	             combinators (Map, Filter, Zip, Sample, Shuffle, ...)
//	storage/   — pluggable batch-buffer backends (heap or disk, optionally
//	             compressed and encrypted)
//	refexec/   — the single-threaded reference executor
//	exec/      — the batched, worker-pool executor
//	fastexec/  — the prepared-only fast executor
//
// Quick ASCII example:
//
//	placeholder ──▶ preparable ──▶ prepared ──▶ output
//	                     │
//	                     ▼
//	                   view
//
// A Preparable trains once over the full input, then every downstream
// Prepared and View consumes its trained form.
//
//	go get github.com/katalvlaran/dagflow
package dagflow
