// Package depth implements the frame-level extraction pipeline for single
// animal depth recordings: robust floor-plane estimation, background
// reconstruction, ROI detection, per-frame foreground segmentation, crop and
// rotate alignment, scalar feature derivation and temporal post-processing.
//
// The package is batch-synchronous and performs no I/O: callers hand in
// FrameBatches (and receive new ones) and are responsible for chunking a
// session into batches and persisting results. Background and ROI outputs are
// computed once per session and treated as immutable afterwards, so chunks may
// be processed concurrently by the caller without locking.
package depth
