// Package grab runs one export over a discovered page: probe the first
// chart, composite batches, name each strip from its first chart's UTC
// stamp and hand the PNG to an exporter.
//
// A run walks these states:
//
//	Idle -> Discovering -> (no images: Done) -> ProbingDimensions
//	     -> (probe fails: Aborted) -> ExtractingPrefix
//	     -> {Compositing -> Exporting -> Pausing}* -> Done
//
// Single mode skips the probe and prefix and exports every chart on its
// own, isolating every per-image failure.
package grab
