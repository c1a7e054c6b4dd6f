// Package imagery holds the pure raster operations of the change-detection
// pipeline: decoding provider payloads, per-channel difference maps with a
// saturating enhancement, and luminance-quantized text renditions.
//
// All operations accept standard image.Image values and never mutate their
// inputs, so they are safe to call concurrently on distinct (or shared) images.
// Pixel coordinates in outputs are 0-based with the origin at the top-left,
// regardless of the input's Bounds().Min.
package imagery
