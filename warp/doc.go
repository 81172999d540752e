// Package warp implements point-based registration between a moving and a
// fixed space.
//
// A Table holds landmark correspondences under live editing, with activation
// bookkeeping, undo/redo, change notifications and CSV persistence. Solve fits
// translation, rigid, similarity, affine or thin-plate-spline transforms to
// the active correspondences. Every solved transform maps fixed space into
// moving space with Apply and back with ApplyInverse; transforms without a
// closed-form inverse are inverted with InvertIteratively.
//
// Transforms compose with Sequence, Embed2D and Blend. The package also
// carries the service plumbing of the warpmesh binary: YAML configuration,
// the MQTT publisher and edit subscriber, and GeoJSON export.
package warp
