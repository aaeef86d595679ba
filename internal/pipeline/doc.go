// Package pipeline assembles per-camera processing graphs on a component
// framework and drives frame capture through them.
//
// A Registry is configured with output requests, built once, and then
// serves captures per output slot. Each camera's graph is
//
//	sensor -> splitter -> converter[slot] -> sink[slot]
//
// where the sensor is either the camera's preview output, its capture output
// (with the preview output tied to a discard sink), or a host-side raw
// sensor whose converted frames are injected into the splitter.
//
// CaptureNext returns a Frame token. Exactly one of Frame.Release or
// Frame.Handoff resolves it; the next capture on the same slot resolves it
// implicitly.
package pipeline
