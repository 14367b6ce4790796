// Package sortlast is the distributed rendering control plane for parallel
// visualization sessions.
//
// # Overview
//
// A session runs the same program on many ranks. Each rank renders the
// geometry it owns, and the partial images are merged after rendering
// (sort-last compositing) into one frame per display tile. sortlast decides,
// every frame, how that happens:
//
//   - whether to render reduced geometry (level of detail)
//   - whether to render locally or on the server ranks
//   - whether to composite by depth test or in an explicit blend order
//   - how the composited tiles land on the physical displays
//
// # Architecture
//
// The module is organized leaf first:
//   - geom: bounding boxes and normalized viewports
//   - tiles: rank to tile geometry on a tiled display wall
//   - comm: communicators, collectives and client/server streams
//   - partition: visibility ordering of rank partitions
//   - icet: compositing context and the sort-last image compositor
//   - window: offscreen view windows, cameras and the shared process window
//   - composite: the compositing render pass
//   - cave: CAVE display configuration files
//   - layout: multiplexing several views onto one process window
//   - view: the per-frame render mode decision engine
//   - session: the process-wide context and session configuration
//
// # Collectives
//
// Every compositing call and every reduction is a blocking collective.
// All ranks of a communicator must issue the same collectives in the same
// order; there is no timeout. See [comm.Collective].
//
// # Logging
//
// sortlast is silent by default. Use [SetLogger] to route diagnostics to a
// [log/slog] handler.
package sortlast

// Version information
const (
	// Version is the current version of the library
	Version = "0.1.0-alpha.1"

	// VersionMajor is the major version
	VersionMajor = 0

	// VersionMinor is the minor version
	VersionMinor = 1

	// VersionPatch is the patch version
	VersionPatch = 0

	// VersionPrerelease is the prerelease identifier
	VersionPrerelease = "alpha.1"
)
