// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package window provides the render targets of the compositing pipeline.
//
// An Offscreen is one view's CPU-backed framebuffer: color for each eye
// plus a depth buffer, the camera looking into the scene, and the part of
// the tiled wall the view is responsible for. A Shared window is the single
// process-wide display onto which the layout pastes every view.
//
// Pixel buffers use the image package convention: rows run top to bottom.
// Geometry handed in from the tiling code uses a lower-left origin and is
// flipped at the paste boundary.
package window
