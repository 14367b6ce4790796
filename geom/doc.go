// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package geom provides the small geometric vocabulary shared by the
// compositing packages: axis-aligned bounding boxes in world space and
// normalized viewports in window space.
//
// Bounding boxes may be invalid (empty). An invalid box contributes nothing
// to a union and is never equal to a valid box, so ranks holding no geometry
// can still take part in collective reductions.
package geom
