// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package icet is a sort-last image compositor bound to a communicator.
//
// Every rank renders its own geometry into one image per display tile it
// touches. DrawFrame then exchanges those partial images point to point and
// merges them, either by depth test (CompositeZBuffer) or by blending in a
// supplied back-to-front rank order (CompositeBlend). The rank that displays
// a tile receives the merged result.
//
// DrawFrame is a collective: every rank of the communicator must call it
// for the same frame with the same tile layout.
package icet

import (
	"errors"
	"fmt"
)

// Errors returned by the compositor.
var (
	// ErrInvalidContext is returned when a context has no communicator.
	ErrInvalidContext = errors.New("icet: invalid context")

	// ErrNoDrawCallback is returned by DrawFrame without a draw callback.
	ErrNoDrawCallback = errors.New("icet: draw callback not set")

	// ErrBadOrder is returned for a composite order that is not a
	// permutation of the ranks.
	ErrBadOrder = errors.New("icet: composite order is not a permutation of ranks")

	// ErrFormat is returned for an unusable color/depth format combination.
	ErrFormat = errors.New("icet: unsupported image format")

	// ErrCorruptImage is returned when a received image cannot be decoded.
	ErrCorruptImage = errors.New("icet: corrupt image message")

	// ErrBadTile is returned for an empty tile rectangle or a display rank
	// outside the communicator.
	ErrBadTile = errors.New("icet: invalid tile")

	// ErrSetupMismatch is returned by DrawFrame on every rank when the
	// ranks were configured for different frames.
	ErrSetupMismatch = errors.New("icet: ranks disagree on the frame setup")
)

// Strategy selects how partial images travel between ranks.
type Strategy int

const (
	// StrategySequential composites each tile with the single image
	// strategy. It suits a 1x1 grid, the usual desktop case.
	StrategySequential Strategy = iota

	// StrategyReduce merges the contributors of every tile along a binary
	// tree, so many tiles make progress at the same time.
	StrategyReduce
)

// String implements fmt.Stringer.
func (s Strategy) String() string {
	switch s {
	case StrategySequential:
		return "sequential"
	case StrategyReduce:
		return "reduce"
	}
	return fmt.Sprintf("Strategy(%d)", int(s))
}

// SingleImageStrategy selects how one tile is merged under
// StrategySequential.
type SingleImageStrategy int

const (
	// SingleImageTree merges along a binary tree.
	SingleImageTree SingleImageStrategy = iota

	// SingleImageDirect sends every partial image to the display rank,
	// which merges them one at a time.
	SingleImageDirect
)

// String implements fmt.Stringer.
func (s SingleImageStrategy) String() string {
	switch s {
	case SingleImageTree:
		return "tree"
	case SingleImageDirect:
		return "direct"
	}
	return fmt.Sprintf("SingleImageStrategy(%d)", int(s))
}

// CompositeMode selects how two partial images merge.
type CompositeMode int

const (
	// CompositeZBuffer keeps the closest fragment per pixel. Order free.
	CompositeZBuffer CompositeMode = iota

	// CompositeBlend blends premultiplied color in composite order,
	// back to front. No depth buffer is used.
	CompositeBlend
)

// String implements fmt.Stringer.
func (m CompositeMode) String() string {
	switch m {
	case CompositeZBuffer:
		return "zbuffer"
	case CompositeBlend:
		return "blend"
	}
	return fmt.Sprintf("CompositeMode(%d)", int(m))
}

// State is the tunable compositor state. It survives a change of
// communicator: the context copies it into the replacement engine.
type State struct {
	Strategy            Strategy
	SingleImageStrategy SingleImageStrategy

	// Compression enables zstd compression of images on the wire.
	Compression bool

	// CompressionLevel is a zstd level, 1 (fastest) to 22.
	CompressionLevel int

	// MaxImageSplit bounds the number of bands an image is split into when
	// merging locally. 0 means one band per CPU.
	MaxImageSplit int

	// Interlace spreads contributors across the reduction tree instead of
	// pairing rank neighbors. Only used for depth compositing, where order
	// does not matter.
	Interlace bool
}

// DefaultState returns the state a new engine starts with.
func DefaultState() State {
	return State{
		Strategy:            StrategyReduce,
		SingleImageStrategy: SingleImageTree,
		Compression:         true,
		CompressionLevel:    1,
	}
}
