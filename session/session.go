// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package session holds the process-wide state of a rendering session.
//
// A Process is created once in main and closed at shutdown. It owns the
// shared window of the process, created on first use, and the display
// configuration; every component that needs them receives the Process.
package session

import (
	"errors"
	"log/slog"

	"github.com/gogpu/gpucontext"

	"github.com/gogpu/sortlast"
	"github.com/gogpu/sortlast/cave"
	"github.com/gogpu/sortlast/layout"
	"github.com/gogpu/sortlast/window"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("session: process closed")

// Option configures a Process.
type Option func(*options)

type options struct {
	rank     int
	provider gpucontext.DeviceProvider
	logger   *slog.Logger
	cave     *cave.Configuration
}

// WithRank sets the rank of the process in the server partition.
func WithRank(rank int) Option {
	return func(o *options) {
		o.rank = rank
	}
}

// WithDeviceProvider attaches the host GPU device to the shared window.
func WithDeviceProvider(p gpucontext.DeviceProvider) Option {
	return func(o *options) {
		o.provider = p
	}
}

// WithLogger routes library logging to l.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithCave uses an already parsed display configuration instead of the
// file named by Config.Cave.
func WithCave(c *cave.Configuration) Option {
	return func(o *options) {
		o.cave = c
	}
}

// Process is the process-wide session context.
type Process struct {
	cfg  Config
	opts options

	shared *window.Shared
	cave   *cave.Configuration
	closed bool
}

// New creates the process context. The shared window is not created until
// SharedWindow is called.
func New(cfg Config, opts ...Option) (*Process, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger != nil {
		sortlast.SetLogger(o.logger)
	}

	p := &Process{cfg: cfg, opts: o, cave: o.cave}
	if p.cave == nil && cfg.Cave != "" {
		c, err := cave.Load(cfg.Cave)
		if err != nil {
			return nil, err
		}
		p.cave = c
	}
	if p.cave != nil && p.cave.NumberOfDisplays() < cfg.Ranks {
		sortlast.Logger().Warn("session: fewer CAVE displays than ranks",
			"displays", p.cave.NumberOfDisplays(), "ranks", cfg.Ranks)
	}
	return p, nil
}

// Config returns the session configuration.
func (p *Process) Config() Config { return p.cfg }

// Rank returns the rank of the process.
func (p *Process) Rank() int { return p.opts.rank }

// Cave returns the display configuration, nil outside CAVE mode.
func (p *Process) Cave() *cave.Configuration { return p.cave }

// SharedWindow returns the process window, creating it on first use.
// Returns nil after Close.
func (p *Process) SharedWindow() *window.Shared {
	if p.closed {
		return nil
	}
	if p.shared == nil {
		p.shared = window.NewShared(p.cfg.WindowPoint(), p.opts.provider)
	}
	return p.shared
}

// NewLayout returns a layout for this rank painting into the shared
// window.
func (p *Process) NewLayout() (*layout.Layout, error) {
	s := p.SharedWindow()
	if s == nil {
		return nil, ErrClosed
	}
	cfg := p.cfg.LayoutConfig(p.opts.rank)
	cfg.Cave = p.cave
	return layout.New(cfg, s), nil
}

// Close releases the shared window. It is safe to call more than once.
func (p *Process) Close() error {
	p.closed = true
	p.shared = nil
	return nil
}
