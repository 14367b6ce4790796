// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package icet

import (
	"github.com/jinzhu/copier"

	"github.com/gogpu/sortlast"
	"github.com/gogpu/sortlast/comm"
)

// Context binds one compositing engine to one communicator. The engine
// exists if and only if the communicator is non-nil.
type Context struct {
	comm   comm.Communicator
	engine *Engine
}

// NewContext returns a context without communicator.
func NewContext() *Context {
	return &Context{}
}

// SetCommunicator rebinds the context. A nil communicator destroys the
// engine. Replacing a communicator carries the tunable State over to the
// new engine.
func (c *Context) SetCommunicator(cm comm.Communicator) {
	if cm == c.comm {
		return
	}

	var next *Engine
	if cm != nil {
		next = NewEngine(cm)
		if c.engine != nil {
			var st State
			if err := copier.Copy(&st, &c.engine.state); err != nil {
				sortlast.Logger().Error("icet: copying compositor state", "err", err)
			} else {
				next.SetState(st)
			}
		}
	}
	if c.engine != nil {
		c.engine.Close()
	}
	c.comm, c.engine = cm, next
}

// Communicator returns the bound communicator, or nil.
func (c *Context) Communicator() comm.Communicator { return c.comm }

// IsValid reports whether the context has a communicator and an engine.
func (c *Context) IsValid() bool {
	return c.comm != nil && c.engine != nil
}

// MakeCurrent checks that the context can be used for a frame. It logs and
// returns ErrInvalidContext when it cannot.
func (c *Context) MakeCurrent() error {
	if !c.IsValid() {
		sortlast.Logger().Error("icet: cannot make an invalid context current")
		return ErrInvalidContext
	}
	return nil
}

// Engine returns the engine, or nil when the context is invalid.
func (c *Context) Engine() *Engine { return c.engine }

// Close destroys the engine and drops the communicator.
func (c *Context) Close() {
	c.SetCommunicator(nil)
}
