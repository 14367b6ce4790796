// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package view

import (
	"encoding/binary"
	"fmt"

	"github.com/gogpu/sortlast/comm"
)

const (
	flagLOD = 1 << iota
	flagDistributed
	flagDistributedLOD
	flagOrdered
	flagEmptyImages
)

// decisionSize is the encoded size of a Decision: flags and two masks.
const decisionSize = 3

// MarshalBinary encodes the decision for the render mode stream.
func (d Decision) MarshalBinary() ([]byte, error) {
	var f byte
	set := func(on bool, bit byte) {
		if on {
			f |= bit
		}
	}
	set(d.UseLOD, flagLOD)
	set(d.UseDistributedRendering, flagDistributed)
	set(d.UseDistributedRenderingForLOD, flagDistributedLOD)
	set(d.UseOrderedCompositing, flagOrdered)
	set(d.RenderEmptyImages, flagEmptyImages)
	return []byte{f, byte(d.StillRenderProcesses), byte(d.InteractiveRenderProcesses)}, nil
}

// UnmarshalBinary decodes a decision written by MarshalBinary.
func (d *Decision) UnmarshalBinary(b []byte) error {
	if len(b) != decisionSize {
		return fmt.Errorf("%w: %d bytes", ErrBadDecision, len(b))
	}
	f := b[0]
	*d = Decision{
		UseLOD:                        f&flagLOD != 0,
		UseDistributedRendering:       f&flagDistributed != 0,
		UseDistributedRenderingForLOD: f&flagDistributedLOD != 0,
		UseOrderedCompositing:         f&flagOrdered != 0,
		RenderEmptyImages:             f&flagEmptyImages != 0,
		StillRenderProcesses:          ProcessMask(b[1]),
		InteractiveRenderProcesses:    ProcessMask(b[2]),
	}
	return nil
}

// isClient reports whether this process computes the canonical decision.
func (v *RenderView) isClient() bool {
	return v.cfg.Role == RoleClient
}

// SynchronizeDecision makes every rank adopt the same decision. The client
// sends its decision to the server root over the stream; the server root
// receives it, or uses its own without a stream, and broadcasts it to its
// peers. Collective over the view communicator on server ranks.
func (v *RenderView) SynchronizeDecision() error {
	if v.isClient() {
		if v.stream == nil {
			return nil
		}
		msg, _ := v.decision.MarshalBinary()
		if err := v.stream.Send(comm.TagRenderModeSync, msg); err != nil {
			return fmt.Errorf("view: send render decision: %w", err)
		}
		return nil
	}

	// The root always broadcasts, so peers never block on a failed
	// receive; they adopt the root's own decision instead.
	var msg []byte
	var recvErr error
	if v.comm.Rank() == comm.Root {
		msg, _ = v.decision.MarshalBinary()
		if v.stream != nil {
			m, err := v.stream.Recv(comm.TagRenderModeSync)
			if err != nil {
				recvErr = fmt.Errorf("view: receive render decision: %w", err)
			} else {
				msg = m
			}
		}
	}
	msg, err := v.comm.Broadcast(msg, comm.Root)
	if err != nil {
		return fmt.Errorf("view: broadcast render decision: %w", err)
	}
	var d Decision
	if err := d.UnmarshalBinary(msg); err != nil {
		return err
	}
	v.decision = d
	return recvErr
}

// TestCollaborationCounter checks that client and server agree on the data
// delivery counter before a delivery or selection in a multi-client
// session. A mismatch returns false without error: the caller skips the
// operation for this round. Collective over the view communicator on
// server ranks.
func (v *RenderView) TestCollaborationCounter() (bool, error) {
	if !v.cfg.MultiClients {
		return true, nil
	}

	if v.isClient() {
		if v.stream == nil {
			return false, ErrNoStream
		}
		msg := binary.BigEndian.AppendUint64(nil, v.syncCounter)
		if err := v.stream.Send(comm.TagCollaborationCounter, msg); err != nil {
			return false, fmt.Errorf("view: send collaboration counter: %w", err)
		}
		reply, err := v.stream.Recv(comm.TagCollaborationReply)
		if err != nil {
			return false, fmt.Errorf("view: receive collaboration reply: %w", err)
		}
		return len(reply) == 1 && reply[0] == 1, nil
	}

	verdict := []byte{0}
	var rootErr error
	if v.comm.Rank() == comm.Root {
		rootErr = v.answerCounter(verdict)
	}
	verdict, err := v.comm.Broadcast(verdict, comm.Root)
	if err != nil {
		return false, fmt.Errorf("view: broadcast collaboration verdict: %w", err)
	}
	if rootErr != nil {
		return false, rootErr
	}
	ok := len(verdict) == 1 && verdict[0] == 1
	if !ok {
		v.log.Warn("collaboration counter mismatch, skipping operation", "counter", v.syncCounter)
	}
	return ok, nil
}

// answerCounter receives the client counter, writes the verdict into
// verdict[0] and replies to the client.
func (v *RenderView) answerCounter(verdict []byte) error {
	if v.stream == nil {
		return ErrNoStream
	}
	msg, err := v.stream.Recv(comm.TagCollaborationCounter)
	if err != nil {
		return fmt.Errorf("view: receive collaboration counter: %w", err)
	}
	if len(msg) == 8 && binary.BigEndian.Uint64(msg) == v.syncCounter {
		verdict[0] = 1
	}
	if err := v.stream.Send(comm.TagCollaborationReply, verdict[:1]); err != nil {
		verdict[0] = 0
		return fmt.Errorf("view: send collaboration reply: %w", err)
	}
	return nil
}
