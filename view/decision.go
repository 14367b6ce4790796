// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package view

import (
	"fmt"

	"github.com/gogpu/sortlast/comm"
	"github.com/gogpu/sortlast/geom"
)

// Decision is the render mode of one frame. All ranks must hold the same
// decision before compositing.
type Decision struct {
	UseLOD                        bool
	UseDistributedRendering       bool
	UseDistributedRenderingForLOD bool
	UseOrderedCompositing         bool
	RenderEmptyImages             bool

	// Processes taking part in still and interactive renders.
	StillRenderProcesses       ProcessMask
	InteractiveRenderProcesses ProcessMask
}

// DataDistribution is how geometry moves before rendering.
type DataDistribution int

const (
	// DistributionPassThrough renders data where it is.
	DistributionPassThrough DataDistribution = iota
	// DistributionCollectToClient gathers data on the client.
	DistributionCollectToClient
	// DistributionDuplicate copies all data to every render rank.
	DistributionDuplicate
	// DistributionRedistribute moves data into the ordered partitions.
	DistributionRedistribute
)

// String implements fmt.Stringer.
func (d DataDistribution) String() string {
	switch d {
	case DistributionPassThrough:
		return "pass-through"
	case DistributionCollectToClient:
		return "collect-to-client"
	case DistributionDuplicate:
		return "duplicate"
	case DistributionRedistribute:
		return "redistribute"
	}
	return fmt.Sprintf("DataDistribution(%d)", int(d))
}

// Update computes the decision for the next frame. Collective over the
// view communicator.
func (v *RenderView) Update() error {
	v.previous = v.decision

	var size, lodSize int64
	var ordered, empty, required, forbidden bool
	local := geom.InvalidBox()
	for _, r := range v.representations() {
		if !r.Visible() {
			continue
		}
		size += r.GeometrySize(false)
		lodSize += r.GeometrySize(true)
		ordered = ordered || r.RequiresOrderedCompositing()
		empty = empty || r.RenderEmptyImages()
		switch r.DistributedRendering() {
		case PreferenceRequired:
			required = true
		case PreferenceForbidden:
			forbidden = true
		}
		local.AddBox(r.Bounds())
	}

	var err error
	if v.geometrySize, err = comm.AllReduceInt64(v.comm, size, comm.OpSum); err != nil {
		return fmt.Errorf("view: reduce geometry size: %w", err)
	}
	if v.lodGeometrySize, err = comm.AllReduceInt64(v.comm, lodSize, comm.OpSum); err != nil {
		return fmt.Errorf("view: reduce LOD geometry size: %w", err)
	}
	flags, err := v.comm.AllReduce([]float64{b2f(ordered), b2f(empty), b2f(required), b2f(forbidden)}, comm.OpMax)
	if err != nil {
		return fmt.Errorf("view: reduce representation flags: %w", err)
	}
	v.required, v.forbidden = flags[2] != 0, flags[3] != 0
	if v.required && v.forbidden {
		v.log.Error("representations both require and forbid distributed rendering, ignoring both")
		v.required, v.forbidden = false, false
	}

	d := Decision{
		UseOrderedCompositing: flags[0] != 0,
		RenderEmptyImages:     flags[1] != 0,
	}
	d.UseLOD = v.ShouldUseLODRendering(v.geometrySize)
	d.UseDistributedRendering = v.ShouldUseDistributedRendering(v.geometrySize)
	d.UseDistributedRenderingForLOD = v.ShouldUseDistributedRendering(v.lodGeometrySize)
	if v.holdsComposited(d) {
		v.log.Debug("leaving LOD, holding composited mode for one frame", "geometry", v.geometrySize)
		d.UseDistributedRendering = true
	}
	d.StillRenderProcesses = renderProcesses(d.UseDistributedRendering)
	interactive := d.UseDistributedRendering
	if d.UseLOD {
		interactive = d.UseDistributedRenderingForLOD
	}
	d.InteractiveRenderProcesses = renderProcesses(interactive)

	v.localBounds = local
	if v.bounds, err = comm.AllReduceBounds(v.comm, local); err != nil {
		return fmt.Errorf("view: reduce bounds: %w", err)
	}
	if d.UseOrderedCompositing {
		if err := v.partition.Construct(v.comm, local); err != nil {
			return fmt.Errorf("view: build partition order: %w", err)
		}
	}

	v.decision = d
	if d != v.previous {
		v.log.Debug("render decision changed",
			"lod", d.UseLOD, "distributed", d.UseDistributedRendering,
			"distributed_lod", d.UseDistributedRenderingForLOD,
			"ordered", d.UseOrderedCompositing, "geometry", v.geometrySize)
	}
	return nil
}

// holdsComposited reports whether d switches from composited LOD frames to
// local full resolution frames. The first full resolution frame stays
// composited so the image does not jump between the two paths while the
// interaction settles. The previous decision is shared by all ranks, so
// they all hold together.
func (v *RenderView) holdsComposited(d Decision) bool {
	p := v.previous
	return p.UseLOD && p.UseDistributedRenderingForLOD &&
		!d.UseLOD && !d.UseDistributedRendering &&
		v.cfg.RemoteRenderingAvailable && !v.forbidden
}

func b2f(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// renderProcesses returns the processes that render a frame.
func renderProcesses(distributed bool) ProcessMask {
	if distributed {
		return MaskClient | MaskRenderServer
	}
	return MaskClient
}

// ShouldUseLODRendering reports whether geometry of size bytes is rendered
// with level of detail during interaction.
func (v *RenderView) ShouldUseLODRendering(size int64) bool {
	return v.cfg.LODThreshold >= 0 && size >= v.cfg.LODThreshold
}

// ShouldUseDistributedRendering reports whether geometry of size bytes is
// rendered on the servers.
//
// An explicit requirement or veto from a representation wins over the
// threshold, except where the process topology has no servers to render
// on. Without an explicit request, remote rendering must be available;
// batch and parallel servers always render distributed, other processes
// when size reaches RemoteRenderingThreshold.
func (v *RenderView) ShouldUseDistributedRendering(size int64) bool {
	if v.required && !v.cfg.RemoteRenderingAvailable {
		v.log.Error("distributed rendering required but not available")
		return false
	}
	if v.required || v.forbidden {
		if v.cfg.Role == RoleBuiltin || (v.cfg.Role == RoleBatch && v.cfg.NumberOfPartitions <= 1) {
			return false
		}
		return v.required
	}
	if !v.cfg.RemoteRenderingAvailable {
		return false
	}
	switch v.cfg.Role {
	case RoleBatch, RoleServer:
		return true
	}
	return size >= v.cfg.RemoteRenderingThreshold
}

// DataDistributionMode returns how data moves for a still (lod false) or
// interactive (lod true) render under the current decision.
func (v *RenderView) DataDistributionMode(lod bool) DataDistribution {
	d := v.decision
	distributed := d.UseDistributedRendering
	if lod && d.UseLOD {
		distributed = d.UseDistributedRenderingForLOD
	}
	switch {
	case !distributed && v.cfg.Role == RoleBuiltin:
		return DistributionPassThrough
	case !distributed:
		return DistributionCollectToClient
	case d.UseOrderedCompositing:
		return DistributionRedistribute
	case v.cfg.DataReplicated:
		return DistributionDuplicate
	}
	return DistributionPassThrough
}
