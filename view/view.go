// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package view decides, every frame, how a render view is drawn.
//
// Update gathers what the representations of the view need, reduces it
// across the ranks of the view's communicator and computes a Decision:
// whether to render level-of-detail geometry, whether to render on the
// server ranks and composite, and whether compositing needs an explicit
// back-to-front order. In multi-client sessions the client's decision is
// streamed to the server so every rank agrees before any compositing
// collective starts. Render then draws the frame according to the
// decision.
package view

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"slices"

	"github.com/gogpu/sortlast"
	"github.com/gogpu/sortlast/comm"
	"github.com/gogpu/sortlast/composite"
	"github.com/gogpu/sortlast/geom"
	"github.com/gogpu/sortlast/partition"
	"github.com/gogpu/sortlast/window"
)

// Errors returned by RenderView.
var (
	// ErrUnsupportedTopology is returned for process layouts the render
	// decision protocol cannot keep in sync. It is fatal to the session.
	ErrUnsupportedTopology = errors.New("view: split data and render servers are not supported with multiple clients")

	// ErrSelectionInProgress is returned by Select while another selection
	// runs on the same view.
	ErrSelectionInProgress = errors.New("view: selection already in progress")

	// ErrNoStream is returned by the client/server handshakes without a
	// stream to the peer.
	ErrNoStream = errors.New("view: no client/server stream")

	// ErrBadDecision is returned for an undecodable decision message.
	ErrBadDecision = errors.New("view: malformed render decision message")

	// ErrNoRenderTarget is returned by Render without a window or delegate.
	ErrNoRenderTarget = errors.New("view: render needs a window and a delegate")
)

// ProcessRole is the part a process plays in the session.
type ProcessRole int

const (
	RoleBuiltin ProcessRole = iota
	RoleClient
	RoleServer
	RoleDataServer
	RoleRenderServer
	RoleBatch
)

// String implements fmt.Stringer.
func (r ProcessRole) String() string {
	switch r {
	case RoleBuiltin:
		return "builtin"
	case RoleClient:
		return "client"
	case RoleServer:
		return "server"
	case RoleDataServer:
		return "data-server"
	case RoleRenderServer:
		return "render-server"
	case RoleBatch:
		return "batch"
	}
	return fmt.Sprintf("ProcessRole(%d)", int(r))
}

// ParseProcessRole is the inverse of ProcessRole.String.
func ParseProcessRole(s string) (ProcessRole, error) {
	for r := RoleBuiltin; r <= RoleBatch; r++ {
		if r.String() == s {
			return r, nil
		}
	}
	return 0, fmt.Errorf("view: unknown process role %q", s)
}

// ProcessMask is a set of process kinds.
type ProcessMask uint8

const (
	MaskClient ProcessMask = 1 << iota
	MaskDataServer
	MaskRenderServer
)

// mask returns the processes r belongs to.
func (r ProcessRole) mask() ProcessMask {
	switch r {
	case RoleClient:
		return MaskClient
	case RoleDataServer:
		return MaskDataServer
	case RoleRenderServer:
		return MaskRenderServer
	case RoleServer:
		return MaskDataServer | MaskRenderServer
	}
	return MaskClient | MaskDataServer | MaskRenderServer
}

// Preference is a representation's stance on distributed rendering.
type Preference int

const (
	PreferenceAny Preference = iota
	PreferenceRequired
	PreferenceForbidden
)

// Representation is a piece of displayed data as seen by the view.
type Representation interface {
	// GeometrySize returns the local geometry size in bytes, of the
	// level-of-detail geometry when lod is set.
	GeometrySize(lod bool) int64
	RequiresOrderedCompositing() bool
	RenderEmptyImages() bool
	DistributedRendering() Preference
	Visible() bool
	Bounds() geom.BoundingBox
}

// AxesRepresentation is implemented by representations that draw axes or
// cube axes, whose labels reach past their bounds.
type AxesRepresentation interface {
	Axes() bool
}

// RepID is a representation handle.
type RepID int

// RenderMode is how a frame is drawn.
type RenderMode int

const (
	// RenderLocal draws on this process without compositing.
	RenderLocal RenderMode = iota
	// RenderCompositedZ composites rank images by depth.
	RenderCompositedZ
	// RenderCompositedOrdered composites rank images back to front.
	RenderCompositedOrdered
)

// String implements fmt.Stringer.
func (m RenderMode) String() string {
	switch m {
	case RenderLocal:
		return "local"
	case RenderCompositedZ:
		return "composited-z"
	case RenderCompositedOrdered:
		return "composited-ordered"
	}
	return fmt.Sprintf("RenderMode(%d)", int(m))
}

// Config configures a RenderView.
type Config struct {
	Role ProcessRole

	// LODThreshold is the geometry size in bytes from which interactive
	// renders use level-of-detail geometry. Negative disables LOD.
	LODThreshold int64

	// RemoteRenderingThreshold is the geometry size in bytes from which
	// rendering moves to the server.
	RemoteRenderingThreshold int64

	// RemoteRenderingAvailable is false without render servers.
	RemoteRenderingAvailable bool

	// NumberOfPartitions is the number of data partitions.
	NumberOfPartitions int

	MultiClients              bool
	SplitDataAndRenderServers bool

	// InteractiveImageReductionFactor shrinks composited images during
	// interaction. StillImageReductionFactor applies otherwise.
	InteractiveImageReductionFactor int
	StillImageReductionFactor       int

	TileDimensions image.Point
	TileMullions   image.Point

	// DataReplicated marks geometry present in full on every rank, as in
	// CAVE or tile display without distributed data.
	DataReplicated bool

	// PartitionKind selects the orderer for ordered compositing.
	PartitionKind partition.Kind
}

// DefaultConfig returns the defaults for a builtin session.
func DefaultConfig() Config {
	return Config{
		Role:                            RoleBuiltin,
		LODThreshold:                    20 << 20,
		RemoteRenderingThreshold:        20 << 20,
		NumberOfPartitions:              1,
		InteractiveImageReductionFactor: 2,
		StillImageReductionFactor:       1,
		TileDimensions:                  image.Pt(1, 1),
		PartitionKind:                   partition.KindBoxes,
	}
}

// RenderView is one view of the session on one rank.
type RenderView struct {
	cfg    Config
	comm   comm.Communicator
	stream comm.Stream

	reps    map[RepID]Representation
	repIDs  []RepID
	nextRep RepID

	decision, previous Decision
	geometrySize       int64
	lodGeometrySize    int64
	bounds             geom.BoundingBox
	localBounds        geom.BoundingBox

	// Reduced representation flags.
	required, forbidden bool

	partition *partition.Helper
	pass      *composite.Pass
	window    *window.Offscreen
	delegate  composite.Delegate

	syncCounter     uint64
	makingSelection bool
	lastMode        RenderMode

	log *slog.Logger
}

// NewRenderView creates a view over the communicator c of its partition
// peers. A client passes a single-rank communicator. win is the view's
// render target and delegate draws the local geometry.
func NewRenderView(cfg Config, c comm.Communicator, win *window.Offscreen, delegate composite.Delegate) (*RenderView, error) {
	if cfg.MultiClients && cfg.SplitDataAndRenderServers {
		sortlast.Logger().Error("view: unsupported topology",
			"role", cfg.Role, "multi_clients", cfg.MultiClients, "split_servers", cfg.SplitDataAndRenderServers)
		return nil, ErrUnsupportedTopology
	}
	if c == nil {
		g := comm.NewLocalGroup(1)
		c = g.Comm(0)
	}
	v := &RenderView{
		cfg:         cfg,
		comm:        c,
		reps:        make(map[RepID]Representation),
		bounds:      geom.InvalidBox(),
		localBounds: geom.InvalidBox(),
		partition:   partition.NewHelper(cfg.PartitionKind),
		pass:        composite.NewPass(c),
		window:      win,
		delegate:    delegate,
		log:         sortlast.RankLogger(c.Rank()).With("component", "view", "role", cfg.Role.String()),
	}
	v.pass.Delegate = delegate
	v.pass.PartitionHelper = v.partition
	return v, nil
}

// Close releases the compositing context.
func (v *RenderView) Close() {
	v.pass.Close()
}

// Config returns the view configuration.
func (v *RenderView) Config() Config { return v.cfg }

// Communicator returns the partition communicator.
func (v *RenderView) Communicator() comm.Communicator { return v.comm }

// SetStream sets the client/server stream. Only the client and the server
// root rank hold one.
func (v *RenderView) SetStream(s comm.Stream) { v.stream = s }

// Window returns the render target.
func (v *RenderView) Window() *window.Offscreen { return v.window }

// Pass returns the compositing pass.
func (v *RenderView) Pass() *composite.Pass { return v.pass }

// Partition returns the partition ordering used for ordered compositing
// and for redistributing data.
func (v *RenderView) Partition() *partition.Helper { return v.partition }

// AddRepresentation adds r to the view and returns its handle.
func (v *RenderView) AddRepresentation(r Representation) RepID {
	id := v.nextRep
	v.nextRep++
	v.reps[id] = r
	v.repIDs = append(v.repIDs, id)
	return id
}

// RemoveRepresentation removes a representation. Unknown ids are ignored.
func (v *RenderView) RemoveRepresentation(id RepID) {
	delete(v.reps, id)
	v.repIDs = slices.DeleteFunc(v.repIDs, func(x RepID) bool { return x == id })
}

// Representation looks up a representation by handle.
func (v *RenderView) Representation(id RepID) (Representation, bool) {
	r, ok := v.reps[id]
	return r, ok
}

// representations returns the representations in insertion order.
func (v *RenderView) representations() []Representation {
	out := make([]Representation, 0, len(v.repIDs))
	for _, id := range v.repIDs {
		out = append(out, v.reps[id])
	}
	return out
}

// Decision returns the decision of the last Update or SynchronizeDecision.
func (v *RenderView) Decision() Decision { return v.decision }

// PreviousDecision returns the decision before the last Update.
func (v *RenderView) PreviousDecision() Decision { return v.previous }

// GeometrySize returns the full geometry size summed over all ranks.
func (v *RenderView) GeometrySize() int64 { return v.geometrySize }

// LODGeometrySize returns the level-of-detail geometry size summed over
// all ranks.
func (v *RenderView) LODGeometrySize() int64 { return v.lodGeometrySize }

// Bounds returns the union of the visible geometry of all ranks.
func (v *RenderView) Bounds() geom.BoundingBox { return v.bounds }

// SetSynchronizationCounter sets the data delivery counter compared by
// TestCollaborationCounter.
func (v *RenderView) SetSynchronizationCounter(n uint64) { v.syncCounter = n }

// LastRenderMode returns the mode of the last Render.
func (v *RenderView) LastRenderMode() RenderMode { return v.lastMode }
