// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package view

import (
	"fmt"
	"image"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/sortlast/comm"
	"github.com/gogpu/sortlast/composite"
	"github.com/gogpu/sortlast/icet"
	"github.com/gogpu/sortlast/window"
)

// Render draws one frame according to the current decision and returns the
// mode used. Composited modes are collective over the view communicator.
//
// Processes outside the decision's render mask draw nothing. A client in a
// composited mode draws nothing either: with a stream it receives the
// composited image from the server root on comm.TagImage and pastes it
// into its window. On a tile display the image stays on the tiles and the
// client receives nothing.
//
// In a composited mode the ranks first agree that all of them have a
// window and a delegate; when one lacks them, every rank returns
// ErrNoRenderTarget.
func (v *RenderView) Render(interactive bool) (RenderMode, error) {
	d := v.decision
	distributed := d.UseDistributedRendering
	mask := d.StillRenderProcesses
	lod := interactive && d.UseLOD
	if interactive {
		mask = d.InteractiveRenderProcesses
		if d.UseLOD {
			distributed = d.UseDistributedRenderingForLOD
		}
	}

	mode := RenderLocal
	switch {
	case distributed && d.UseOrderedCompositing:
		mode = RenderCompositedOrdered
	case distributed:
		mode = RenderCompositedZ
	}
	v.lastMode = mode

	if mask&v.cfg.Role.mask() == 0 {
		v.log.Debug("not a render process for this frame", "mode", mode)
		return mode, nil
	}
	if mode != RenderLocal && v.cfg.Role == RoleClient {
		return mode, v.receiveImages()
	}
	missing := v.window == nil || v.delegate == nil
	if mode != RenderLocal {
		if err := v.agreeRenderTarget(missing); err != nil {
			return mode, err
		}
	} else if missing {
		return mode, ErrNoRenderTarget
	}

	state := &composite.RenderState{Window: v.window, Props: v.props(), LOD: lod}
	for _, eye := range v.eyes() {
		state.Eye = eye
		var err error
		if mode == RenderLocal {
			err = v.renderLocal(state)
		} else {
			err = v.renderComposited(state, mode, interactive)
			if err == nil {
				err = v.deliverImage()
			}
		}
		if err != nil {
			return mode, err
		}
	}
	return mode, nil
}

// agreeRenderTarget is collective over the view communicator.
func (v *RenderView) agreeRenderTarget(missing bool) error {
	flags, err := v.comm.AllReduce([]float64{b2f(missing)}, comm.OpMax)
	if err != nil {
		return fmt.Errorf("view: reduce render targets: %w", err)
	}
	switch {
	case missing:
		return ErrNoRenderTarget
	case flags[0] != 0:
		return fmt.Errorf("%w on another rank", ErrNoRenderTarget)
	}
	return nil
}

// deliveredImage reports whether composited frames travel to the client.
func (v *RenderView) deliveredImage() bool {
	return v.stream != nil && v.cfg.TileDimensions.X*v.cfg.TileDimensions.Y <= 1
}

// deliverImage sends the composited frame from the server root to the
// client.
func (v *RenderView) deliverImage() error {
	if !v.deliveredImage() || v.comm.Rank() != comm.Root || v.cfg.Role == RoleClient {
		return nil
	}
	rgba := v.pass.LastRenderedRGBA()
	if rgba == nil {
		return nil
	}
	img := icet.NewImage(rgba.Rect.Dx(), rgba.Rect.Dy(), gputypes.TextureFormatRGBA8Unorm, gputypes.TextureFormatUndefined)
	for y := range img.Height {
		copy(img.Color[4*img.Width*y:4*img.Width*(y+1)], rgba.Pix[rgba.PixOffset(rgba.Rect.Min.X, rgba.Rect.Min.Y+y):])
	}
	level := 0
	if st := v.pass.Context().Engine().State(); st.Compression {
		level = st.CompressionLevel
	}
	msg, err := icet.EncodeImage(img, level)
	if err != nil {
		return fmt.Errorf("view: encode delivered image: %w", err)
	}
	if err := v.stream.Send(comm.TagImage, msg); err != nil {
		return fmt.Errorf("view: deliver image: %w", err)
	}
	return nil
}

// receiveImages receives one composited frame per eye on the client.
func (v *RenderView) receiveImages() error {
	if !v.deliveredImage() {
		return nil
	}
	eyes := []window.Eye{window.EyeLeft}
	if v.window != nil {
		eyes = v.eyes()
	}
	for _, eye := range eyes {
		msg, err := v.stream.Recv(comm.TagImage)
		if err != nil {
			return fmt.Errorf("view: receive delivered image: %w", err)
		}
		img, err := icet.DecodeImage(msg)
		if err != nil {
			return fmt.Errorf("view: decode delivered image: %w", err)
		}
		if v.window != nil && v.window.SwapBuffers() {
			v.window.PasteColor(img.RGBA(), eye)
		}
	}
	return nil
}

func (v *RenderView) eyes() []window.Eye {
	if v.window.StereoRender() {
		return []window.Eye{window.EyeLeft, window.EyeRight}
	}
	return []window.Eye{window.EyeLeft}
}

func (v *RenderView) props() []composite.Prop {
	var props []composite.Prop
	for _, r := range v.representations() {
		p := composite.Prop{Bounds: r.Bounds(), Visible: r.Visible()}
		if a, ok := r.(AxesRepresentation); ok {
			p.Axes = a.Axes()
		}
		props = append(props, p)
	}
	return props
}

// renderLocal draws the whole window on this process.
func (v *RenderView) renderLocal(state *composite.RenderState) error {
	win := v.window
	size := win.Size()
	img := icet.NewImage(size.X, size.Y, gputypes.TextureFormatRGBA8Unorm, gputypes.TextureFormatDepth32Float)
	img.Clear()

	cam := win.Camera()
	state.Target, state.Tile = img, image.Rectangle{Max: size}
	state.ModelView, state.Background = cam.ModelView(), win.Background()
	defer func() { state.Target = nil }()

	if err := v.delegate.Render(state); err != nil {
		return fmt.Errorf("view: local render: %w", err)
	}
	if !win.SwapBuffers() {
		return nil
	}
	img.ApplyBackground(win.Background())
	win.PasteColor(img.RGBA(), state.Eye)
	return win.PasteDepth(img.Depth, size)
}

// renderComposited draws this rank's share and composites it.
func (v *RenderView) renderComposited(state *composite.RenderState, mode RenderMode, interactive bool) error {
	p := v.pass
	factor := v.cfg.StillImageReductionFactor
	if interactive {
		factor = v.cfg.InteractiveImageReductionFactor
	}
	factor = max(factor, 1)
	swap := v.window.SwapBuffers()

	p.TileDimensions = v.cfg.TileDimensions
	p.TileMullions = v.cfg.TileMullions
	p.ImageReductionFactor = factor
	p.UseOrderedCompositing = mode == RenderCompositedOrdered
	p.DataReplicatedOnAllProcesses = v.cfg.DataReplicated
	p.RenderEmptyImages = v.decision.RenderEmptyImages
	p.DisplayRGBAResults = swap
	p.DisplayDepthResults = swap && factor == 1 && mode == RenderCompositedZ

	if err := p.Render(state); err != nil {
		return err
	}
	p.DisplayResultsIfNeeded(v.window, state.Eye)
	return nil
}

// MakingSelection reports whether a selection is running.
func (v *RenderView) MakingSelection() bool { return v.makingSelection }

// Select runs fn as a selection. Buffer swaps are suppressed while it runs
// so the last frame stays on screen during the selection renders.
func (v *RenderView) Select(fn func() error) error {
	if v.makingSelection {
		return ErrSelectionInProgress
	}
	v.makingSelection = true
	swap := true
	if v.window != nil {
		swap = v.window.SwapBuffers()
		v.window.SetSwapBuffers(false)
	}
	defer func() {
		v.makingSelection = false
		if v.window != nil {
			v.window.SetSwapBuffers(swap)
		}
	}()
	return fn()
}
