// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package session

import (
	"errors"
	"fmt"
	"image"
	"io"
	"os"

	"github.com/gogpu/gputypes"
	"github.com/pelletier/go-toml/v2"

	"github.com/gogpu/sortlast/icet"
	"github.com/gogpu/sortlast/layout"
	"github.com/gogpu/sortlast/partition"
	"github.com/gogpu/sortlast/view"
)

// ErrInvalidConfig is returned for a configuration that cannot run.
var ErrInvalidConfig = errors.New("session: invalid configuration")

// Config is the session configuration, usually read from a TOML file.
type Config struct {
	// Role is the process role: builtin, client, server, data-server,
	// render-server or batch.
	Role string `toml:"role"`

	// Ranks is the number of ranks of the server partition.
	Ranks int `toml:"ranks"`

	WindowSize     [2]int `toml:"window_size"`
	TileDimensions [2]int `toml:"tile_dimensions"`
	TileMullions   [2]int `toml:"tile_mullions"`
	ShowExtraRanks bool   `toml:"show_extra_ranks"`

	// Cave is the path of a .pvx display configuration. It selects the
	// CAVE layout.
	Cave string `toml:"cave"`

	LODThreshold                    int64 `toml:"lod_threshold"`
	RemoteRenderingThreshold        int64 `toml:"remote_rendering_threshold"`
	RemoteRenderingAvailable        bool  `toml:"remote_rendering_available"`
	InteractiveImageReductionFactor int   `toml:"interactive_image_reduction_factor"`
	MultiClients                    bool  `toml:"multi_clients"`
	SplitDataAndRenderServers       bool  `toml:"split_data_and_render_servers"`
	DataReplicated                  bool  `toml:"data_replicated"`

	// Partition is the ordering used for ordered compositing: boxes
	// (distance order) or kdtree (split-plane visibility order).
	Partition string `toml:"partition"`

	Compression      bool `toml:"compression"`
	CompressionLevel int  `toml:"compression_level"`
	Interlace        bool `toml:"interlace"`

	Background [4]float64 `toml:"background"`
}

// DefaultConfig returns the configuration of a single-process session.
func DefaultConfig() Config {
	v := view.DefaultConfig()
	return Config{
		Role:                            v.Role.String(),
		Ranks:                           1,
		WindowSize:                      [2]int{800, 600},
		TileDimensions:                  [2]int{1, 1},
		LODThreshold:                    v.LODThreshold,
		RemoteRenderingThreshold:        v.RemoteRenderingThreshold,
		InteractiveImageReductionFactor: v.InteractiveImageReductionFactor,
		Partition:                       v.PartitionKind.String(),
		Compression:                     true,
		CompressionLevel:                1,
		Background:                      [4]float64{0.32, 0.34, 0.43, 1},
	}
}

// LoadConfig reads a TOML configuration file over the defaults.
func LoadConfig(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("session: %w", err)
	}
	defer f.Close()
	return ParseConfig(f)
}

// ParseConfig reads a TOML configuration over the defaults. Unknown keys
// are an error.
func ParseConfig(r io.Reader) (Config, error) {
	cfg := DefaultConfig()
	if err := toml.NewDecoder(r).DisallowUnknownFields().Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("session: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Encode writes cfg as TOML.
func (c Config) Encode(w io.Writer) error {
	return toml.NewEncoder(w).Encode(c)
}

// Validate checks that the configuration can run.
func (c Config) Validate() error {
	if _, err := view.ParseProcessRole(c.Role); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if _, err := parsePartition(c.Partition); err != nil {
		return err
	}
	switch {
	case c.Ranks < 1:
		return fmt.Errorf("%w: ranks = %d", ErrInvalidConfig, c.Ranks)
	case c.WindowSize[0] <= 0 || c.WindowSize[1] <= 0:
		return fmt.Errorf("%w: window size %v", ErrInvalidConfig, c.WindowSize)
	case c.TileDimensions[0] < 1 || c.TileDimensions[1] < 1:
		return fmt.Errorf("%w: tile dimensions %v", ErrInvalidConfig, c.TileDimensions)
	case c.TileMullions[0] < 0 || c.TileMullions[1] < 0:
		return fmt.Errorf("%w: tile mullions %v", ErrInvalidConfig, c.TileMullions)
	case c.CompressionLevel < 1 || c.CompressionLevel > 22:
		return fmt.Errorf("%w: compression level %d", ErrInvalidConfig, c.CompressionLevel)
	}
	return nil
}

func parsePartition(s string) (partition.Kind, error) {
	for _, k := range []partition.Kind{partition.KindKdTree, partition.KindBoxes} {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: partition %q", ErrInvalidConfig, s)
}

// WindowPoint returns the window size.
func (c Config) WindowPoint() image.Point { return image.Pt(c.WindowSize[0], c.WindowSize[1]) }

// BackgroundColor returns the background as a color.
func (c Config) BackgroundColor() gputypes.Color {
	b := c.Background
	return gputypes.Color{R: b[0], G: b[1], B: b[2], A: b[3]}
}

// ViewConfig returns the render view configuration.
func (c Config) ViewConfig() (view.Config, error) {
	role, err := view.ParseProcessRole(c.Role)
	if err != nil {
		return view.Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	kind, err := parsePartition(c.Partition)
	if err != nil {
		return view.Config{}, err
	}
	v := view.DefaultConfig()
	v.Role = role
	v.LODThreshold = c.LODThreshold
	v.RemoteRenderingThreshold = c.RemoteRenderingThreshold
	v.RemoteRenderingAvailable = c.RemoteRenderingAvailable
	v.NumberOfPartitions = c.Ranks
	v.MultiClients = c.MultiClients
	v.SplitDataAndRenderServers = c.SplitDataAndRenderServers
	v.InteractiveImageReductionFactor = c.InteractiveImageReductionFactor
	v.TileDimensions = image.Pt(c.TileDimensions[0], c.TileDimensions[1])
	v.TileMullions = image.Pt(c.TileMullions[0], c.TileMullions[1])
	v.DataReplicated = c.DataReplicated || c.Cave != ""
	v.PartitionKind = kind
	return v, nil
}

// LayoutConfig returns the layout configuration of rank.
func (c Config) LayoutConfig(rank int) layout.Config {
	l := layout.Config{
		Mode:           layout.ModeDefault,
		Rank:           rank,
		TileDimensions: image.Pt(c.TileDimensions[0], c.TileDimensions[1]),
		TileMullions:   image.Pt(c.TileMullions[0], c.TileMullions[1]),
		ShowExtraRanks: c.ShowExtraRanks,
		DisplayResults: true,
	}
	switch {
	case c.Cave != "":
		l.Mode = layout.ModeCAVE
	case c.TileDimensions[0]*c.TileDimensions[1] > 1:
		l.Mode = layout.ModeTileDisplay
	}
	return l
}

// CompositorState returns the compositor tuning.
func (c Config) CompositorState() icet.State {
	s := icet.DefaultState()
	s.Compression = c.Compression
	s.CompressionLevel = c.CompressionLevel
	s.Interlace = c.Interlace
	return s
}
