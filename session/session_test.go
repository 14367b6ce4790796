package session

import (
	"bytes"
	"errors"
	"image"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gogpu/sortlast/cave"
	"github.com/gogpu/sortlast/layout"
	"github.com/gogpu/sortlast/partition"
	"github.com/gogpu/sortlast/view"
)

// =============================================================================
// Config
// =============================================================================

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
	if cfg.Role != "builtin" {
		t.Errorf("Role = %q, want builtin", cfg.Role)
	}
	if cfg.Partition != "boxes" {
		t.Errorf("Partition = %q, want boxes", cfg.Partition)
	}
}

func TestParseConfig(t *testing.T) {
	src := `
role = "server"
ranks = 4
window_size = [400, 300]
tile_dimensions = [2, 1]
tile_mullions = [10, 0]
partition = "kdtree"
remote_rendering_available = true
compression_level = 3
background = [0, 0, 0, 1]
`
	cfg, err := ParseConfig(strings.NewReader(src))
	if err != nil {
		t.Fatalf("ParseConfig() error = %v", err)
	}
	if cfg.Ranks != 4 {
		t.Errorf("Ranks = %d, want 4", cfg.Ranks)
	}
	if got := cfg.WindowPoint(); got != image.Pt(400, 300) {
		t.Errorf("WindowPoint() = %v, want (400,300)", got)
	}
	// Keys absent from the file keep their defaults.
	if cfg.LODThreshold != DefaultConfig().LODThreshold {
		t.Errorf("LODThreshold = %d, want default", cfg.LODThreshold)
	}
	if bg := cfg.BackgroundColor(); bg.R != 0 || bg.A != 1 {
		t.Errorf("BackgroundColor() = %+v", bg)
	}

	v, err := cfg.ViewConfig()
	if err != nil {
		t.Fatalf("ViewConfig() error = %v", err)
	}
	if v.Role != view.RoleServer {
		t.Errorf("view Role = %v, want server", v.Role)
	}
	if v.PartitionKind != partition.KindKdTree {
		t.Errorf("PartitionKind = %v, want kdtree", v.PartitionKind)
	}
	if v.NumberOfPartitions != 4 {
		t.Errorf("NumberOfPartitions = %d, want 4", v.NumberOfPartitions)
	}
	if v.TileDimensions != image.Pt(2, 1) || v.TileMullions != image.Pt(10, 0) {
		t.Errorf("tiles = %v %v", v.TileDimensions, v.TileMullions)
	}

	s := cfg.CompositorState()
	if !s.Compression || s.CompressionLevel != 3 {
		t.Errorf("CompositorState() = %+v", s)
	}
}

func TestParseConfig_Errors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"unknown key", `bogus = 1`},
		{"bad role", `role = "viewer"`},
		{"bad partition", `partition = "octree"`},
		{"no ranks", `ranks = 0`},
		{"empty window", `window_size = [0, 10]`},
		{"bad tiles", `tile_dimensions = [0, 1]`},
		{"negative mullions", `tile_mullions = [-1, 0]`},
		{"bad level", `compression_level = 30`},
		{"syntax", `role = `},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseConfig(strings.NewReader(tt.src)); err == nil {
				t.Errorf("ParseConfig(%q) error = nil, want error", tt.src)
			}
		})
	}
}

func TestConfig_EncodeRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Ranks = 3
	cfg.TileDimensions = [2]int{3, 1}

	var buf bytes.Buffer
	if err := cfg.Encode(&buf); err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	got, err := ParseConfig(&buf)
	if err != nil {
		t.Fatalf("ParseConfig() error = %v", err)
	}
	if got != cfg {
		t.Errorf("round trip = %+v, want %+v", got, cfg)
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.toml")
	if err := os.WriteFile(path, []byte("ranks = 2\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Ranks != 2 {
		t.Errorf("Ranks = %d, want 2", cfg.Ranks)
	}
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("LoadConfig(missing) error = nil")
	}
}

func TestConfig_LayoutConfig(t *testing.T) {
	tests := []struct {
		name  string
		tiles [2]int
		cave  string
		want  layout.Mode
	}{
		{"default", [2]int{1, 1}, "", layout.ModeDefault},
		{"tiles", [2]int{2, 2}, "", layout.ModeTileDisplay},
		{"cave wins", [2]int{2, 2}, "walls.pvx", layout.ModeCAVE},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.TileDimensions = tt.tiles
			cfg.Cave = tt.cave
			l := cfg.LayoutConfig(1)
			if l.Mode != tt.want {
				t.Errorf("Mode = %v, want %v", l.Mode, tt.want)
			}
			if l.Rank != 1 {
				t.Errorf("Rank = %d, want 1", l.Rank)
			}
		})
	}
}

func TestConfig_CaveReplicatesData(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Cave = "walls.pvx"
	v, err := cfg.ViewConfig()
	if err != nil {
		t.Fatal(err)
	}
	if !v.DataReplicated {
		t.Error("DataReplicated = false in CAVE mode, want true")
	}
}

// =============================================================================
// Process
// =============================================================================

func TestProcess_LazySharedWindow(t *testing.T) {
	p, err := New(DefaultConfig(), WithRank(0))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if p.shared != nil {
		t.Fatal("shared window created before first use")
	}
	s := p.SharedWindow()
	if s == nil {
		t.Fatal("SharedWindow() = nil")
	}
	if s.Size() != image.Pt(800, 600) {
		t.Errorf("Size() = %v, want (800,600)", s.Size())
	}
	if p.SharedWindow() != s {
		t.Error("SharedWindow() returned a second window")
	}

	if err := p.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if p.SharedWindow() != nil {
		t.Error("SharedWindow() after Close = non-nil")
	}
	if _, err := p.NewLayout(); !errors.Is(err, ErrClosed) {
		t.Errorf("NewLayout() after Close error = %v, want ErrClosed", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestProcess_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Ranks = 0
	if _, err := New(cfg); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("New() error = %v, want ErrInvalidConfig", err)
	}
}

func TestProcess_CaveLayout(t *testing.T) {
	const pvx = `<?xml version="1.0"?>
<pvx>
  <Process Type="server">
    <Machine Name="left" Geometry="6x3+0+0"/>
    <Machine Name="right" Geometry="5x4+6+0"/>
  </Process>
</pvx>`
	path := filepath.Join(t.TempDir(), "walls.pvx")
	if err := os.WriteFile(path, []byte(pvx), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg := DefaultConfig()
	cfg.Ranks = 2
	cfg.Cave = path

	p, err := New(cfg, WithRank(1))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer p.Close()
	if p.Cave() == nil || p.Cave().NumberOfDisplays() != 2 {
		t.Fatalf("Cave() = %+v, want 2 displays", p.Cave())
	}
	l, err := p.NewLayout()
	if err != nil {
		t.Fatalf("NewLayout() error = %v", err)
	}
	if l.Config().Mode != layout.ModeCAVE {
		t.Errorf("Mode = %v, want cave", l.Config().Mode)
	}
	if got := p.SharedWindow().Size(); got != image.Pt(5, 4) {
		t.Errorf("shared Size() = %v, want (5,4)", got)
	}
}

func TestProcess_WithCave(t *testing.T) {
	c := &cave.Configuration{EyeSeparation: cave.DefaultEyeSeparation}
	cfg := DefaultConfig()
	cfg.Cave = "unused.pvx"
	p, err := New(cfg, WithCave(c))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if p.Cave() != c {
		t.Error("Cave() did not return the supplied configuration")
	}
}
