// Command sortlast runs an in-process sort-last rendering session.
//
// Every rank owns one slab of a synthetic box scene. The ranks decide
// together how to render, composite their partial images, and the result
// of the display ranks is written to PNG.
//
// With -serve the ranks form a render server that waits for one client on
// a websocket; with -connect the process is that client. The client sends
// its render decision, the server ranks composite, and the server root
// sends the image back to the client.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image"
	"image/draw"
	"log"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/gogpu/gg"
	"golang.org/x/sync/errgroup"

	"github.com/gogpu/sortlast/comm"
	"github.com/gogpu/sortlast/geom"
	"github.com/gogpu/sortlast/internal/boxscene"
	"github.com/gogpu/sortlast/layout"
	"github.com/gogpu/sortlast/session"
	"github.com/gogpu/sortlast/tiles"
	"github.com/gogpu/sortlast/view"
	"github.com/gogpu/sortlast/window"
)

func main() {
	var (
		configPath  = flag.String("config", "", "session config file (TOML)")
		ranks       = flag.Int("ranks", 0, "number of ranks (overrides config)")
		role        = flag.String("role", "", "process role (overrides config)")
		tileDims    = flag.String("tiles", "", "tile grid, e.g. 2x1 (overrides config)")
		size        = flag.String("size", "", "window size, e.g. 800x600 (overrides config)")
		translucent = flag.Bool("translucent", false, "draw translucent boxes (ordered compositing)")
		interactive = flag.Bool("interactive", false, "render an interactive frame")
		viewport    = flag.String("viewport", "", "view viewport x0,y0,x1,y1 (default whole window)")
		serveAddr   = flag.String("serve", "", "serve the render job on addr and wait for one client")
		connectURL  = flag.String("connect", "", "render as the client of a server, e.g. ws://host:port/stream")
		output      = flag.String("output", "wall.png", "output file")
		verbose     = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	cfg := session.DefaultConfig()
	cfg.Role = view.RoleBatch.String()
	cfg.RemoteRenderingAvailable = true
	cfg.RemoteRenderingThreshold = 0
	if *configPath != "" {
		var err error
		if cfg, err = session.LoadConfig(*configPath); err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	}
	switch {
	case *serveAddr != "" && *connectURL != "":
		log.Fatalf("Invalid flags: -serve and -connect are exclusive")
	case *serveAddr != "":
		cfg.Role = view.RoleServer.String()
	case *connectURL != "":
		cfg.Role = view.RoleClient.String()
	}
	if err := applyFlags(&cfg, *ranks, *role, *tileDims, *size); err != nil {
		log.Fatalf("Invalid flags: %v", err)
	}
	fo := frameOptions{translucent: *translucent, interactive: *interactive, viewport: geom.FullViewport}
	if *viewport != "" {
		vp, err := parseViewport(*viewport)
		if err != nil {
			log.Fatalf("Invalid flags: %v", err)
		}
		fo.viewport = vp
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var frames []*image.RGBA
	var err error
	switch {
	case *connectURL != "":
		var frame *image.RGBA
		frame, err = connect(ctx, *connectURL, cfg, fo, logger)
		frames = []*image.RGBA{frame}
	case *serveAddr != "":
		var ln net.Listener
		if ln, err = net.Listen("tcp", *serveAddr); err != nil {
			log.Fatalf("Failed to listen: %v", err)
		}
		frames, err = serve(ctx, ln, cfg, fo, logger)
	default:
		frames, err = run(cfg, fo, nil, logger)
	}
	if err != nil {
		if errors.Is(err, view.ErrUnsupportedTopology) {
			log.Printf("Unsupported process topology: %v", err)
			os.Exit(2)
		}
		log.Fatalf("Render failed: %v", err)
	}

	if *connectURL != "" {
		err = save(*output, frames[0])
	} else {
		err = write(*output, cfg, frames)
	}
	if err != nil {
		log.Fatalf("Failed to save: %v", err)
	}
	log.Printf("Frame saved to %s (%d ranks, %s)\n", *output, cfg.Ranks, cfg.LayoutConfig(0).Mode)
}

func applyFlags(cfg *session.Config, ranks int, role, tileDims, size string) error {
	if ranks > 0 {
		cfg.Ranks = ranks
	}
	if role != "" {
		cfg.Role = role
	}
	if tileDims != "" {
		p, err := parseSize(tileDims)
		if err != nil {
			return err
		}
		cfg.TileDimensions = [2]int{p.X, p.Y}
	}
	if size != "" {
		p, err := parseSize(size)
		if err != nil {
			return err
		}
		cfg.WindowSize = [2]int{p.X, p.Y}
	}
	return cfg.Validate()
}

// parseSize parses "WxH".
func parseSize(s string) (image.Point, error) {
	var p image.Point
	w, h, ok := strings.Cut(strings.ToLower(s), "x")
	if !ok {
		return p, fmt.Errorf("size %q: want WxH", s)
	}
	if _, err := fmt.Sscan(w, &p.X); err != nil {
		return p, fmt.Errorf("size %q: %w", s, err)
	}
	if _, err := fmt.Sscan(h, &p.Y); err != nil {
		return p, fmt.Errorf("size %q: %w", s, err)
	}
	if p.X <= 0 || p.Y <= 0 {
		return p, fmt.Errorf("size %q: must be positive", s)
	}
	return p, nil
}

// parseViewport parses "x0,y0,x1,y1" in normalized window coordinates.
func parseViewport(s string) (geom.Viewport, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return geom.Viewport{}, fmt.Errorf("viewport %q: want x0,y0,x1,y1", s)
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return geom.Viewport{}, fmt.Errorf("viewport %q: %w", s, err)
		}
		if f < 0 || f > 1 {
			return geom.Viewport{}, fmt.Errorf("viewport %q: %g outside [0,1]", s, f)
		}
		v[i] = f
	}
	vp := geom.Viewport{XMin: v[0], YMin: v[1], XMax: v[2], YMax: v[3]}
	if vp.IsEmpty() {
		return geom.Viewport{}, fmt.Errorf("viewport %q: empty", s)
	}
	return vp, nil
}

// frameOptions selects what one frame shows.
type frameOptions struct {
	translucent bool
	interactive bool
	viewport    geom.Viewport
}

// run renders one frame on every rank and returns the shared window of
// each rank. A non-nil stream links the root rank to a client.
func run(cfg session.Config, fo frameOptions, stream comm.Stream, logger *slog.Logger) ([]*image.RGBA, error) {
	g := comm.NewLocalGroup(cfg.Ranks)
	defer g.Close()

	frames := make([]*image.RGBA, cfg.Ranks)
	err := comm.RunAll(g.Comms(), func(c comm.Communicator) error {
		var s comm.Stream
		if c.Rank() == comm.Root {
			s = stream
		}
		frame, err := renderRank(c, cfg, fo, s,
			session.WithRank(c.Rank()), session.WithLogger(logger))
		if err != nil {
			return err
		}
		frames[c.Rank()] = frame
		return nil
	})
	return frames, err
}

func renderRank(c comm.Communicator, cfg session.Config, fo frameOptions, stream comm.Stream, opts ...session.Option) (*image.RGBA, error) {
	proc, err := session.New(cfg, opts...)
	if err != nil {
		return nil, err
	}
	defer proc.Close()

	vcfg, err := cfg.ViewConfig()
	if err != nil {
		return nil, err
	}
	scene := boxscene.Slab(c.Rank(), c.Size(), fo.translucent)

	win := window.NewOffscreen(cfg.WindowPoint())
	win.SetBackground(cfg.BackgroundColor())
	win.SetSwapBuffers(true)

	v, err := view.NewRenderView(vcfg, c, win, scene)
	if err != nil {
		return nil, err
	}
	defer v.Close()
	if stream != nil {
		v.SetStream(stream)
	}
	v.AddRepresentation(scene)
	v.Pass().Context().Engine().SetState(cfg.CompositorState())

	l, err := proc.NewLayout()
	if err != nil {
		return nil, err
	}
	const viewID layout.ViewID = 0
	if err := l.AddView(viewID, win, fo.viewport); err != nil {
		return nil, err
	}
	if err := l.RequestUpdateLayout(viewID); err != nil {
		return nil, err
	}

	if err := v.Update(); err != nil {
		return nil, err
	}
	if err := v.SynchronizeDecision(); err != nil {
		return nil, err
	}
	frameCamera(win.Camera(), v.Bounds())

	mode, err := v.Render(fo.interactive)
	if err != nil {
		return nil, err
	}
	if c.Rank() == 0 {
		d := v.Decision()
		log.Printf("Rendered %v frame (lod=%v, ordered=%v)", mode, d.UseLOD, d.UseOrderedCompositing)
	}
	if err := l.RequestUpdateDisplay(viewID); err != nil {
		return nil, err
	}
	return l.Capture(), nil
}

// frameCamera looks at b from the front, far enough to see all of it.
func frameCamera(cam *window.Camera, b geom.BoundingBox) {
	if !b.IsValid() {
		return
	}
	center := b.Center()
	cam.FocalPoint = center
	cam.Position = center.Add(mgl64.Vec3{0, 0.3, 1}.Normalize().Mul(2 * b.DiagonalLength()))
	cam.ResetClippingRange(b)
}

// write saves the frames. A tile display is stitched into one wall image;
// a CAVE writes one file per display; otherwise rank 0 holds the frame.
func write(path string, cfg session.Config, frames []*image.RGBA) error {
	switch cfg.LayoutConfig(0).Mode {
	case layout.ModeTileDisplay:
		return save(path, stitch(cfg, frames))
	case layout.ModeCAVE:
		ext := filepath.Ext(path)
		base := strings.TrimSuffix(path, ext)
		var eg errgroup.Group
		for rank, f := range frames {
			eg.Go(func() error {
				return save(fmt.Sprintf("%s-%d%s", base, rank, ext), f)
			})
		}
		return eg.Wait()
	}
	return save(path, frames[0])
}

// stitch places every tile frame on the wall. Mullions stay black.
func stitch(cfg session.Config, frames []*image.RGBA) *image.RGBA {
	h := tiles.NewHelper(
		image.Pt(cfg.TileDimensions[0], cfg.TileDimensions[1]),
		image.Pt(cfg.TileMullions[0], cfg.TileMullions[1]),
		cfg.WindowPoint(),
	)
	wall := h.WallSize()
	dst := image.NewRGBA(image.Rectangle{Max: wall})
	for rank, r := range h.Rects() {
		if rank >= len(frames) || frames[rank] == nil {
			continue
		}
		draw.Draw(dst, geom.FlipY(r, wall.Y), frames[rank], image.Point{}, draw.Src)
	}
	return dst
}

func save(path string, img *image.RGBA) error {
	if img == nil {
		return errors.New("no frame to save")
	}
	dc := gg.NewContextForImage(img)
	defer dc.Close()
	return dc.SavePNG(path)
}
