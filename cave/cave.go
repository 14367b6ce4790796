// Package cave reads display configuration files (.pvx) for immersive and
// multi-screen displays.
//
// A .pvx file is XML. The server process element lists one Machine per
// physical display with its window geometry, screen corners in world space
// and stereo type, plus the eye separation of the viewers:
//
//	<pvx>
//	  <Process Type="server">
//	    <EyeSeparation Value="0.065"/>
//	    <Machine Name="front" Geometry="1024x768+0+0" StereoType="Crystal Eyes"
//	             LowerLeft="-1 -1 -1" LowerRight="1 -1 -1" UpperRight="1 1 -1"/>
//	  </Process>
//	</pvx>
//
// The configuration is read only. Display i is driven by rank i.
package cave

import (
	"encoding/xml"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/gogpu/sortlast"
	"github.com/gogpu/sortlast/window"
)

// Errors returned by Parse.
var (
	ErrNoServer  = errors.New("cave: no server process in configuration")
	ErrGeometry  = errors.New("cave: malformed geometry")
	ErrCorner    = errors.New("cave: malformed screen corner")
	ErrNoDisplay = errors.New("cave: server process lists no machines")
)

// DefaultEyeSeparation is used when the file sets none.
const DefaultEyeSeparation = 0.065

// Display is one physical display.
type Display struct {
	Name        string
	Environment string

	// Geometry is the window rectangle on the display's screen. Empty
	// when the file leaves it to the window system.
	Geometry    image.Rectangle
	FullScreen  bool
	ShowBorders bool
	StereoType  window.StereoType

	// Screen corners in world coordinates. Valid when HasCorners.
	LowerLeft, LowerRight, UpperRight mgl64.Vec3
	HasCorners                        bool

	// Viewer indexes Configuration.Viewers.
	Viewer int
}

// Viewer is a tracked head with its own eye separation.
type Viewer struct {
	ID            int
	EyeSeparation float64
}

// Configuration is a parsed .pvx file.
type Configuration struct {
	EyeSeparation float64
	Displays      []Display
	Viewers       []Viewer
}

// NumberOfDisplays returns the number of displays.
func (c *Configuration) NumberOfDisplays() int { return len(c.Displays) }

// Display returns the display driven by rank.
func (c *Configuration) Display(rank int) (Display, bool) {
	if rank < 0 || rank >= len(c.Displays) {
		return Display{}, false
	}
	return c.Displays[rank], true
}

// IsCAVE reports whether every display defines its screen corners, which
// is what an immersive layout needs.
func (c *Configuration) IsCAVE() bool {
	if len(c.Displays) == 0 {
		return false
	}
	for _, d := range c.Displays {
		if !d.HasCorners {
			return false
		}
	}
	return true
}

// EyeSeparationFor returns the eye separation of the viewer of rank's
// display.
func (c *Configuration) EyeSeparationFor(rank int) float64 {
	d, ok := c.Display(rank)
	if ok {
		for _, v := range c.Viewers {
			if v.ID == d.Viewer {
				return v.EyeSeparation
			}
		}
	}
	return c.EyeSeparation
}

type xmlFile struct {
	XMLName   xml.Name     `xml:"pvx"`
	Processes []xmlProcess `xml:"Process"`
}

type xmlProcess struct {
	Type          string       `xml:"Type,attr"`
	EyeSeparation *xmlValue    `xml:"EyeSeparation"`
	Viewers       []xmlViewer  `xml:"Viewer"`
	Machines      []xmlMachine `xml:"Machine"`
}

type xmlValue struct {
	Value float64 `xml:"Value,attr"`
}

type xmlViewer struct {
	ID            int     `xml:"Id,attr"`
	EyeSeparation float64 `xml:"EyeSeparation,attr"`
}

type xmlMachine struct {
	Name        string `xml:"Name,attr"`
	Environment string `xml:"Environment,attr"`
	Geometry    string `xml:"Geometry,attr"`
	FullScreen  string `xml:"FullScreen,attr"`
	ShowBorders string `xml:"ShowBorders,attr"`
	StereoType  string `xml:"StereoType,attr"`
	LowerLeft   string `xml:"LowerLeft,attr"`
	LowerRight  string `xml:"LowerRight,attr"`
	UpperRight  string `xml:"UpperRight,attr"`
	Viewer      int    `xml:"Viewer,attr"`
}

// Load reads the .pvx file at path.
func Load(path string) (*Configuration, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cave: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads a .pvx document. Unknown stereo types are logged and fall
// back to no stereo.
func Parse(r io.Reader) (*Configuration, error) {
	var doc xmlFile
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("cave: %w", err)
	}

	var server *xmlProcess
	for i := range doc.Processes {
		switch strings.ToLower(doc.Processes[i].Type) {
		case "server", "render-server":
			server = &doc.Processes[i]
		}
	}
	if server == nil {
		return nil, ErrNoServer
	}
	if len(server.Machines) == 0 {
		return nil, ErrNoDisplay
	}

	cfg := &Configuration{EyeSeparation: DefaultEyeSeparation}
	if server.EyeSeparation != nil {
		cfg.EyeSeparation = server.EyeSeparation.Value
	}
	for _, v := range server.Viewers {
		cfg.Viewers = append(cfg.Viewers, Viewer{ID: v.ID, EyeSeparation: v.EyeSeparation})
	}

	for i, m := range server.Machines {
		d, err := parseMachine(m)
		if err != nil {
			return nil, fmt.Errorf("cave: machine %d (%s): %w", i, m.Name, err)
		}
		cfg.Displays = append(cfg.Displays, d)
	}
	return cfg, nil
}

func parseMachine(m xmlMachine) (Display, error) {
	d := Display{
		Name:        m.Name,
		Environment: m.Environment,
		FullScreen:  m.FullScreen == "1",
		ShowBorders: m.ShowBorders == "1",
		Viewer:      m.Viewer,
	}
	if m.Geometry != "" {
		g, err := parseGeometry(m.Geometry)
		if err != nil {
			return d, err
		}
		d.Geometry = g
	}
	if m.StereoType != "" {
		st, ok := window.ParseStereoType(m.StereoType)
		if !ok {
			sortlast.Logger().Warn("cave: unknown stereo type, using none",
				"machine", m.Name, "stereo", m.StereoType)
		}
		d.StereoType = st
	}

	corners := []string{m.LowerLeft, m.LowerRight, m.UpperRight}
	set := 0
	for _, c := range corners {
		if c != "" {
			set++
		}
	}
	if set == 0 {
		return d, nil
	}
	if set != len(corners) {
		return d, fmt.Errorf("%w: all of LowerLeft, LowerRight and UpperRight are needed", ErrCorner)
	}
	var err error
	if d.LowerLeft, err = parseVec3(m.LowerLeft); err != nil {
		return d, err
	}
	if d.LowerRight, err = parseVec3(m.LowerRight); err != nil {
		return d, err
	}
	if d.UpperRight, err = parseVec3(m.UpperRight); err != nil {
		return d, err
	}
	d.HasCorners = true
	return d, nil
}

// parseGeometry parses an X11 geometry string, WxH+X+Y. The offset is
// optional.
func parseGeometry(s string) (image.Rectangle, error) {
	size, offset, _ := strings.Cut(s, "+")
	ws, hs, ok := strings.Cut(size, "x")
	if !ok {
		return image.Rectangle{}, fmt.Errorf("%w: %q", ErrGeometry, s)
	}
	w, err1 := strconv.Atoi(ws)
	h, err2 := strconv.Atoi(hs)
	if err1 != nil || err2 != nil || w <= 0 || h <= 0 {
		return image.Rectangle{}, fmt.Errorf("%w: %q", ErrGeometry, s)
	}
	var x, y int
	if offset != "" {
		xs, ys, ok := strings.Cut(offset, "+")
		if !ok {
			return image.Rectangle{}, fmt.Errorf("%w: %q", ErrGeometry, s)
		}
		var errX, errY error
		x, errX = strconv.Atoi(xs)
		y, errY = strconv.Atoi(ys)
		if errX != nil || errY != nil {
			return image.Rectangle{}, fmt.Errorf("%w: %q", ErrGeometry, s)
		}
	}
	return image.Rect(x, y, x+w, y+h), nil
}

func parseVec3(s string) (mgl64.Vec3, error) {
	f := strings.Fields(s)
	if len(f) != 3 {
		return mgl64.Vec3{}, fmt.Errorf("%w: %q", ErrCorner, s)
	}
	var v mgl64.Vec3
	for i := range v {
		x, err := strconv.ParseFloat(f[i], 64)
		if err != nil {
			return mgl64.Vec3{}, fmt.Errorf("%w: %q", ErrCorner, s)
		}
		v[i] = x
	}
	return v, nil
}
