// Package report renders tuning results for people: PNG charts of basal
// schedules and text sparklines for the terminal.
package report

import (
	"fmt"
	"image/color"
	"image/png"
	"io"
	"slices"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/mrcode/nightscout-autotune/internal/models"
)

const secondsPerDay = 24 * 3600

// Options controls the chart size and caption
type Options struct {
	Width  int
	Height int
	Title  string
}

// DefaultOptions returns a 960x420 chart
func DefaultOptions() Options {
	return Options{Width: 960, Height: 420, Title: "Basal profile"}
}

const (
	colorBackground = "#ffffff"
	colorGrid       = "#e5e7eb"
	colorAxis       = "#374151"
	colorBefore     = "#9ca3af"
	colorAfter      = "#2563eb"
)

// RenderBasal draws the basal schedules of before and after as step curves
// over one day and writes the chart to w as PNG.
func RenderBasal(w io.Writer, before, after models.ProfileStore, opts Options) error {
	def := DefaultOptions()
	if opts.Width <= 0 {
		opts.Width = def.Width
	}
	if opts.Height <= 0 {
		opts.Height = def.Height
	}
	if opts.Width < 200 || opts.Height < 120 {
		return fmt.Errorf("chart too small: %dx%d", opts.Width, opts.Height)
	}

	dc := gg.NewContext(opts.Width, opts.Height)
	setHex(dc, colorBackground)
	dc.Clear()

	if err := loadFont(dc, 14); err != nil {
		return fmt.Errorf("loading font: %w", err)
	}

	const (
		left   = 56.0
		right  = 24.0
		top    = 48.0
		bottom = 40.0
	)
	plot := frame{
		x:      left,
		y:      top,
		width:  float64(opts.Width) - left - right,
		height: float64(opts.Height) - top - bottom,
		max:    niceMax(maxRate(before.Basal, after.Basal)),
	}

	drawGrid(dc, plot)

	dc.SetLineWidth(2)
	setHex(dc, colorBefore)
	drawSteps(dc, plot, before.Basal)
	dc.SetLineWidth(3)
	setHex(dc, colorAfter)
	drawSteps(dc, plot, after.Basal)

	setHex(dc, colorAxis)
	if opts.Title != "" {
		dc.DrawStringAnchored(opts.Title, float64(opts.Width)/2, top/2, 0.5, 0.5)
	}
	drawLegend(dc, plot)

	if err := png.Encode(w, dc.Image()); err != nil {
		return fmt.Errorf("encoding chart: %w", err)
	}
	return nil
}

// frame is the plotting area in pixels and its value range in U/h
type frame struct {
	x, y, width, height float64
	max                 float64
}

func (f frame) px(seconds int) float64 {
	return f.x + f.width*float64(seconds)/secondsPerDay
}

func (f frame) py(rate float64) float64 {
	return f.y + f.height - f.height*rate/f.max
}

func drawGrid(dc *gg.Context, f frame) {
	dc.SetLineWidth(1)
	for h := 0; h <= 24; h++ {
		x := f.px(h * 3600)
		setHex(dc, colorGrid)
		dc.DrawLine(x, f.y, x, f.y+f.height)
		dc.Stroke()
		if h%3 == 0 {
			setHex(dc, colorAxis)
			dc.DrawStringAnchored(fmt.Sprintf("%02d", h), x, f.y+f.height+16, 0.5, 0.5)
		}
	}

	step := f.max / 4
	for i := 0; i <= 4; i++ {
		rate := step * float64(i)
		y := f.py(rate)
		setHex(dc, colorGrid)
		dc.DrawLine(f.x, y, f.x+f.width, y)
		dc.Stroke()
		setHex(dc, colorAxis)
		dc.DrawStringAnchored(fmt.Sprintf("%.2f", rate), f.x-8, y, 1, 0.5)
	}
}

// drawSteps plots a schedule whose values hold until the next slot and the
// last slot until midnight
func drawSteps(dc *gg.Context, f frame, schedule []models.ScheduleEntry) {
	if len(schedule) == 0 {
		return
	}
	sorted := slices.Clone(schedule)
	slices.SortStableFunc(sorted, func(a, b models.ScheduleEntry) int {
		return a.TimeAsSeconds - b.TimeAsSeconds
	})

	// the value before the first slot wraps around from the previous day
	prev := sorted[len(sorted)-1].Value
	dc.MoveTo(f.px(0), f.py(prev))
	for _, e := range sorted {
		x := f.px(e.TimeAsSeconds)
		dc.LineTo(x, f.py(prev))
		dc.LineTo(x, f.py(e.Value))
		prev = e.Value
	}
	dc.LineTo(f.px(secondsPerDay), f.py(prev))
	dc.Stroke()
}

func drawLegend(dc *gg.Context, f frame) {
	items := []struct {
		label string
		hex   string
	}{
		{"current", colorBefore},
		{"recommended", colorAfter},
	}
	x := f.x + f.width - 220
	y := f.y - 20
	for _, item := range items {
		setHex(dc, item.hex)
		dc.DrawRectangle(x, y-6, 18, 12)
		dc.Fill()
		setHex(dc, colorAxis)
		dc.DrawStringAnchored(item.label, x+24, y, 0, 0.5)
		x += 110
	}
}

func maxRate(schedules ...[]models.ScheduleEntry) float64 {
	var m float64
	for _, s := range schedules {
		for _, e := range s {
			if e.Value > m {
				m = e.Value
			}
		}
	}
	return m
}

// niceMax rounds the axis ceiling up to the next quarter unit above m
func niceMax(m float64) float64 {
	if m <= 0 {
		return 1
	}
	return float64(int(m*4)+1) / 4
}

// loadFont helper to load font safely
func loadFont(dc *gg.Context, size float64) error {
	font, err := truetype.Parse(goregular.TTF)
	if err != nil {
		return err
	}
	dc.SetFontFace(truetype.NewFace(font, &truetype.Options{Size: size}))
	return nil
}

func setHex(dc *gg.Context, hex string) {
	r, g, b := parseHexColor(hex)
	dc.SetColor(color.RGBA{R: r, G: g, B: b, A: 0xff})
}

// parseHexColor parses a hex color string to RGB values
func parseHexColor(hex string) (r, g, b byte) {
	if len(hex) == 7 && hex[0] == '#' {
		_, _ = fmt.Sscanf(hex, "#%02x%02x%02x", &r, &g, &b)
	}
	return
}
