package video

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/teslashibe/go-steno/pkg/geometry"
	"github.com/teslashibe/go-steno/pkg/virtualcam"
)

// DisplayDim is the size of the composed output frame.
var DisplayDim = Dim3{Width: 800, Height: 600, Channels: 3}

// MaxVirtualCameras is the number of views the display can hold.
const MaxVirtualCameras = 5

const borderWidth = 2

var (
	backgroundBGR = []byte{0x20, 0x20, 0x20}
	borderColor   = color.RGBA{R: 0x60, G: 0x60, B: 0x60, A: 0xff}
	speakingColor = color.RGBA{R: 0x20, G: 0xd0, B: 0x40, A: 0xff}
	labelColor    = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
)

// DisplayBuilder lays virtual camera views side by side on the display
// frame, each with the configured aspect ratio (width / height).
type DisplayBuilder struct {
	dim    Dim3
	aspect float64
	labels bool
}

// NewDisplayBuilder creates a builder for a display of dimensions dim.
func NewDisplayBuilder(dim Dim3, aspectRatio float64, labels bool) (*DisplayBuilder, error) {
	if dim.Size() <= 0 || dim.Channels != 3 {
		return nil, fmt.Errorf("%w: display must be a 3-channel image, got %v", ErrInvalidConfig, dim)
	}
	if aspectRatio <= 0 {
		return nil, fmt.Errorf("%w: aspect ratio must be positive", ErrInvalidConfig)
	}
	return &DisplayBuilder{dim: dim, aspect: aspectRatio, labels: labels}, nil
}

// Dim returns the display dimensions.
func (b *DisplayBuilder) Dim() Dim3 {
	return b.dim
}

// VirtualCameraDim returns the view size when n views share the display.
func (b *DisplayBuilder) VirtualCameraDim(n int) Dim3 {
	n = max(n, 1)
	w := b.dim.Width / n
	h := int(float64(w) / b.aspect)
	if h > b.dim.Height {
		h = b.dim.Height
		w = int(float64(h) * b.aspect)
	}
	// Even sizes keep encoders and remap happy.
	return Dim3{Width: w &^ 1, Height: h &^ 1, Channels: b.dim.Channels}
}

// MaxVirtualCameraDim returns the largest view size, used to allocate
// view images once.
func (b *DisplayBuilder) MaxVirtualCameraDim() Dim3 {
	return b.VirtualCameraDim(1)
}

// Clear paints the whole display with the background color.
func (b *DisplayBuilder) Clear(display *Image) {
	display.Fill(backgroundBGR)
}

// Compose copies views onto the display, centered as a row, and frames
// each one. Speaking cameras get a highlighted border. cams must be in the
// same order as views; it may be shorter.
func (b *DisplayBuilder) Compose(display *Image, views []Image, cams []virtualcam.Camera) {
	if len(views) == 0 {
		return
	}
	vd := views[0].Dim3
	x0 := (b.dim.Width - len(views)*vd.Width) / 2
	y0 := (b.dim.Height - vd.Height) / 2
	canvas := bgrCanvas{display}

	for i := range views {
		v := &views[i]
		x := x0 + i*vd.Width
		blit(display, v, x, y0)

		var cam *virtualcam.Camera
		if i < len(cams) {
			cam = &cams[i]
		}
		c := borderColor
		if cam != nil && cam.Speaking {
			c = speakingColor
		}
		drawFrame(canvas, image.Rect(x, y0, x+v.Width, y0+v.Height), c)

		if b.labels && cam != nil {
			drawLabel(canvas, x+4, y0+16, cameraLabel(i, cam))
		}
	}
}

func cameraLabel(i int, cam *virtualcam.Camera) string {
	az := geometry.Degrees(cam.Current.Azimuth)
	if cam.Current.Label != "" {
		return fmt.Sprintf("%d %s %.0f°", i+1, cam.Current.Label, az)
	}
	return fmt.Sprintf("%d %.0f°", i+1, az)
}

func blit(dst, src *Image, x, y int) {
	ch := dst.Channels
	w := min(src.Width, dst.Width-x)
	for row := 0; row < src.Height && y+row < dst.Height; row++ {
		s := src.HostData[row*src.Width*ch : (row*src.Width+w)*ch]
		d := dst.HostData[((y+row)*dst.Width+x)*ch:]
		copy(d[:w*ch], s)
	}
}

func drawFrame(dst draw.Image, r image.Rectangle, c color.Color) {
	src := image.NewUniform(c)
	for _, edge := range []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+borderWidth),
		image.Rect(r.Min.X, r.Max.Y-borderWidth, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+borderWidth, r.Max.Y),
		image.Rect(r.Max.X-borderWidth, r.Min.Y, r.Max.X, r.Max.Y),
	} {
		draw.Draw(dst, edge.Intersect(dst.Bounds()), src, image.Point{}, draw.Src)
	}
}

func drawLabel(dst draw.Image, x, y int, text string) {
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(labelColor),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(text)
}

// bgrCanvas lets image/draw and font drawing write into a BGR Image.
type bgrCanvas struct {
	img *Image
}

func (c bgrCanvas) ColorModel() color.Model { return color.RGBAModel }

func (c bgrCanvas) Bounds() image.Rectangle {
	return image.Rect(0, 0, c.img.Width, c.img.Height)
}

func (c bgrCanvas) At(x, y int) color.Color {
	if !image.Pt(x, y).In(c.Bounds()) {
		return color.RGBA{}
	}
	p := c.img.HostData[(y*c.img.Width+x)*3:]
	return color.RGBA{R: p[2], G: p[1], B: p[0], A: 0xff}
}

func (c bgrCanvas) Set(x, y int, col color.Color) {
	if !image.Pt(x, y).In(c.Bounds()) {
		return
	}
	r, g, b, _ := col.RGBA()
	p := c.img.HostData[(y*c.img.Width+x)*3:]
	p[0], p[1], p[2] = byte(b>>8), byte(g>>8), byte(r>>8)
}
