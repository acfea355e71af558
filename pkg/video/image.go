// Package video holds the render and detection loops of the panoramic
// pipeline together with the collaborators they are built from.
package video

import (
	"fmt"
	"image"
)

// Dim3 is an image size in pixels and channels.
type Dim3 struct {
	Width    int `yaml:"width" json:"width"`
	Height   int `yaml:"height" json:"height"`
	Channels int `yaml:"channels" json:"channels"`
}

// Size returns the byte size of an 8-bit image with these dimensions.
func (d Dim3) Size() int {
	return d.Width * d.Height * d.Channels
}

func (d Dim3) String() string {
	return fmt.Sprintf("%dx%dx%d", d.Width, d.Height, d.Channels)
}

// Image is an 8-bit interleaved image. Three-channel images are BGR, the
// order cameras and OpenCV deliver. HostData is always present once
// allocated; DeviceData mirrors it for accelerated dewarpers.
type Image struct {
	Dim3
	HostData   []byte
	DeviceData []byte

	// Timestamp is the capture time in µs.
	Timestamp uint64
}

// NewImage returns an unallocated image of the given dimensions.
func NewImage(d Dim3) Image {
	return Image{Dim3: d}
}

// View returns an image of width x height that shares this image's memory.
// It panics if the view does not fit.
func (img *Image) View(width, height int) Image {
	d := Dim3{Width: width, Height: height, Channels: img.Channels}
	v := Image{Dim3: d, Timestamp: img.Timestamp}
	v.HostData = img.HostData[:d.Size()]
	if img.DeviceData != nil {
		v.DeviceData = img.DeviceData[:d.Size()]
	}
	return v
}

// Fill sets every pixel to px, which must have Channels entries.
func (img *Image) Fill(px []byte) {
	if len(px) != img.Channels || len(img.HostData) == 0 {
		return
	}
	copy(img.HostData, px)
	for n := len(px); n < len(img.HostData); n *= 2 {
		copy(img.HostData[n:], img.HostData[:n])
	}
}

// CopyFrom copies src's host pixels and timestamp. Dimensions must match.
func (img *Image) CopyFrom(src *Image) error {
	if img.Dim3 != src.Dim3 {
		return fmt.Errorf("copy %v into %v: dimensions differ", src.Dim3, img.Dim3)
	}
	copy(img.HostData, src.HostData)
	img.Timestamp = src.Timestamp
	return nil
}

// ToRGBA converts a BGR or gray image for encoding, reusing dst when it has
// the right bounds.
func (img *Image) ToRGBA(dst *image.RGBA) *image.RGBA {
	if dst == nil || dst.Rect.Dx() != img.Width || dst.Rect.Dy() != img.Height {
		dst = image.NewRGBA(image.Rect(0, 0, img.Width, img.Height))
	}
	ch := img.Channels
	for y := 0; y < img.Height; y++ {
		src := img.HostData[y*img.Width*ch : (y+1)*img.Width*ch]
		row := dst.Pix[y*dst.Stride : y*dst.Stride+img.Width*4]
		for x := 0; x < img.Width; x++ {
			p := src[x*ch : x*ch+ch]
			o := row[x*4 : x*4+4]
			if ch >= 3 {
				o[0], o[1], o[2] = p[2], p[1], p[0]
			} else {
				o[0], o[1], o[2] = p[0], p[0], p[0]
			}
			o[3] = 0xff
		}
	}
	return dst
}
