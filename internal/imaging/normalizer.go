package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"

	"github.com/Brownie44l1/xray-bot/internal/model"
	"github.com/gabriel-vasile/mimetype"
	"github.com/nfnt/resize"
	"github.com/samber/lo"
)

var ErrDecode = errors.New("image decode failed")

// DefaultSize is the edge length the fracture classifier was trained on.
const DefaultSize = 512

// MaxPixels bounds the decoded area; the download cap alone does not bound
// what a well-compressed PNG expands to.
const MaxPixels = 50_000_000

var supportedMIME = []string{"image/jpeg", "image/png"}

// Normalizer maps encoded image bytes to the (1, size, size, 1) tensor the
// classifier consumes.
type Normalizer struct {
	size      uint
	maxPixels int
}

func NewNormalizer(size int) *Normalizer {
	if size <= 0 {
		size = DefaultSize
	}
	return &Normalizer{size: uint(size), maxPixels: MaxPixels}
}

func (n *Normalizer) Size() int {
	return int(n.size)
}

func (n *Normalizer) Normalize(raw []byte) (model.Tensor, error) {
	detected := mimetype.Detect(raw)
	if !lo.ContainsBy(supportedMIME, func(m string) bool { return detected.Is(m) }) {
		return model.Tensor{}, fmt.Errorf("%w: unsupported encoding %s", ErrDecode, detected.String())
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return model.Tensor{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width > n.maxPixels/cfg.Height {
		return model.Tensor{}, fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrDecode, cfg.Width, cfg.Height, n.maxPixels)
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return model.Tensor{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	// Aspect ratio is not preserved, the image is stretched to a square.
	resized := resize.Resize(n.size, n.size, Grayscale(img), resize.Lanczos3)

	return toTensor(resized, int(n.size)), nil
}

// Grayscale converts img to 8-bit luma using the ITU-R 601 weights. Alpha is
// ignored: straight RGB is used for non-premultiplied sources.
func Grayscale(img image.Image) *image.Gray {
	switch src := img.(type) {
	case *image.Gray:
		return src
	case *image.NRGBA:
		return grayFromNRGBA(src)
	}
	bounds := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(gray, gray.Bounds(), img, bounds.Min, draw.Src)
	return gray
}

func grayFromNRGBA(src *image.NRGBA) *image.Gray {
	bounds := src.Bounds()
	gray := image.NewGray(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	for y := 0; y < bounds.Dy(); y++ {
		row := src.Pix[y*src.Stride : y*src.Stride+bounds.Dx()*4]
		for x := 0; x < bounds.Dx(); x++ {
			r, g, b := uint32(row[x*4]), uint32(row[x*4+1]), uint32(row[x*4+2])
			// Same weights and rounding as color.GrayModel, on 8-bit channels.
			gray.Pix[y*gray.Stride+x] = uint8((19595*r + 38470*g + 7471*b + 1<<15) >> 16)
		}
	}
	return gray
}

func toTensor(img image.Image, size int) model.Tensor {
	data := make([]float32, size*size)
	bounds := img.Bounds()

	gray, isGray := img.(*image.Gray)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			px := bounds.Min.X + x
			py := bounds.Min.Y + y
			if isGray {
				data[y*size+x] = float32(gray.GrayAt(px, py).Y)
				continue
			}
			data[y*size+x] = float32(color.GrayModel.Convert(img.At(px, py)).(color.Gray).Y)
		}
	}

	return model.Tensor{
		Shape: []int64{1, int64(size), int64(size), 1},
		Data:  data,
	}
}
