// Cover image transcoding: decode whatever the source serves, downscale by
// width and re-encode as WebP for the storage bucket.
package main

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"strings"

	"github.com/HugoSmits86/nativewebp"
	_ "golang.org/x/image/bmp"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const webpContentType = "image/webp"

var errUnsupportedImage = errors.New("unsupported image format")

type transcodeOpts struct {
	maxWidth int
}

// resize downscales an image using BiLinear resampling.
func resize(src image.Image, dstW, dstH int) *image.NRGBA {
	dst := image.NewNRGBA(image.Rect(0, 0, dstW, dstH))
	xdraw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Over, nil)
	return dst
}

func toNRGBA(src image.Image) *image.NRGBA {
	if n, ok := src.(*image.NRGBA); ok && n.Bounds().Min == (image.Point{}) {
		return n
	}
	b := src.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	return dst
}

// transcodeToWebP decodes data and returns it WebP-encoded, downscaled so
// that it is at most opts.maxWidth wide. Animated GIFs keep their first frame.
func transcodeToWebP(data []byte, mime string, opts transcodeOpts) ([]byte, error) {
	// No Go decoders for these.
	if strings.Contains(mime, "svg") || strings.Contains(mime, "avif") {
		return nil, fmt.Errorf("%w: %s", errUnsupportedImage, mime)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return nil, fmt.Errorf("%w: %s", errUnsupportedImage, mime)
		}
		return nil, fmt.Errorf("decoding %s image: %w", mime, err)
	}

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("decoding %s image: empty bounds", format)
	}

	var out *image.NRGBA
	if opts.maxWidth > 0 && w > opts.maxWidth {
		ratio := float64(opts.maxWidth) / float64(w)
		newH := int(math.Round(float64(h) * ratio))
		if newH < 1 {
			newH = 1
		}
		out = resize(img, opts.maxWidth, newH)
	} else {
		out = toNRGBA(img)
	}

	var buf bytes.Buffer
	if err := nativewebp.Encode(&buf, out, nil); err != nil {
		return nil, fmt.Errorf("encoding webp: %w", err)
	}
	return buf.Bytes(), nil
}
