package resize

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"os"

	"github.com/jonesrussell/img-proxy/internal/normalizer"
)

// decodeAndTransform loads the image at path, applies the still/width/
// height transform described by opts, and writes the result back to the
// same path. It returns the new file size.
func decodeAndTransform(path string, opts normalizer.Options) (int64, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	img, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return 0, fmt.Errorf("decode: %w", err)
	}

	if format == "jpeg" {
		img = applyOrientation(img, exifOrientation(raw))
	}

	// image.Decode always yields a single frame for animated GIFs (it
	// calls gif.Decode, not gif.DecodeAll), so multi-frame reduction is
	// already implicit by the time we get here; Still only adds the
	// play-button overlay that marks the frame as a still extraction.
	if opts.Still {
		img = compositePlayOverlay(img)
	}

	if opts.Width > 0 || opts.Height > 0 {
		img = fitWithin(img, opts.Width, opts.Height)
	}

	out, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	defer out.Close()

	switch format {
	case "gif":
		err = gif.Encode(out, img, nil)
	case "png":
		err = (&png.Encoder{CompressionLevel: png.BestSpeed}).Encode(out, img)
	default:
		err = jpeg.Encode(out, img, &jpeg.Options{Quality: 85})
	}
	if err != nil {
		return 0, fmt.Errorf("encode: %w", err)
	}

	info, err := out.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// fitWithin resizes img proportionally to fit within width x height using
// the "only shrink" directive: an image already smaller than the target
// box is returned unchanged. Either dimension may be zero, meaning "no
// constraint on that axis".
func fitWithin(img image.Image, width, height int) image.Image {
	b := img.Bounds()
	srcW, srcH := b.Dx(), b.Dy()
	if srcW == 0 || srcH == 0 {
		return img
	}

	dstW, dstH := srcW, srcH
	switch {
	case width > 0 && height > 0:
		scale := min(float64(width)/float64(srcW), float64(height)/float64(srcH))
		if scale >= 1 {
			return img
		}
		dstW = max(1, int(float64(srcW)*scale))
		dstH = max(1, int(float64(srcH)*scale))
	case width > 0:
		if width >= srcW {
			return img
		}
		scale := float64(width) / float64(srcW)
		dstW = width
		dstH = max(1, int(float64(srcH)*scale))
	case height > 0:
		if height >= srcH {
			return img
		}
		scale := float64(height) / float64(srcH)
		dstH = height
		dstW = max(1, int(float64(srcW)*scale))
	default:
		return img
	}

	return nearestNeighborScale(img, dstW, dstH)
}

// nearestNeighborScale resizes img to exactly dstW x dstH. Nearest-neighbor
// keeps the transform cheap and dependency-free; quality is secondary to
// the pool's throughput contract here.
func nearestNeighborScale(src image.Image, dstW, dstH int) image.Image {
	b := src.Bounds()
	srcW, srcH := b.Dx(), b.Dy()
	dst := image.NewRGBA(image.Rect(0, 0, dstW, dstH))

	for y := 0; y < dstH; y++ {
		sy := b.Min.Y + y*srcH/dstH
		for x := 0; x < dstW; x++ {
			sx := b.Min.X + x*srcW/dstW
			dst.Set(x, y, src.At(sx, sy))
		}
	}
	return dst
}

// compositePlayOverlay draws an opaque white triangular play indicator in
// the center of the frame, marking it as a still extracted from an
// animation.
func compositePlayOverlay(img image.Image) image.Image {
	b := img.Bounds()
	dst := image.NewRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			dst.Set(x, y, img.At(x, y))
		}
	}

	cx, cy := b.Dx()/2, b.Dy()/2
	radius := min(b.Dx(), b.Dy()) / 6
	if radius < 4 {
		return dst
	}

	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			if dx*dx+dy*dy > radius*radius {
				continue
			}
			// triangle pointing right, inscribed in the circle
			if dx < -radius/2 || dx > radius/2 || abs(dy) > (radius-dx) {
				continue
			}
			x, y := b.Min.X+cx+dx, b.Min.Y+cy+dy
			if (image.Point{X: x, Y: y}).In(b) {
				dst.Set(x, y, color.White)
			}
		}
	}
	return dst
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
