// Package decode turns uploaded bytes into an upright, opaque RGB raster.
package decode

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	"github.com/samber/lo"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ErrImageDecode is matched by every *Error returned from Image.
var ErrImageDecode = errors.New("image decode failed")

// SupportedMIME lists the upload formats accepted by Image.
var SupportedMIME = []string{
	"image/jpeg",
	"image/png",
	"image/gif",
	"image/webp",
	"image/tiff",
	"image/bmp",
}

type Error struct {
	MIME string
	Err  error
}

func (e *Error) Error() string {
	if e.MIME == "" {
		return fmt.Sprintf("%s: %v", ErrImageDecode, e.Err)
	}
	return fmt.Sprintf("%s (%s): %v", ErrImageDecode, e.MIME, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == ErrImageDecode }

// DetectMIME sniffs the image format from its leading bytes.
func DetectMIME(b []byte) string {
	return mimetype.Detect(b).String()
}

// Image validates the format, applies EXIF orientation and returns an
// opaque NRGBA image.
func Image(b []byte) (*image.NRGBA, error) {
	if len(b) == 0 {
		return nil, &Error{Err: errors.New("empty input")}
	}

	detected := mimetype.Detect(b)
	if !lo.ContainsBy(SupportedMIME, detected.Is) {
		return nil, &Error{MIME: detected.String(), Err: errors.New("unsupported format")}
	}

	img, err := imaging.Decode(bytes.NewReader(b), imaging.AutoOrientation(true))
	if err != nil {
		return nil, &Error{MIME: detected.String(), Err: err}
	}
	if img.Bounds().Empty() {
		return nil, &Error{MIME: detected.String(), Err: errors.New("image has no pixels")}
	}

	return toRGB(img), nil
}

// toRGB copies img into a zero-origin NRGBA with every pixel fully opaque.
func toRGB(img image.Image) *image.NRGBA {
	bounds := img.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(out, out.Bounds(), img, bounds.Min, draw.Src)
	for i := 3; i < len(out.Pix); i += 4 {
		out.Pix[i] = 0xff
	}
	return out
}
