package decode

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"
)

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestImage_PNGWithAlphaBecomesOpaque(t *testing.T) {
	req := require.New(t)
	src := image.NewNRGBA(image.Rect(0, 0, 3, 2))
	for i := range src.Pix {
		src.Pix[i] = 0x80
	}

	img, err := Image(encodePNG(t, src))
	req.NoError(err)
	req.Equal(image.Rect(0, 0, 3, 2), img.Bounds())
	for i := 3; i < len(img.Pix); i += 4 {
		req.Equal(uint8(0xff), img.Pix[i])
	}
}

func TestImage_JPEG(t *testing.T) {
	req := require.New(t)
	src := image.NewRGBA(image.Rect(0, 0, 16, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 16; x++ {
			src.Set(x, y, color.RGBA{R: 200, G: 10, B: 10, A: 255})
		}
	}
	var buf bytes.Buffer
	req.NoError(jpeg.Encode(&buf, src, nil))

	img, err := Image(buf.Bytes())
	req.NoError(err)
	req.Equal(16, img.Bounds().Dx())
	req.Equal(8, img.Bounds().Dy())
	req.Equal("image/jpeg", DetectMIME(buf.Bytes()))
}

// withOrientation inserts an APP1 EXIF segment carrying only the Orientation
// tag right after the JPEG SOI marker.
func withOrientation(jpg []byte, orientation uint16) []byte {
	tiff := []byte{
		'M', 'M', 0x00, 0x2a, 0x00, 0x00, 0x00, 0x08, // big endian header, IFD at 8
		0x00, 0x01, // one entry
		0x01, 0x12, 0x00, 0x03, 0x00, 0x00, 0x00, 0x01, // Orientation, SHORT, count 1
		byte(orientation >> 8), byte(orientation), 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, // no next IFD
	}
	payload := append([]byte("Exif\x00\x00"), tiff...)
	size := len(payload) + 2

	out := make([]byte, 0, len(jpg)+size+2)
	out = append(out, jpg[:2]...)
	out = append(out, 0xff, 0xe1, byte(size>>8), byte(size))
	out = append(out, payload...)
	return append(out, jpg[2:]...)
}

func TestImage_EXIFOrientation(t *testing.T) {
	// 64x32, top half red and bottom half blue, halves aligned to JPEG blocks.
	src := image.NewRGBA(image.Rect(0, 0, 64, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 64; x++ {
			c := color.RGBA{R: 255, A: 255}
			if y >= 16 {
				c = color.RGBA{B: 255, A: 255}
			}
			src.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, src, &jpeg.Options{Quality: 100}))

	isRed := func(c color.NRGBA) bool { return c.R > 200 && c.B < 60 }
	isBlue := func(c color.NRGBA) bool { return c.B > 200 && c.R < 60 }

	tests := []struct {
		name        string
		orientation uint16
		size        image.Point
		redAt       image.Point
		blueAt      image.Point
	}{
		{"Normal", 1, image.Pt(64, 32), image.Pt(4, 4), image.Pt(4, 28)},
		// Rotate 90 clockwise: the stored top edge ends up on the right.
		{"Rotate 90 clockwise", 6, image.Pt(32, 64), image.Pt(28, 4), image.Pt(4, 4)},
		// Rotate 90 counter clockwise: the stored top edge ends up on the left.
		{"Rotate 90 counter clockwise", 8, image.Pt(32, 64), image.Pt(4, 60), image.Pt(28, 60)},
		{"Rotate 180", 3, image.Pt(64, 32), image.Pt(60, 28), image.Pt(60, 4)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			img, err := Image(withOrientation(buf.Bytes(), tt.orientation))
			req.NoError(err)
			req.Equal(tt.size, img.Bounds().Size())
			req.True(isRed(img.NRGBAAt(tt.redAt.X, tt.redAt.Y)), "expected red at %v", tt.redAt)
			req.True(isBlue(img.NRGBAAt(tt.blueAt.X, tt.blueAt.Y)), "expected blue at %v", tt.blueAt)
		})
	}
}

func TestImage_Errors(t *testing.T) {
	valid := encodePNG(t, image.NewNRGBA(image.Rect(0, 0, 4, 4)))

	tests := []struct {
		name     string
		input    []byte
		wantMIME string
	}{
		{"Empty input", nil, ""},
		{"Plain text", []byte("definitely not an image"), "text/plain; charset=utf-8"},
		{"Truncated PNG", valid[:40], "image/png"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			_, err := Image(tt.input)
			req.Error(err)
			req.True(errors.Is(err, ErrImageDecode))

			var decodeErr *Error
			req.True(errors.As(err, &decodeErr))
			req.Equal(tt.wantMIME, decodeErr.MIME)
		})
	}
}
