package model

import (
	"fmt"
	"image"

	"github.com/nfnt/resize"
)

// tensorFromImage converts an image to the planar CHW layout expected by the model.
// Channel values are scaled to [0,1] and then normalized with mean/std when given.
func tensorFromImage(img image.Image, size int, mean, std []float32) ([]float32, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid target size %d", size)
	}
	if len(mean) != 0 && len(mean) != 3 {
		return nil, fmt.Errorf("mean must have 3 values, got %d", len(mean))
	}
	if len(std) != 0 && len(std) != 3 {
		return nil, fmt.Errorf("std must have 3 values, got %d", len(std))
	}

	resized := resize.Resize(uint(size), uint(size), img, resize.Lanczos3)

	bounds := resized.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	plane := width * height

	data := make([]float32, 3*plane)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, b, _ := resized.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()

			idx := y*width + x
			data[idx] = float32(r) / 65535.0
			data[plane+idx] = float32(g) / 65535.0
			data[2*plane+idx] = float32(b) / 65535.0
		}
	}

	if len(mean) == 3 || len(std) == 3 {
		for c := 0; c < 3; c++ {
			m, s := float32(0), float32(1)
			if len(mean) == 3 {
				m = mean[c]
			}
			if len(std) == 3 && std[c] != 0 {
				s = std[c]
			}
			channel := data[c*plane : (c+1)*plane]
			for i := range channel {
				channel[i] = (channel[i] - m) / s
			}
		}
	}

	return data, nil
}
