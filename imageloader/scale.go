// Copyright 2021 The httpq Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package imageloader

import "fmt"

// A ScaleType says how a decoded image is fitted into its bounds.
type ScaleType int

const (
	// CenterInside scales uniformly so both dimensions fit within the
	// bounds.
	CenterInside ScaleType = iota
	// FitXY scales each dimension to its bound independently.
	FitXY
	// CenterCrop scales uniformly so both dimensions cover the bounds.
	CenterCrop
)

var scaleTypeNames = []string{"center-inside", "fit-xy", "center-crop"}

func (s ScaleType) String() string {
	if s < 0 || int(s) >= len(scaleTypeNames) {
		return fmt.Sprintf("ScaleType(%d)", int(s))
	}
	return scaleTypeNames[s]
}

// ResizedDimension returns the size of the primary dimension of an
// image of actualPrimary x actualSecondary scaled to fit bounds of
// maxPrimary x maxSecondary. A bound of zero means unbounded.
//
// Call it once with width as primary and once with height as primary
// to compute both dimensions.
func ResizedDimension(maxPrimary, maxSecondary, actualPrimary, actualSecondary int, scale ScaleType) int {
	if maxPrimary == 0 && maxSecondary == 0 {
		return actualPrimary
	}

	if scale == FitXY {
		if maxPrimary == 0 {
			return actualPrimary
		}
		return maxPrimary
	}

	// Only the secondary is bounded: scale the primary by the same
	// ratio.
	if maxPrimary == 0 {
		ratio := float64(maxSecondary) / float64(actualSecondary)
		return int(float64(actualPrimary) * ratio)
	}

	if maxSecondary == 0 {
		return maxPrimary
	}

	ratio := float64(actualSecondary) / float64(actualPrimary)
	resized := maxPrimary

	if scale == CenterCrop {
		if float64(resized)*ratio < float64(maxSecondary) {
			resized = int(float64(maxSecondary) / ratio)
		}
		return resized
	}

	if float64(resized)*ratio > float64(maxSecondary) {
		resized = int(float64(maxSecondary) / ratio)
	}
	return resized
}

// FindBestSampleSize returns the largest power of two by which an image
// of the actual dimensions can be subsampled while staying at least as
// large as the desired dimensions in one of them.
func FindBestSampleSize(actualWidth, actualHeight, desiredWidth, desiredHeight int) int {
	if desiredWidth <= 0 || desiredHeight <= 0 {
		return 1
	}
	wr := float64(actualWidth) / float64(desiredWidth)
	hr := float64(actualHeight) / float64(desiredHeight)
	ratio := wr
	if hr < ratio {
		ratio = hr
	}
	n := 1
	for float64(n*2) <= ratio {
		n *= 2
	}
	return n
}
