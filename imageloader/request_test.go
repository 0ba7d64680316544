// Copyright 2021 The httpq Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package imageloader

import (
	"bytes"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"net/http"
	"testing"
	"time"

	"github.com/gogama/httpq"
	"github.com/gogama/httpq/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequest(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		r, err := NewRequest("http://example.com/a.png", 10, 10, CenterInside, nil, nil)
		require.NoError(t, err)
		assert.Equal(t, httpq.Low, r.Priority())
		assert.Equal(t, "GET", r.Method())
		p, ok := r.RetryPolicy().(*retry.Default)
		require.True(t, ok)
		assert.Equal(t, time.Second, p.CurrentTimeout())
		assert.Equal(t, 2, p.MaxRetries())
		assert.Equal(t, 2.0, p.BackoffMultiplier())
	})
	t.Run("invalid URL", func(t *testing.T) {
		r, err := NewRequest(":::", 0, 0, CenterInside, nil, nil)
		assert.Nil(t, r)
		assert.Error(t, err)
	})
	t.Run("parse", func(t *testing.T) {
		r, err := NewRequest("http://example.com/a.png", 50, 50, CenterInside, nil, nil)
		require.NoError(t, err)
		resp := r.ParseNetworkResponse(&httpq.NetworkResponse{
			StatusCode: 200,
			Data:       encodePNG(t, 200, 100),
			Header:     http.Header{"Cache-Control": {"max-age=60"}},
		})
		require.True(t, resp.OK())
		img, ok := resp.Result.(image.Image)
		require.True(t, ok)
		assert.Equal(t, image.Rect(0, 0, 50, 25), img.Bounds())
		assert.NotNil(t, resp.CacheEntry)
	})
	t.Run("parse garbage", func(t *testing.T) {
		r, err := NewRequest("http://example.com/a.png", 0, 0, CenterInside, nil, nil)
		require.NoError(t, err)
		resp := r.ParseNetworkResponse(&httpq.NetworkResponse{StatusCode: 200, Data: []byte("not an image")})
		assert.False(t, resp.OK())
		assert.ErrorIs(t, resp.Err, httpq.ErrParse)
	})
	t.Run("deliver", func(t *testing.T) {
		var got image.Image
		r, err := NewRequest("http://example.com/a.png", 0, 0, CenterInside, func(img image.Image) { got = img }, nil)
		require.NoError(t, err)
		img := image.NewRGBA(image.Rect(0, 0, 1, 1))
		r.DeliverResponse(img)
		assert.Same(t, img, got)
	})
}

func TestDecode(t *testing.T) {
	testCases := []struct {
		name                string
		width, height       int
		maxWidth, maxHeight int
		scale               ScaleType
		expected            image.Rectangle
	}{
		{"unbounded", 200, 100, 0, 0, CenterInside, image.Rect(0, 0, 200, 100)},
		{"center inside", 200, 100, 50, 50, CenterInside, image.Rect(0, 0, 50, 25)},
		{"fit xy", 200, 100, 30, 40, FitXY, image.Rect(0, 0, 30, 40)},
		{"never upscaled", 20, 10, 50, 50, CenterInside, image.Rect(0, 0, 20, 10)},
		{"width bound only", 200, 100, 100, 0, CenterInside, image.Rect(0, 0, 100, 50)},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			data := encodePNG(t, testCase.width, testCase.height)
			img, err := Decode(data, testCase.maxWidth, testCase.maxHeight, testCase.scale)
			require.NoError(t, err)
			assert.Equal(t, testCase.expected, img.Bounds())
		})
	}
	t.Run("formats", func(t *testing.T) {
		src := testImage(8, 4)
		var jpg, gf bytes.Buffer
		require.NoError(t, jpeg.Encode(&jpg, src, nil))
		require.NoError(t, gif.Encode(&gf, src, nil))
		for name, data := range map[string][]byte{"jpeg": jpg.Bytes(), "gif": gf.Bytes()} {
			img, err := Decode(data, 0, 0, CenterInside)
			require.NoError(t, err, name)
			assert.Equal(t, image.Rect(0, 0, 8, 4), img.Bounds(), name)
		}
	})
	t.Run("garbage", func(t *testing.T) {
		_, err := Decode([]byte("nope"), 10, 10, CenterInside)
		assert.Error(t, err)
		_, err = Decode([]byte("nope"), 0, 0, CenterInside)
		assert.Error(t, err)
	})
}

func testImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	return img
}

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, testImage(w, h)))
	return buf.Bytes()
}
