// Copyright 2021 The httpq Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package imageloader

import (
	"bytes"
	"image"
	_ "image/gif"  // register GIF decoder
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder
	"sync"
	"time"

	"github.com/gogama/httpq"
	"github.com/gogama/httpq/request"
	"github.com/gogama/httpq/retry"
	_ "golang.org/x/image/bmp" // register BMP decoder
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // register WebP decoder
)

// Retry settings for image requests.
const (
	Timeout           = 1000 * time.Millisecond
	MaxRetries        = 2
	BackoffMultiplier = 2.0
)

// Decoding is memory hungry, so only one image is decoded at a time.
var decodeLock sync.Mutex

// NewRequest returns a LOW priority GET request for the image at url.
// The image is decoded and scaled to fit maxWidth x maxHeight according
// to scale; zero bounds leave a dimension unconstrained. Either listener
// may be nil.
func NewRequest(url string, maxWidth, maxHeight int, scale ScaleType, onImage func(image.Image), onError httpq.ErrorListener) (*httpq.FuncRequest[image.Image], error) {
	p, err := request.NewPlan("GET", url, nil)
	if err != nil {
		return nil, err
	}
	return newPlanRequest(p, maxWidth, maxHeight, scale, onImage, onError), nil
}

func newPlanRequest(p *request.Plan, maxWidth, maxHeight int, scale ScaleType, onImage func(image.Image), onError httpq.ErrorListener) *httpq.FuncRequest[image.Image] {
	parse := func(resp *httpq.NetworkResponse) (image.Image, error) {
		return Decode(resp.Data, maxWidth, maxHeight, scale)
	}
	r := httpq.NewPlanRequest[image.Image](p, parse, onImage, onError)
	r.SetPriority(httpq.Low)
	r.SetRetryPolicy(retry.New(Timeout, MaxRetries, BackoffMultiplier))
	return r
}

// Decode decodes an encoded image and scales it down to fit within
// maxWidth x maxHeight. Images already within bounds are returned as
// decoded.
func Decode(data []byte, maxWidth, maxHeight int, scale ScaleType) (image.Image, error) {
	decodeLock.Lock()
	defer decodeLock.Unlock()

	if maxWidth == 0 && maxHeight == 0 {
		img, _, err := image.Decode(bytes.NewReader(data))
		return img, err
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	w := atLeastOne(ResizedDimension(maxWidth, maxHeight, cfg.Width, cfg.Height, scale))
	h := atLeastOne(ResizedDimension(maxHeight, maxWidth, cfg.Height, cfg.Width, scale))

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	// Cheap subsampling first, then a quality pass down to the exact
	// size.
	b := img.Bounds()
	if n := FindBestSampleSize(b.Dx(), b.Dy(), w, h); n > 1 {
		img = resize(img, b.Dx()/n, b.Dy()/n, draw.NearestNeighbor)
		b = img.Bounds()
	}
	if b.Dx() > w || b.Dy() > h {
		img = resize(img, w, h, draw.CatmullRom)
	}
	return img, nil
}

func resize(src image.Image, w, h int, s draw.Scaler) image.Image {
	dst := image.NewRGBA(image.Rect(0, 0, atLeastOne(w), atLeastOne(h)))
	s.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst
}

func atLeastOne(n int) int {
	if n < 1 {
		return 1
	}
	return n
}
