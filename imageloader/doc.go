// Copyright 2021 The httpq Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

/*
Package imageloader fetches and decodes images through an httpq queue,
coalescing concurrent requests for the same image.

A Loader checks its ImageCache first. On a miss it issues one request
per distinct image (URL, bounds and ScaleType) no matter how many
callers ask for it, and fans the result out to every caller in batched
delivery passes:

	cache, err := imageloader.NewRistrettoCache(64 << 20)
	...
	loader := imageloader.NewLoader(q, cache, loop)
	c, err := loader.Get("https://example.com/a.png", 128, 128,
		imageloader.CenterInside, imageloader.ListenerFuncs{
			Response: func(c *imageloader.Container, immediate bool) {
				if img := c.Image(); img != nil {
					...
				}
			},
			Error: func(err error) { ... },
		})
	...
	c.Cancel()

PNG, JPEG, GIF, BMP and WebP images are decoded.
*/
package imageloader
