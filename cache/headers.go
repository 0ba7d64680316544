// Copyright 2021 The httpq Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package cache

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// DefaultCharset is the charset assumed when Content-Type names none.
const DefaultCharset = "ISO-8859-1"

// ParseCacheHeaders computes a cache entry from response headers and
// body as of now. It returns nil if the response must not be cached,
// that is if Cache-Control contains no-cache or no-store.
//
// When Cache-Control is present, the soft expiry is now plus max-age
// and the hard expiry extends it by stale-while-revalidate, unless
// must-revalidate or proxy-revalidate is given, in which case the hard
// expiry equals the soft expiry. Without Cache-Control, a parsable Date
// and an Expires not before it give both expiries as now plus
// (Expires - Date). Otherwise both expiries are zero: the entry is
// stale immediately but still usable for revalidation by ETag or
// Last-Modified.
func ParseCacheHeaders(header http.Header, data []byte, now time.Time) *Entry {
	var (
		hasCacheControl      bool
		mustRevalidate       bool
		maxAge               int64
		staleWhileRevalidate int64
		softExpire, expire   time.Time
	)

	if values := header.Values("Cache-Control"); len(values) > 0 {
		hasCacheControl = true
		for _, token := range strings.Split(strings.Join(values, ","), ",") {
			token = strings.ToLower(strings.TrimSpace(token))
			switch {
			case token == "no-cache" || token == "no-store":
				return nil
			case strings.HasPrefix(token, "max-age="):
				if v, err := strconv.ParseInt(token[len("max-age="):], 10, 64); err == nil {
					maxAge = v
				}
			case strings.HasPrefix(token, "stale-while-revalidate="):
				if v, err := strconv.ParseInt(token[len("stale-while-revalidate="):], 10, 64); err == nil {
					staleWhileRevalidate = v
				}
			case token == "must-revalidate" || token == "proxy-revalidate":
				mustRevalidate = true
			}
		}
	}

	serverDate := ParseDate(header.Get("Date"))
	serverExpires := ParseDate(header.Get("Expires"))

	if hasCacheControl {
		softExpire = now.Add(time.Duration(maxAge) * time.Second)
		if mustRevalidate {
			expire = softExpire
		} else {
			expire = softExpire.Add(time.Duration(staleWhileRevalidate) * time.Second)
		}
	} else if !serverDate.IsZero() && !serverExpires.Before(serverDate) {
		softExpire = now.Add(serverExpires.Sub(serverDate))
		expire = softExpire
	}

	return &Entry{
		Data:         data,
		ETag:         header.Get("ETag"),
		ServerDate:   serverDate,
		LastModified: ParseDate(header.Get("Last-Modified")),
		TTL:          expire,
		SoftTTL:      softExpire,
		Header:       header.Clone(),
	}
}

// ParseDate parses an RFC 1123 date as used in HTTP headers. An empty
// or unparsable date yields the zero time.
func ParseDate(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(http.TimeFormat, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

// FormatDate formats t for use in an HTTP header.
func FormatDate(t time.Time) string {
	return t.UTC().Format(http.TimeFormat)
}

// ParseCharset returns the charset named by the Content-Type header,
// or def if there is none.
func ParseCharset(header http.Header, def string) string {
	contentType := header.Get("Content-Type")
	if contentType == "" {
		return def
	}
	for _, param := range strings.Split(contentType, ";")[1:] {
		pair := strings.SplitN(strings.TrimSpace(param), "=", 2)
		if len(pair) == 2 && strings.EqualFold(pair[0], "charset") {
			return strings.Trim(pair[1], `"`)
		}
	}
	return def
}
