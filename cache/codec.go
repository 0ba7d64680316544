// Copyright 2021 The httpq Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package cache

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/golang/snappy"
)

// Marshal serializes an entry for a persistent backend. The gob
// encoding of the entry is compressed with snappy.
func Marshal(e *Entry) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(e); err != nil {
		return nil, fmt.Errorf("httpq/cache: encode entry: %w", err)
	}
	return snappy.Encode(nil, buf.Bytes()), nil
}

// Unmarshal is the inverse of Marshal.
func Unmarshal(b []byte) (*Entry, error) {
	raw, err := snappy.Decode(nil, b)
	if err != nil {
		return nil, fmt.Errorf("httpq/cache: decompress entry: %w", err)
	}
	var e Entry
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&e); err != nil {
		return nil, fmt.Errorf("httpq/cache: decode entry: %w", err)
	}
	return &e, nil
}
