package cachestore

import (
	"bytes"
	"fmt"
	"io"
	"reflect"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/gzip"
)

// Codec serializes task results to the opaque payload blobs held by the
// store. The store never inspects the bytes it produces.
type Codec interface {
	// Encode serializes v at the given compression level (-1 means the
	// codec's default).
	Encode(v any, compressLevel int) ([]byte, error)
	// Decode reverses Encode.
	Decode(data []byte) (any, error)
}

// cborGzipCodec is the default codec: CBOR serialization wrapped in gzip.
type cborGzipCodec struct {
	dec cbor.DecMode
}

// NewDefaultCodec returns the CBOR+gzip codec used when no custom codec is
// configured.
func NewDefaultCodec() Codec {
	dm, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
		IntDec:         cbor.IntDecConvertSigned,
	}.DecMode()
	if err != nil {
		panic(err)
	}
	return &cborGzipCodec{dec: dm}
}

func (c *cborGzipCodec) Encode(v any, compressLevel int) ([]byte, error) {
	payload, err := cbor.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("serializing payload: %w", err)
	}

	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, compressLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid compression level %d: %w", compressLevel, err)
	}
	if _, err := zw.Write(payload); err != nil {
		return nil, fmt.Errorf("compressing payload: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compressing payload: %w", err)
	}
	return buf.Bytes(), nil
}

func (c *cborGzipCodec) Decode(data []byte) (any, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decompressing payload: %w", err)
	}
	payload, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("decompressing payload: %w", err)
	}
	if err := zr.Close(); err != nil {
		return nil, fmt.Errorf("decompressing payload: %w", err)
	}

	var v any
	if err := c.dec.Unmarshal(payload, &v); err != nil {
		return nil, fmt.Errorf("deserializing payload: %w", err)
	}
	return v, nil
}
