// Package codec converts decoded record values to and from the byte form
// stored by persistent backends.
package codec

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"errors"
)

// Codec encodes record values for a persistent backend.
type Codec interface {
	Encode(v interface{}) ([]byte, error)
	Decode(b []byte) (interface{}, error)
}

// JSON stores records as JSON documents. Numbers decode as float64 and
// objects as map[string]interface{}, which is the shape key paths resolve
// against. It is the default codec for persistent stores.
type JSON struct{}

func (JSON) Encode(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (JSON) Decode(b []byte) (interface{}, error) {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// Gob stores records in gob form. Useful for Go-native record types that
// do not need secondary indices over their attributes.
type Gob struct{}

func (Gob) Encode(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (Gob) Decode(b []byte) (interface{}, error) {
	var v interface{}
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// Binary passes []byte records through unchanged.
type Binary struct{}

var errNotBytes = errors.New("codec: binary codec requires []byte values")

func (Binary) Encode(v interface{}) ([]byte, error) {
	b, ok := v.([]byte)
	if !ok {
		return nil, errNotBytes
	}
	return b, nil
}

func (Binary) Decode(b []byte) (interface{}, error) {
	return b, nil
}
