// Package taskkey derives the canonical structural identity of a task
// instance from its type name and constructor arguments. Two argument sets
// that are structurally equal always produce the same Key, regardless of the
// surface container types they arrive in.
package taskkey

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// Key is the canonical identity of a task instance. It is a pure function of
// graph topology: nested graph references inside the arguments contribute the
// identity of the node they point to, never its current value.
//
// Key is comparable and safe for use as a map key.
type Key struct {
	// Type is the stable registered name of the task kind.
	Type string
	// Canon is the deterministic CBOR encoding of the normalized argument
	// vector.
	Canon string
}

// Digest returns the sha256 hex digest of the key, used to address cache
// records on disk.
func (k Key) Digest() string {
	h := sha256.New()
	h.Write([]byte(k.Type))
	h.Write([]byte{0})
	h.Write([]byte(k.Canon))
	return hex.EncodeToString(h.Sum(nil))
}

// String returns a short human-readable form, "Type/digest-prefix".
func (k Key) String() string {
	return k.Type + "/" + k.Digest()[:12]
}

// IsZero reports whether the key is the zero value.
func (k Key) IsZero() bool {
	return k.Type == "" && k.Canon == ""
}

// ArgsJSON renders the normalized argument vector as human-readable JSON for
// the record's args.json file.
func (k Key) ArgsJSON() ([]byte, error) {
	var args any
	if err := decMode.Unmarshal([]byte(k.Canon), &args); err != nil {
		return nil, fmt.Errorf("decoding canonical args for %s: %w", k, err)
	}
	return json.MarshalIndent(args, "", "  ")
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	encMode = em

	dm, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic(err)
	}
	decMode = dm
}
