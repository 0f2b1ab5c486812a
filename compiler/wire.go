package compiler

import (
	"errors"
	"fmt"
	"os"

	"github.com/fxamacker/cbor/v2"
)

// ObjectVersion is bumped whenever the object encoding changes meaning.
const ObjectVersion = 1

// ObjectExt is the file extension of object files.
const ObjectExt = ".hwo"

// ErrObjectVersion is returned for objects written by an incompatible
// compiler.
var ErrObjectVersion = errors.New("unsupported object version")

type objectFile struct {
	Version int     `cbor:"1,keyasint"`
	Object  *Object `cbor:"2,keyasint"`
}

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("compiler: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// MarshalObject serializes an object to canonical CBOR. Equal objects
// encode to equal bytes.
func MarshalObject(o *Object) ([]byte, error) {
	return cborEncMode.Marshal(&objectFile{Version: ObjectVersion, Object: o})
}

// UnmarshalObject deserializes an object from CBOR bytes.
func UnmarshalObject(data []byte) (*Object, error) {
	var f objectFile
	if err := cbor.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("compiler: unmarshal object: %w", err)
	}
	if f.Version != ObjectVersion {
		return nil, fmt.Errorf("%w: %d (want %d)", ErrObjectVersion, f.Version, ObjectVersion)
	}
	if f.Object == nil {
		return nil, fmt.Errorf("compiler: unmarshal object: empty object")
	}
	return f.Object, nil
}

// WriteObjectFile writes an object to path.
func WriteObjectFile(path string, o *Object) error {
	data, err := MarshalObject(o)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadObjectFile reads an object written by WriteObjectFile.
func ReadObjectFile(path string) (*Object, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	o, err := UnmarshalObject(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return o, nil
}
