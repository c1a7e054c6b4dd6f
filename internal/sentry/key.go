package sentry

import (
	"errors"
	"fmt"
	"regexp"
)

// ErrInvalidKey is returned by NewKey for malformed target or layer names.
var ErrInvalidKey = errors.New("invalid key")

var keyPart = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// Key identifies one (target, layer) pair. Neither part may contain '/' so
// the canonical "target/layer" form is unique per pair.
type Key struct {
	target string
	layer  string
}

// NewKey validates both parts and builds a Key.
func NewKey(targetID, layer string) (Key, error) {
	if !keyPart.MatchString(targetID) {
		return Key{}, fmt.Errorf("%w: target %q", ErrInvalidKey, targetID)
	}
	if !keyPart.MatchString(layer) {
		return Key{}, fmt.Errorf("%w: layer %q", ErrInvalidKey, layer)
	}
	return Key{target: targetID, layer: layer}, nil
}

// ParseKey inverts Key.String.
func ParseKey(s string) (Key, error) {
	for i := 0; i < len(s); i++ {
		if s[i] == '/' {
			return NewKey(s[:i], s[i+1:])
		}
	}
	return Key{}, fmt.Errorf("%w: %q has no separator", ErrInvalidKey, s)
}

func (k Key) Target() string { return k.target }
func (k Key) Layer() string  { return k.layer }
func (k Key) IsZero() bool   { return k.target == "" && k.layer == "" }

func (k Key) String() string {
	return k.target + "/" + k.layer
}

// MarshalText encodes the key in its canonical form.
func (k Key) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}
