// Package metadata defines the content-addressed store that holds character
// sheets, and the ERC-721 style document written to it.
package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrNotFound is returned by Fetch when no document exists for a ref.
var ErrNotFound = errors.New("metadata document not found")

// Ref is an opaque content reference (a CID for IPFS backed stores).
type Ref string

func (r Ref) String() string { return string(r) }

// IsZero reports whether the ref is unset.
func (r Ref) IsZero() bool { return r == "" }

// Store is a content-addressed document store.
// Every Publish yields a new ref. Superseded refs are released by the caller.
type Store interface {
	// Publish writes doc and returns its content reference.
	Publish(ctx context.Context, doc *Document) (Ref, error)
	// Fetch returns the document stored under ref.
	Fetch(ctx context.Context, ref Ref) (*Document, error)
	// Release unpins ref. It is advisory and only matters for storage hygiene.
	Release(ctx context.Context, ref Ref) error
}

// Trait is one entry of the document's attribute list.
type Trait struct {
	TraitType string `json:"trait_type"`
	Value     any    `json:"value"`
}

// Document is the token metadata JSON.
type Document struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Image       string  `json:"image"`
	Attributes  []Trait `json:"attributes"`
}

// Trait returns the value for traitType, if present.
func (d *Document) Trait(traitType string) (any, bool) {
	for _, t := range d.Attributes {
		if strings.EqualFold(t.TraitType, traitType) {
			return t.Value, true
		}
	}
	return nil, false
}

// IntTrait returns an integer trait. Documents decoded from JSON carry
// float64 values, which are accepted when integral.
func (d *Document) IntTrait(traitType string) (int, error) {
	v, ok := d.Trait(traitType)
	if !ok {
		return 0, fmt.Errorf("trait %q missing", traitType)
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("trait %q is not an integer: %v", traitType, n)
		}
		return int(n), nil
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, fmt.Errorf("trait %q is not an integer: %w", traitType, err)
		}
		return int(i), nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, fmt.Errorf("trait %q is not an integer: %w", traitType, err)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("trait %q has unexpected type %T", traitType, v)
	}
}

// StringTrait returns a string trait, or "" when absent.
func (d *Document) StringTrait(traitType string) string {
	v, ok := d.Trait(traitType)
	if !ok {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Validate checks the fields every character document must carry.
func (d *Document) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("document name is required")
	}
	if len(d.Attributes) == 0 {
		return fmt.Errorf("document has no attributes")
	}
	return nil
}
