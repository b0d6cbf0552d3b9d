package pricing

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// ErrInvalidIdentifier is returned when a source or metal identifier fails validation.
var ErrInvalidIdentifier = errors.New("pricing: invalid identifier")

// SourceID names the upstream origin of an observation, e.g. "dealer_manual".
type SourceID string

// Known sources. The vocabulary is open: any valid SourceID may appear in a
// batch and in the priority table.
const (
	SourceDealerManual   SourceID = "dealer_manual"
	SourceIScrap         SourceID = "iscrap"
	SourceScrapRegister  SourceID = "scrap_register"
	SourceRecyclingToday SourceID = "recycling_today"
	SourceMetalsAPI      SourceID = "metals_api"
	SourceLBMA           SourceID = "lbma"
	SourceSeed           SourceID = "seed"
)

// ParseSourceID normalises s to lower case and validates it.
func ParseSourceID(s string) (SourceID, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	if err := checkIdentifier(v); err != nil {
		return "", fmt.Errorf("source %q: %w", s, err)
	}
	return SourceID(v), nil
}

// MustSourceID is ParseSourceID for literals; it panics on invalid input.
func MustSourceID(s string) SourceID {
	id, err := ParseSourceID(s)
	if err != nil {
		panic(err)
	}
	return id
}

func (s SourceID) String() string { return string(s) }

// MetalSlug identifies a metal or scrap grade, e.g. "CU_BARE".
type MetalSlug string

// ParseMetalSlug normalises s to upper case and validates it.
func ParseMetalSlug(s string) (MetalSlug, error) {
	v := strings.ToUpper(strings.TrimSpace(s))
	if err := checkIdentifier(v); err != nil {
		return "", fmt.Errorf("metal %q: %w", s, err)
	}
	return MetalSlug(v), nil
}

// MustMetalSlug is ParseMetalSlug for literals; it panics on invalid input.
func MustMetalSlug(s string) MetalSlug {
	m, err := ParseMetalSlug(s)
	if err != nil {
		panic(err)
	}
	return m
}

func (m MetalSlug) String() string { return string(m) }

func checkIdentifier(v string) error {
	if v == "" {
		return fmt.Errorf("%w: empty", ErrInvalidIdentifier)
	}
	for _, r := range v {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return fmt.Errorf("%w: contains whitespace", ErrInvalidIdentifier)
		}
	}
	return nil
}
