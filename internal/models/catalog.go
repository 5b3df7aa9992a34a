// Package models describes the speech models the loader can try and
// fetches their weight files.
package models

import (
	"fmt"
	"strings"
	"time"
)

// SizeClass groups candidates by download and initialization cost.
type SizeClass int

const (
	SizeSmall SizeClass = iota
	SizeMedium
	SizeLarge
)

func (s SizeClass) String() string {
	switch s {
	case SizeSmall:
		return "small"
	case SizeMedium:
		return "medium"
	case SizeLarge:
		return "large"
	default:
		return fmt.Sprintf("size(%d)", int(s))
	}
}

// Device is an execution profile. Accelerated loads quantized weights,
// generic loads full precision.
type Device string

const (
	DeviceAccelerated Device = "accelerated"
	DeviceGeneric     Device = "generic"
)

// Devices lists the tiers in the order the loader tries them.
var Devices = []Device{DeviceAccelerated, DeviceGeneric}

// Candidate is one model the loader may attempt.
type Candidate struct {
	ID    string
	Label string
	Size  SizeClass
}

// Catalog is the set of known models.
var Catalog = []Candidate{
	{ID: "tiny.en", Label: "Whisper tiny (English)", Size: SizeSmall},
	{ID: "base.en", Label: "Whisper base (English)", Size: SizeSmall},
	{ID: "base", Label: "Whisper base (multilingual)", Size: SizeSmall},
	{ID: "small.en", Label: "Whisper small (English)", Size: SizeMedium},
	{ID: "medium.en", Label: "Whisper medium (English)", Size: SizeLarge},
}

// Lookup returns the catalog entry for id. Unknown ids yield a medium-sized
// candidate labelled with the id itself.
func Lookup(id string) (Candidate, bool) {
	id = strings.TrimSpace(id)
	for _, c := range Catalog {
		if c.ID == id {
			return c, true
		}
	}
	return Candidate{ID: id, Label: id, Size: SizeMedium}, false
}

// Cascade builds the ordered candidate list: requested first (when set),
// then fallback, with duplicates and blanks removed.
func Cascade(requested string, fallback []string) []Candidate {
	seen := make(map[string]bool)
	var out []Candidate
	add := func(id string) {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			return
		}
		seen[id] = true
		c, _ := Lookup(id)
		out = append(out, c)
	}
	add(requested)
	for _, id := range fallback {
		add(id)
	}
	return out
}

// FileName returns the ggml weight file for a candidate on a device tier.
func FileName(id string, device Device) string {
	if device == DeviceAccelerated {
		return "ggml-" + id + "-q5_1.bin"
	}
	return "ggml-" + id + ".bin"
}

// Timeouts bounds a single candidate load by size class.
type Timeouts struct {
	Small  time.Duration
	Medium time.Duration
	Large  time.Duration
}

// DefaultTimeouts returns the stock per-class load bounds.
func DefaultTimeouts() Timeouts {
	return Timeouts{Small: 60 * time.Second, Medium: 120 * time.Second, Large: 300 * time.Second}
}

// For returns the bound for a size class.
func (t Timeouts) For(size SizeClass) time.Duration {
	switch size {
	case SizeSmall:
		return t.Small
	case SizeLarge:
		return t.Large
	default:
		return t.Medium
	}
}
