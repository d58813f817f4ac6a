package terrain

import (
	"fmt"
)

// AnchorMode selects the elevation a terrain's offset and range are measured
// from. Resolving the actual elevation is up to the caller.
type AnchorMode int

const (
	AnchorFixed AnchorMode = iota
	AnchorFromTerrain
	AnchorFromLayer
)

func (a AnchorMode) Valid() bool {
	return a >= AnchorFixed && a <= AnchorFromLayer
}

func (a AnchorMode) String() string {
	switch a {
	case AnchorFixed:
		return "fixed"
	case AnchorFromTerrain:
		return "terrain"
	case AnchorFromLayer:
		return "layer"
	}
	return fmt.Sprintf("anchor(%d)", int(a))
}

// Band is an elevation range. Min may exceed Max when the range bounds do
// not follow the below <= 0 <= above convention.
type Band struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

func (b Band) Contains(elevation float64) bool {
	return elevation >= b.Min && elevation <= b.Max
}

func ComputeBand(anchor, offset, rangeBelow, rangeAbove float64) Band {
	effective := anchor + offset
	return Band{
		Min: effective + rangeBelow,
		Max: effective + rangeAbove,
	}
}
