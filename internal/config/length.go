package config

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Unit is the unit of a Length.
type Unit string

const (
	UnitPixel   Unit = "px"
	UnitPercent Unit = "%"
)

// Length is a placement measurement: pixels or a percentage of the monitor
// dimension it applies to. Bare numbers are pixels.
type Length struct {
	Value float64
	Unit  Unit
}

// Pixels returns a pixel Length.
func Pixels(v float64) Length { return Length{Value: v, Unit: UnitPixel} }

// Percent returns a percentage Length.
func Percent(v float64) Length { return Length{Value: v, Unit: UnitPercent} }

// ParseLength parses "12px", "50%", "12" or "-4.5px".
func ParseLength(s string) (Length, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Length{Unit: UnitPixel}, nil
	}

	unit := UnitPixel
	num := s
	switch {
	case strings.HasSuffix(s, "%"):
		unit = UnitPercent
		num = strings.TrimSuffix(s, "%")
	case strings.HasSuffix(s, "px"):
		num = strings.TrimSuffix(s, "px")
	}

	v, err := strconv.ParseFloat(strings.TrimSpace(num), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return Length{}, fmt.Errorf("invalid length %q: must be like '12px', '50%%' or a number", s)
	}
	return Length{Value: v, Unit: unit}, nil
}

// Resolve converts the length to device pixels. Percentages are taken of
// total; pixel values are multiplied by scale.
func (l Length) Resolve(total int, scale float64) int {
	if l.Unit == UnitPercent {
		return int(math.Round(float64(total) * l.Value / 100))
	}
	if scale <= 0 {
		scale = 1
	}
	return int(math.Round(l.Value * scale))
}

// String returns the canonical form, e.g. "12px" or "50%".
func (l Length) String() string {
	unit := l.Unit
	if unit == "" {
		unit = UnitPixel
	}
	return strconv.FormatFloat(l.Value, 'f', -1, 64) + string(unit)
}

// MarshalText implements encoding.TextMarshaler.
func (l Length) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *Length) UnmarshalText(text []byte) error {
	parsed, err := ParseLength(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}
