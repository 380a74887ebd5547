// Package inference turns normalized flow tables into per-flow
// predictions using an artifact trio.
package inference

import (
	"fmt"
	"strconv"
)

// LabelTable maps class indices to names.
type LabelTable []string

// Label table presets.
const (
	PresetDefault = "default"
	PresetLegacy  = "legacy"
)

// DefaultLabels returns the ten-class table.
func DefaultLabels() LabelTable {
	return LabelTable{
		"BENIGN",
		"Bot",
		"DDoS",
		"PortScan",
		"BruteForce",
		"Infiltration",
		"DoS",
		"WebAttack",
		"Heartbleed",
		"Unknown",
	}
}

// LegacyLabels returns the eight-class table older artifacts were
// trained with.
func LegacyLabels() LabelTable {
	return LabelTable{
		"BENIGN",
		"Bot",
		"DDoS",
		"PortScan",
		"BruteForce",
		"DoS",
		"WebAttack",
		"Unknown",
	}
}

// LabelsFor resolves a preset name. A non-empty custom list wins over
// the preset.
func LabelsFor(preset string, custom []string) (LabelTable, error) {
	if len(custom) > 0 {
		return append(LabelTable(nil), custom...), nil
	}
	switch preset {
	case "", PresetDefault:
		return DefaultLabels(), nil
	case PresetLegacy:
		return LegacyLabels(), nil
	default:
		return nil, fmt.Errorf("unknown label preset %q", preset)
	}
}

// Name returns the label for class i, or Unknown_Class_<i> when i is
// outside the table.
func (t LabelTable) Name(i int) string {
	if i >= 0 && i < len(t) {
		return t[i]
	}
	return "Unknown_Class_" + strconv.Itoa(i)
}
