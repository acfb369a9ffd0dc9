// Package compiler turns CUE schema files into schema definitions and
// expression hooks.
//
// A schema file declares fields under schema.<name> and optional derived
// fields under hook.<name>:
//
//	schema: player: {
//		sawFreq:      {type: "float", default: 100, min: 0, max: 1000}
//		filterSlider: {type: "float", default: 0, min: 0, max: 1}
//		filterFreq:   {type: "float"}
//	}
//
//	hook: player: derive: [
//		{field: "filterFreq", expr: "max(filterSlider * sawFreq * 7, 10)", when: ["filterSlider", "sawFreq"]},
//	]
//
// Field order follows declaration order. The CUE SDK is used through its Go
// API; no cue binary is required.
package compiler
