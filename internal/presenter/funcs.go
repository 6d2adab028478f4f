// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package presenter

import (
	"strings"

	"github.com/wneessen/oncf-ar/internal/geodesy"
)

var compassPoints = []string{"N", "NE", "E", "SE", "S", "SW", "W", "NW"}

var dirIcons = map[string]string{
	"N":  "↑",
	"NE": "↗",
	"E":  "→",
	"SE": "↘",
	"S":  "↓",
	"SW": "↙",
	"W":  "←",
	"NW": "↖",
}

// degToString maps an angle in degrees to one of the eight compass points. Negative
// angles are accepted, so relative bearings map to arrows the same way.
func degToString(deg float64) string {
	idx := int((geodesy.Normalize360(deg)+22.5)/45) % len(compassPoints)
	return compassPoints[idx]
}

func dirIcon(dir string) string {
	return dirIcons[strings.ToUpper(dir)]
}
