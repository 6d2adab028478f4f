// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package poi holds the fixed points of interest that are annotated in the AR overlay.
package poi

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kkyr/fig"

	"github.com/wneessen/oncf-ar/internal/geodesy"
)

var (
	ErrEmptyCatalogue = errors.New("catalogue contains no points of interest")
	ErrDuplicateID    = errors.New("duplicate point of interest id")
	ErrMissingID      = errors.New("point of interest without id")
	ErrInvalidPos     = errors.New("point of interest has an invalid position")
)

// PointOfInterest is a fixed real-world location annotated in the AR overlay. Name and
// Description are English message IDs that are localized at presentation time.
type PointOfInterest struct {
	ID          string
	Position    geodesy.GeoPoint
	Name        string
	Description string
	Icon        string
}

// Catalogue is an immutable, ordered set of points of interest with unique IDs.
type Catalogue struct {
	points []PointOfInterest
	index  map[string]int
}

// catalogueFile is the on-disk representation of a catalogue as read by fig.
type catalogueFile struct {
	Points []struct {
		ID          string  `fig:"id"`
		Name        string  `fig:"name"`
		Description string  `fig:"description"`
		Icon        string  `fig:"icon"`
		Lat         float64 `fig:"lat"`
		Lon         float64 `fig:"lon"`
	} `fig:"points"`
}

// NewCatalogue validates the given points and returns a Catalogue preserving their order.
func NewCatalogue(points ...PointOfInterest) (*Catalogue, error) {
	if len(points) == 0 {
		return nil, ErrEmptyCatalogue
	}
	cat := &Catalogue{
		points: make([]PointOfInterest, 0, len(points)),
		index:  make(map[string]int, len(points)),
	}
	for _, p := range points {
		p.ID = strings.TrimSpace(p.ID)
		if p.ID == "" {
			return nil, ErrMissingID
		}
		if _, ok := cat.index[p.ID]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateID, p.ID)
		}
		if !p.Position.Valid() {
			return nil, fmt.Errorf("%w: %s (%s)", ErrInvalidPos, p.ID, p.Position)
		}
		cat.index[p.ID] = len(cat.points)
		cat.points = append(cat.points, p)
	}
	return cat, nil
}

// Load reads a catalogue from a toml, yaml or json file.
func Load(path, file string) (*Catalogue, error) {
	if _, err := os.Stat(filepath.Join(path, file)); err != nil {
		return nil, fmt.Errorf("failed to read catalogue: %w", err)
	}
	raw := new(catalogueFile)
	if err := fig.Load(raw, fig.Dirs(path), fig.File(file)); err != nil {
		return nil, fmt.Errorf("failed to load catalogue: %w", err)
	}

	points := make([]PointOfInterest, 0, len(raw.Points))
	for _, p := range raw.Points {
		points = append(points, PointOfInterest{
			ID:          p.ID,
			Position:    geodesy.GeoPoint{Lat: p.Lat, Lon: p.Lon},
			Name:        p.Name,
			Description: p.Description,
			Icon:        p.Icon,
		})
	}
	return NewCatalogue(points...)
}

// All returns a copy of the points of interest in catalogue order.
func (c *Catalogue) All() []PointOfInterest {
	out := make([]PointOfInterest, len(c.points))
	copy(out, c.points)
	return out
}

// Len returns the number of points of interest.
func (c *Catalogue) Len() int {
	return len(c.points)
}

// Get looks up a point of interest by its ID.
func (c *Catalogue) Get(id string) (PointOfInterest, bool) {
	idx, ok := c.index[id]
	if !ok {
		return PointOfInterest{}, false
	}
	return c.points[idx], true
}
