// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package poi

import "github.com/wneessen/oncf-ar/internal/geodesy"

// stationPoints are the points of interest of the Fès railway station concourse.
var stationPoints = []PointOfInterest{
	{
		ID:          "entrance",
		Position:    geodesy.GeoPoint{Lat: 34.0470819, Lon: -5.0051884},
		Name:        "Station entrance",
		Description: "Main station entrance",
		Icon:        "🏛️",
	},
	{
		ID:          "ticket",
		Position:    geodesy.GeoPoint{Lat: 34.047263, Lon: -5.0049376},
		Name:        "Ticket office",
		Description: "Ticket purchase",
		Icon:        "🎫",
	},
	{
		ID:          "RS",
		Position:    geodesy.GeoPoint{Lat: 34.0473483, Lon: -5.0056002},
		Name:        "Rail Shop",
		Description: "Newspapers, gifts and gadgets",
		Icon:        "🛍️",
	},
	{
		ID:          "access",
		Position:    geodesy.GeoPoint{Lat: 34.0474083, Lon: -5.005455},
		Name:        "Platform access",
		Description: "Access to the platforms",
		Icon:        "🚆",
	},
	{
		ID:          "inwi",
		Position:    geodesy.GeoPoint{Lat: 34.0470166, Lon: -5.0055264},
		Name:        "INWI agency",
		Description: "Phone shop",
		Icon:        "📱",
	},
	{
		ID:          "venicia",
		Position:    geodesy.GeoPoint{Lat: 34.0471572, Lon: -5.0055918},
		Name:        "Venicia Ice",
		Description: "Café and ice cream",
		Icon:        "🍦",
	},
	{
		ID:          "toilet",
		Position:    geodesy.GeoPoint{Lat: 34.0475047, Lon: -5.0050466},
		Name:        "Toilets",
		Description: "Public restrooms",
		Icon:        "🚻",
	},
	{
		ID:          "cafes",
		Position:    geodesy.GeoPoint{Lat: 34.0471183, Lon: -5.005576},
		Name:        "Les Cafés Picasso",
		Description: "The art of coffee since 1993",
		Icon:        "☕",
	},
	{
		ID:          "sales",
		Position:    geodesy.GeoPoint{Lat: 34.0474244, Lon: -5.0050141},
		Name:        "Sales and advice",
		Description: "Customer service and advice",
		Icon:        "💬",
	},
}

// Default returns the built-in station catalogue.
func Default() *Catalogue {
	cat, err := NewCatalogue(stationPoints...)
	if err != nil {
		panic("invalid built-in station catalogue: " + err.Error())
	}
	return cat
}
