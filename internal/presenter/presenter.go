// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package presenter

import (
	"bytes"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"text/template"
	"time"

	"github.com/vorlif/spreak"

	"github.com/wneessen/oncf-ar/internal/config"
	"github.com/wneessen/oncf-ar/internal/geodesy"
	"github.com/wneessen/oncf-ar/internal/i18n"
	"github.com/wneessen/oncf-ar/internal/projection"
	"github.com/wneessen/oncf-ar/internal/session"
	tpl "github.com/wneessen/oncf-ar/internal/template"
)

const directionsURL = "https://www.google.com/maps/dir/"

// MarkerView wraps a projected point of interest with presentation-related fields.
type MarkerView struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Description   string `json:"description"`
	Icon          string `json:"icon"`
	IconWithSpace string `json:"icon_with_space"`
	Visible       bool   `json:"visible"`

	// Screen placement, only meaningful if Visible is true.
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Scale float64 `json:"scale"`

	// Distance and bearing are filled whenever the observer position is known.
	HasDistance   bool    `json:"has_distance"`
	Distance      float64 `json:"distance"`
	DistanceLabel string  `json:"distance_label"`
	Bearing       float64 `json:"bearing"`
	Direction     string  `json:"direction"`
	DirectionsURL string  `json:"directions_url"`
}

// Focus points the user towards a single point of interest, on- or off-screen.
type Focus struct {
	Marker          MarkerView `json:"marker"`
	RelativeBearing float64    `json:"relative_bearing"`
	Arrow           string     `json:"arrow"`
}

type TemplateContext struct {
	SessionID          string `json:"session_id"`
	State              string `json:"state"`
	Class              string `json:"class"`
	PermissionRequired bool   `json:"permission_required"`
	Active             bool   `json:"active"`
	RTL                bool   `json:"rtl"`

	HasPosition bool      `json:"has_position"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	Position    string    `json:"position"`
	Heading     float64   `json:"heading"`
	HeadingIcon string    `json:"heading_icon"`
	Pitch       float64   `json:"pitch"`
	Roll        float64   `json:"roll"`
	UpdateTime  time.Time `json:"update_time"`

	Markers []MarkerView `json:"markers"`
	Visible []MarkerView `json:"visible"`
	Total   int          `json:"total"`
	Focus   *Focus       `json:"focus"`
}

type Presenter struct {
	TextTemplate    *template.Template
	TooltipTemplate *template.Template

	templates *tpl.Templates
	rtl       bool
}

// New parses the configured templates and verifies that they render against an empty context.
func New(conf *config.Config, loc *spreak.Localizer) (*Presenter, error) {
	tpls, err := tpl.New(conf, loc)
	if err != nil {
		return nil, err
	}
	pres := &Presenter{
		TextTemplate:    tpls.Text,
		TooltipTemplate: tpls.Tooltip,
		templates:       tpls,
		rtl:             i18n.RightToLeft(loc.Language()),
	}
	if _, err = pres.Render(TemplateContext{}); err != nil {
		return nil, err
	}
	return pres, nil
}

// BuildContext converts a session frame into the template context. focusID selects the
// point of interest to guide towards. If it is empty or unknown, the nearest one is used.
func (p *Presenter) BuildContext(frame session.Frame, focusID string) TemplateContext {
	ctx := TemplateContext{
		SessionID:          frame.SessionID,
		State:              frame.State.String(),
		Class:              frameClass(frame),
		PermissionRequired: frame.PermissionRequired,
		Active:             frame.State == session.StateActive,
		RTL:                p.rtl,
		Heading:            frame.Observer.Heading.Value(),
		Pitch:              frame.Observer.Pitch.Value(),
		Roll:               frame.Observer.Roll.Value(),
		UpdateTime:         frame.At,
		Total:              len(frame.Markers),
		Markers:            make([]MarkerView, 0, len(frame.Markers)),
	}
	ctx.HeadingIcon = dirIcon(degToString(ctx.Heading))

	pos, hasPos := frame.Observer.Position.Get()
	if hasPos {
		ctx.HasPosition = true
		ctx.Latitude = pos.Lat
		ctx.Longitude = pos.Lon
		ctx.Position = fmt.Sprintf("%.5f, %.5f", pos.Lat, pos.Lon)
	}

	var focus, nearest *Focus
	for _, marker := range frame.Markers {
		view := p.viewFromMarker(marker, frame.Observer)
		ctx.Markers = append(ctx.Markers, view)
		if view.Visible {
			ctx.Visible = append(ctx.Visible, view)
		}

		rel, _, ok := projection.Guidance(marker.POI.Position, frame.Observer)
		if !ok {
			continue
		}
		candidate := &Focus{Marker: view, RelativeBearing: rel, Arrow: dirIcon(degToString(rel))}
		if focusID != "" && marker.POI.ID == focusID {
			focus = candidate
		}
		if nearest == nil || view.Distance < nearest.Marker.Distance {
			nearest = candidate
		}
	}
	ctx.Focus = focus
	if ctx.Focus == nil {
		ctx.Focus = nearest
	}

	return ctx
}

// Render executes the text and tooltip templates for the given context.
func (p *Presenter) Render(ctx TemplateContext) (map[string]string, error) {
	outputs := make(map[string]string)
	templates := []struct {
		name string
		tpl  *template.Template
	}{
		{"text", p.TextTemplate},
		{"tooltip", p.TooltipTemplate},
	}
	for _, t := range templates {
		buf := bytes.NewBuffer(nil)
		if err := t.tpl.Execute(buf, ctx); err != nil {
			return nil, fmt.Errorf("failed to render %s template: %w", t.name, err)
		}
		outputs[t.name] = buf.String()
	}
	return outputs, nil
}

func (p *Presenter) viewFromMarker(marker projection.Marker, obs projection.Observer) MarkerView {
	view := MarkerView{
		ID:            marker.POI.ID,
		Name:          p.templates.Localize(marker.POI.Name),
		Description:   p.templates.Localize(marker.POI.Description),
		Icon:          marker.POI.Icon,
		IconWithSpace: tpl.EmojiWithSpace(marker.POI.Icon),
		Visible:       marker.Visible,
		DirectionsURL: directions(marker.POI.Position),
	}
	if marker.Visible {
		view.X = marker.Projection.ScreenX
		view.Y = marker.Projection.ScreenY
		view.Scale = marker.Projection.Scale
	}
	if pos, ok := obs.Position.Get(); ok {
		view.HasDistance = true
		view.Distance = geodesy.Distance(pos, marker.POI.Position)
		view.Bearing = geodesy.Bearing(pos, marker.POI.Position)
		view.DistanceLabel = distanceLabel(view.Distance)
		view.Direction = degToString(view.Bearing)
	}
	return view
}

// distanceLabel formats meters below one kilometer rounded to whole meters, kilometers
// with one decimal otherwise.
func distanceLabel(meters float64) string {
	if meters >= 1000 {
		return strconv.FormatFloat(meters/1000, 'f', 1, 64) + " km"
	}
	return strconv.FormatFloat(math.Round(meters), 'f', 0, 64) + " m"
}

// directions returns a walking navigation link to the given point.
func directions(to geodesy.GeoPoint) string {
	query := url.Values{}
	query.Set("api", "1")
	query.Set("destination", strconv.FormatFloat(to.Lat, 'f', -1, 64)+","+
		strconv.FormatFloat(to.Lon, 'f', -1, 64))
	query.Set("travelmode", "walking")
	return directionsURL + "?" + query.Encode()
}

func frameClass(frame session.Frame) string {
	if frame.PermissionRequired {
		return "permission"
	}
	return frame.State.String()
}
