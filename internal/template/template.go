// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package template parses the user configurable output templates and provides the
// localized helper functions available to them.
package template

import (
	"fmt"
	"math"
	"strings"
	"text/template"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/vorlif/humanize"
	"github.com/vorlif/humanize/locale/ar"
	"github.com/vorlif/humanize/locale/fr"
	"github.com/vorlif/spreak"
	"github.com/vorlif/spreak/localize"

	"github.com/wneessen/oncf-ar/internal/config"
)

type Templates struct {
	Text    *template.Template
	Tooltip *template.Template

	localizer *spreak.Localizer
	humanizer *humanize.Humanizer
}

var i18nVars = map[string]localize.MsgID{
	"office":     "National Railway Office",
	"title":      "AR Visualization",
	"permreq":    "Permissions Required",
	"permhint":   "Camera and location access needed for AR.",
	"permgrant":  "Grant Permissions",
	"acquiring":  "Acquiring position…",
	"position":   "Position",
	"heading":    "Heading",
	"updated":    "Updated",
	"inview":     "In view",
	"nearest":    "Nearest",
	"directions": "Go there",
}

var humanizeLocales = humanize.MustNew(humanize.WithLocale(fr.New(), ar.New()))

func New(conf *config.Config, loc *spreak.Localizer) (*Templates, error) {
	tpls := &Templates{
		localizer: loc,
		humanizer: humanizeLocales.CreateHumanizer(loc.Language()),
	}

	tpl, err := template.New("text").Funcs(tpls.templateFuncMap()).Parse(conf.Templates.Text)
	if err != nil {
		return tpls, fmt.Errorf("failed to parse text template: %w", err)
	}
	tpls.Text = tpl

	tpl, err = template.New("tooltip").Funcs(tpls.templateFuncMap()).Parse(conf.Templates.Tooltip)
	if err != nil {
		return tpls, fmt.Errorf("failed to parse tooltip template: %w", err)
	}
	tpls.Tooltip = tpl

	return tpls, nil
}

// Localize translates a message ID with the templates' localizer.
func (t *Templates) Localize(msgID string) string {
	if msgID == "" {
		return ""
	}
	return t.localizer.Get(msgID)
}

// NaturalTime returns a localized relative description of the given time, e.g. "3 seconds ago".
func (t *Templates) NaturalTime(val time.Time) string {
	if val.IsZero() {
		return ""
	}
	return t.humanizer.NaturalTime(val)
}

func (t *Templates) templateFuncMap() template.FuncMap {
	return template.FuncMap{
		"timeFormat":     timeFormat,
		"localizedTime":  t.localizedTime,
		"naturalTime":    t.NaturalTime,
		"floatFormat":    floatFormat,
		"emojiWithSpace": EmojiWithSpace,
		"loc":            t.loc,
		"lc":             strings.ToLower,
		"uc":             strings.ToUpper,
	}
}

func (t *Templates) loc(val string) string {
	if raw, ok := i18nVars[strings.ToLower(val)]; ok {
		return t.localizer.Get(raw)
	}
	return val
}

func (t *Templates) localizedTime(val time.Time) string {
	return t.humanizer.FormatTime(val, humanize.TimeFormat)
}

func timeFormat(val time.Time, fmt string) string {
	return val.Format(fmt)
}

func floatFormat(val float64, precision int) string {
	pow := math.Pow(10, float64(precision))
	return fmt.Sprintf("%.*f", precision, math.Trunc(val*pow)/pow)
}

func EmojiWithSpace(emoji string) string {
	if emoji == "" {
		return ""
	}
	width := runewidth.StringWidth(emoji)
	return fmt.Sprintf("%s%s", emoji, strings.Repeat(" ", width+1))
}
