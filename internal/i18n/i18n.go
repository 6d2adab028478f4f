// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package i18n localizes the overlay. Catalogues for French and Arabic are embedded,
// English is the source language.
package i18n

import (
	"embed"
	"fmt"
	"io/fs"

	"github.com/Xuanwo/go-locale"
	"github.com/vorlif/spreak"
	"golang.org/x/text/language"
)

//go:embed locale/*
var locales embed.FS

// Supported lists the languages with a catalogue, the source language first.
var Supported = []language.Tag{language.English, language.French, language.Arabic}

var matcher = language.NewMatcher(Supported)

// New returns a localizer for loc. An empty loc is detected from the environment. Regional
// variants such as fr-MA or ar-MA use the catalogue of their base language.
func New(loc string) (*spreak.Localizer, error) {
	tag := language.Make(loc)
	if loc == "" {
		detected, err := locale.Detect()
		if err != nil {
			detected = language.English // Unable to detect locale, fallback to English
		}
		tag = detected
	}
	tag = Match(tag)

	localeFS, err := fs.Sub(locales, "locale")
	if err != nil {
		return nil, fmt.Errorf("failed to load locales: %w", err)
	}

	bundle, err := spreak.NewBundle(
		spreak.WithSourceLanguage(language.English),
		spreak.WithFallbackLanguage(language.English),
		spreak.WithDomainFs("", localeFS),
		spreak.WithLanguage(tag),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create i18n bundle: %w", err)
	}
	return spreak.NewLocalizer(bundle, tag), nil
}

// Match returns the supported language closest to tag, English if none is close.
func Match(tag language.Tag) language.Tag {
	_, idx, conf := matcher.Match(tag)
	if conf == language.No {
		return language.English
	}
	return Supported[idx]
}

// RightToLeft reports whether tag is written right to left.
func RightToLeft(tag language.Tag) bool {
	base, _ := tag.Base()
	switch base.String() {
	case "ar", "fa", "he", "ur":
		return true
	default:
		return false
	}
}
