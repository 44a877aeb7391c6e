package luxor

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Kind identifies a controller firmware generation.
type Kind string

const (
	KindZD    Kind = "ZD"
	KindZDC   Kind = "ZDC"
	KindZDTWO Kind = "ZDTWO"
)

// GroupType is the accessory-facing type of a group or theme.
type GroupType string

const (
	TypeZD    GroupType = "ZD"  // dimmable, no color
	TypeZDC   GroupType = "ZDC" // dimmable with a palette color
	TypeTheme GroupType = "THEME"
)

// ColorMode describes how a group's color is driven.
type ColorMode int

const (
	ColorNone ColorMode = iota
	ColorPalette
	ColorWheel
	ColorDMX
)

func (m ColorMode) String() string {
	switch m {
	case ColorPalette:
		return "palette"
	case ColorWheel:
		return "color wheel"
	case ColorDMX:
		return "dmx"
	default:
		return "none"
	}
}

// Limits of the controller's numbering.
const (
	MinGroupNumber  = 1
	MaxGroupNumber  = 250
	MinThemeIndex   = 0
	MaxThemeIndex   = 39
	MinPaletteIndex = 1
	MaxPaletteIndex = 250
	ColorWheelFirst = 251
	ColorWheelLast  = 260
	ColorUnderDMX   = 65535
	MaxIntensity    = 100
	MaxHue          = 360
	MaxSaturation   = 100
)

// Synthetic themes fabricated on every theme list fetch.
const (
	ThemeIlluminateAll = 100
	ThemeExtinguishAll = 101
)

// Default palette entry created when a group references a missing color.
const (
	DefaultHue        = 360
	DefaultSaturation = 100
)

// Group is a light group in canonical form.
type Group struct {
	GroupNumber int       `json:"GroupNumber"`
	Name        string    `json:"Name"`
	Intensity   int       `json:"Intensity"`
	Color       int       `json:"Color"` // palette index, 0 unless ColorMode is ColorPalette
	ColorMode   ColorMode `json:"-"`
	Type        GroupType `json:"type"`
}

// On reports whether the group is lit.
func (g Group) On() bool {
	return g.Intensity > 0
}

// Theme is a named scene.
type Theme struct {
	ThemeIndex int       `json:"ThemeIndex"`
	Name       string    `json:"Name"`
	OnOff      bool      `json:"OnOff"`
	Type       GroupType `json:"type"`
	Synthetic  bool      `json:"-"`
}

// Color is a palette entry.
type Color struct {
	C   int `json:"C"`
	Hue int `json:"Hue"`
	Sat int `json:"Sat"`
}

// Snapshot is a consistent copy of a controller's cached state.
type Snapshot struct {
	Groups []Group
	Themes []Theme
	Colors []Color
}

// Group looks up a group by its group number.
func (s Snapshot) Group(number int) (Group, bool) {
	for _, g := range s.Groups {
		if g.GroupNumber == number {
			return g, true
		}
	}
	return Group{}, false
}

// Theme looks up a theme by its theme index.
func (s Snapshot) Theme(index int) (Theme, bool) {
	for _, t := range s.Themes {
		if t.ThemeIndex == index {
			return t, true
		}
	}
	return Theme{}, false
}

// Color looks up a palette entry by its index.
func (s Snapshot) Color(c int) (Color, bool) {
	for _, col := range s.Colors {
		if col.C == c {
			return col, true
		}
	}
	return Color{}, false
}

// wireTheme is a theme as the controller sends it.
type wireTheme struct {
	Name       string `json:"Name"`
	ThemeIndex int    `json:"ThemeIndex"`
	OnOff      int    `json:"OnOff"`
}

// response is the common envelope of every controller reply.
type response struct {
	Status     int               `json:"Status"`
	StatusStr  string            `json:"StatusStr,omitempty"`
	Controller string            `json:"Controller,omitempty"`
	GroupList  []json.RawMessage `json:"GroupList,omitempty"`
	ThemeList  []wireTheme       `json:"ThemeList,omitempty"`
	ColorList  []Color           `json:"ColorList,omitempty"`
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func sortedGroups(table map[int]*Group) []Group {
	groups := make([]Group, 0, len(table))
	for _, g := range table {
		groups = append(groups, *g)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].GroupNumber < groups[j].GroupNumber })
	return groups
}

func sortedColors(table map[int]Color) []Color {
	colors := make([]Color, 0, len(table))
	for _, c := range table {
		colors = append(colors, c)
	}
	sort.Slice(colors, func(i, j int) bool { return colors[i].C < colors[j].C })
	return colors
}

// dump renders a list for not-found errors.
func dump[T any](items []T) string {
	parts := make([]string, 0, len(items))
	for _, item := range items {
		parts = append(parts, fmt.Sprintf("%+v", item))
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
