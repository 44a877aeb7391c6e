package luxor

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"
)

// Dialect captures what differs between controller generations.
type Dialect interface {
	Kind() Kind
	// SupportsColor reports whether groups carry palette colors.
	SupportsColor() bool
	// ParseGroups folds a raw GroupList into table, keyed by group number.
	ParseGroups(raw []json.RawMessage, table map[int]*Group, logger zerolog.Logger)
	// IlluminateTheme sends an IlluminateTheme request for a controller theme.
	IlluminateTheme(ctx context.Context, c *Client, index int, on bool) (Result[struct{}], error)
}

type zd struct{}

func (zd) Kind() Kind          { return KindZD }
func (zd) SupportsColor() bool { return false }

func (zd) ParseGroups(raw []json.RawMessage, table map[int]*Group, logger zerolog.Logger) {
	parseCanonicalGroups(raw, table, logger)
}

func (zd) IlluminateTheme(ctx context.Context, c *Client, index int, on bool) (Result[struct{}], error) {
	return sendIlluminateTheme(ctx, c, index, on, false)
}

type zdc struct{}

func (zdc) Kind() Kind          { return KindZDC }
func (zdc) SupportsColor() bool { return true }

func (zdc) ParseGroups(raw []json.RawMessage, table map[int]*Group, logger zerolog.Logger) {
	mergeAbbreviatedGroups(raw, table, logger)
}

func (zdc) IlluminateTheme(ctx context.Context, c *Client, index int, on bool) (Result[struct{}], error) {
	return sendIlluminateTheme(ctx, c, index, on, false)
}

// zdtwo parses like ZDC. Its firmware resets the connection after some
// IlluminateTheme requests even though the theme was applied.
type zdtwo struct{}

func (zdtwo) Kind() Kind          { return KindZDTWO }
func (zdtwo) SupportsColor() bool { return true }

func (zdtwo) ParseGroups(raw []json.RawMessage, table map[int]*Group, logger zerolog.Logger) {
	mergeAbbreviatedGroups(raw, table, logger)
}

func (zdtwo) IlluminateTheme(ctx context.Context, c *Client, index int, on bool) (Result[struct{}], error) {
	return sendIlluminateTheme(ctx, c, index, on, true)
}

func sendIlluminateTheme(ctx context.Context, c *Client, index int, on bool, tolerateReset bool) (Result[struct{}], error) {
	body := map[string]int{"ThemeIndex": index, "OnOff": boolToInt(on)}
	rep, err := c.exchange(ctx, endpointIlluminateTheme, body, tolerateReset)
	if err != nil {
		return Result[struct{}]{}, err
	}
	return Result[struct{}]{Source: rep.source, Reason: rep.reason}, nil
}

// canonicalGroup is the ZD wire shape.
type canonicalGroup struct {
	GroupNumber *int    `json:"GroupNumber"`
	Name        *string `json:"Name"`
	Intensity   *int    `json:"Intensity"`
}

// parseCanonicalGroups replaces the table with the raw list as sent.
func parseCanonicalGroups(raw []json.RawMessage, table map[int]*Group, logger zerolog.Logger) {
	for k := range table {
		delete(table, k)
	}
	for _, item := range raw {
		var wg canonicalGroup
		if err := json.Unmarshal(item, &wg); err != nil || wg.GroupNumber == nil {
			logger.Warn().Err(err).RawJSON("group", item).Msg("Skipping unparseable group")
			continue
		}
		g := &Group{GroupNumber: *wg.GroupNumber, Type: TypeZD}
		if wg.Name != nil {
			g.Name = *wg.Name
		}
		if wg.Intensity != nil {
			g.Intensity = *wg.Intensity
		}
		table[g.GroupNumber] = g
	}
}

// abbreviatedGroup is the ZDC/ZDTWO wire shape. Canonical names are accepted
// as well since some firmware revisions mix them.
type abbreviatedGroup struct {
	Grp         *int    `json:"Grp"`
	Inten       *int    `json:"Inten"`
	Colr        *int    `json:"Colr"`
	Name        *string `json:"Name"`
	GroupNumber *int    `json:"GroupNumber"`
	Intensity   *int    `json:"Intensity"`
	Color       *int    `json:"Color"`
}

func firstSet(values ...*int) *int {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}

// mergeAbbreviatedGroups renames Grp/Inten/Colr to canonical fields and
// merges each record into the existing entry for its group number, keeping
// fields the record does not carry. Groups missing from the list are dropped.
func mergeAbbreviatedGroups(raw []json.RawMessage, table map[int]*Group, logger zerolog.Logger) {
	seen := make(map[int]bool, len(raw))

	for _, item := range raw {
		var wg abbreviatedGroup
		if err := json.Unmarshal(item, &wg); err != nil {
			logger.Warn().Err(err).RawJSON("group", item).Msg("Skipping unparseable group")
			continue
		}
		number := firstSet(wg.Grp, wg.GroupNumber)
		if number == nil {
			logger.Warn().RawJSON("group", item).Msg("Skipping group without a group number")
			continue
		}

		g, ok := table[*number]
		if !ok {
			g = &Group{GroupNumber: *number, Type: TypeZD}
			table[*number] = g
		}
		seen[*number] = true

		if wg.Name != nil {
			g.Name = *wg.Name
		}
		if v := firstSet(wg.Inten, wg.Intensity); v != nil {
			g.Intensity = *v
		}
		if v := firstSet(wg.Colr, wg.Color); v != nil {
			applyColor(g, *v, logger)
		}
	}

	for number := range table {
		if !seen[number] {
			delete(table, number)
		}
	}
}

// applyColor assigns a raw color reference. Color wheel and DMX references
// are not palette colors: the group is kept monochrome.
func applyColor(g *Group, colr int, logger zerolog.Logger) {
	switch {
	case colr == 0:
		g.Color = 0
		g.ColorMode = ColorNone
		g.Type = TypeZD
	case colr >= MinPaletteIndex && colr <= MaxPaletteIndex:
		g.Color = colr
		g.ColorMode = ColorPalette
		g.Type = TypeZDC
	case colr >= ColorWheelFirst && colr <= ColorWheelLast:
		logger.Warn().
			Int("group", g.GroupNumber).
			Str("name", g.Name).
			Int("color", colr).
			Msg("Group is on the color wheel, color changes are not supported")
		g.Color = 0
		g.ColorMode = ColorWheel
		g.Type = TypeZD
	case colr == ColorUnderDMX:
		logger.Warn().
			Int("group", g.GroupNumber).
			Str("name", g.Name).
			Msg("Group is under DMX control, color changes are not supported")
		g.Color = 0
		g.ColorMode = ColorDMX
		g.Type = TypeZD
	default:
		logger.Warn().
			Int("group", g.GroupNumber).
			Int("color", colr).
			Msg("Group color out of range")
		g.Color = 0
		g.ColorMode = ColorNone
		g.Type = TypeZD
	}
}
