package luxor

import (
	"context"
	"fmt"
	"time"
)

// GroupListGet returns all groups, fetching them when the cache is stale.
func (c *Client) GroupListGet(ctx context.Context) (Result[[]Group], error) {
	rep, err := c.exchange(ctx, endpointGroupListGet, nil, false)
	if err != nil {
		return Result[[]Group]{}, err
	}

	c.mu.Lock()
	if rep.source == SourceNetwork {
		c.groupsAt = c.now()
		c.dialect.ParseGroups(rep.resp.GroupList, c.groups, c.logger)
	}
	groups := sortedGroups(c.groups)
	c.mu.Unlock()

	return Result[[]Group]{Value: groups, Source: rep.source, Reason: rep.reason}, nil
}

// ThemeListGet returns all themes with the synthetic themes appended.
func (c *Client) ThemeListGet(ctx context.Context) (Result[[]Theme], error) {
	rep, err := c.exchange(ctx, endpointThemeListGet, nil, false)
	if err != nil {
		return Result[[]Theme]{}, err
	}

	c.mu.Lock()
	if rep.source == SourceNetwork {
		c.themesAt = c.now()
		c.themes = make([]Theme, 0, len(rep.resp.ThemeList))
		for _, wt := range rep.resp.ThemeList {
			c.themes = append(c.themes, Theme{
				ThemeIndex: wt.ThemeIndex,
				Name:       wt.Name,
				OnOff:      wt.OnOff != 0,
				Type:       TypeTheme,
			})
		}
	}
	themes := c.themeListLocked()
	c.mu.Unlock()

	return Result[[]Theme]{Value: themes, Source: rep.source, Reason: rep.reason}, nil
}

// ColorListGet returns the color palette. Controllers without color support
// return an empty list.
func (c *Client) ColorListGet(ctx context.Context) (Result[[]Color], error) {
	if !c.dialect.SupportsColor() {
		return Result[[]Color]{Source: SourceCache}, nil
	}

	rep, err := c.exchange(ctx, endpointColorListGet, nil, false)
	if err != nil {
		return Result[[]Color]{}, err
	}

	c.mu.Lock()
	if rep.source == SourceNetwork {
		c.colorsAt = c.now()
		c.colors = make(map[int]Color, len(rep.resp.ColorList))
		for _, col := range rep.resp.ColorList {
			c.colors[col.C] = col
		}
	}
	colors := sortedColors(c.colors)
	c.mu.Unlock()

	return Result[[]Color]{Value: colors, Source: rep.source, Reason: rep.reason}, nil
}

// GetGroup returns the group with the given group number.
func (c *Client) GetGroup(ctx context.Context, number int) (Group, error) {
	res, err := c.GroupListGet(ctx)
	if err != nil {
		return Group{}, err
	}
	for _, g := range res.Value {
		if g.GroupNumber == number {
			return g, nil
		}
	}
	return Group{}, fmt.Errorf("%w: group %d not in %s", ErrGroupNotFound, number, dump(res.Value))
}

// GetTheme returns the theme with the given index.
func (c *Client) GetTheme(ctx context.Context, index int) (Theme, error) {
	res, err := c.ThemeListGet(ctx)
	if err != nil {
		return Theme{}, err
	}
	for _, t := range res.Value {
		if t.ThemeIndex == index {
			return t, nil
		}
	}
	return Theme{}, fmt.Errorf("%w: theme %d not in %s", ErrThemeNotFound, index, dump(res.Value))
}

// GetColor returns the palette entry with the given index, creating a
// default entry on the controller when a fresh palette does not have it.
func (c *Client) GetColor(ctx context.Context, index int) (Color, error) {
	if !c.dialect.SupportsColor() {
		return Color{}, ErrUnsupported
	}
	if index < MinPaletteIndex || index > MaxPaletteIndex {
		return Color{}, fmt.Errorf("%w: palette index %d", ErrOutOfRange, index)
	}

	res, err := c.ColorListGet(ctx)
	if err != nil {
		return Color{}, err
	}
	for _, col := range res.Value {
		if col.C == index {
			return col, nil
		}
	}

	// a fallback palette may just be missing what the controller has
	if res.Stale() {
		return Color{}, fmt.Errorf("%w: color %d not in last known palette %s (%s)", ErrColorNotFound, index, dump(res.Value), res.Reason)
	}

	c.logger.Info().Int("color", index).Msg("Palette entry missing, creating default")
	created, err := c.ColorListSet(ctx, index, DefaultHue, DefaultSaturation)
	if err != nil {
		return Color{}, err
	}
	if created.Stale() {
		return Color{}, fmt.Errorf("%w: color %d not in %s (create failed: %s)", ErrColorNotFound, index, dump(res.Value), created.Reason)
	}
	return created.Value, nil
}

// ColorListSet writes a palette entry.
func (c *Client) ColorListSet(ctx context.Context, index, hue, sat int) (Result[Color], error) {
	if !c.dialect.SupportsColor() {
		return Result[Color]{}, ErrUnsupported
	}
	if index < MinPaletteIndex || index > MaxPaletteIndex {
		return Result[Color]{}, fmt.Errorf("%w: palette index %d", ErrOutOfRange, index)
	}
	if hue < 0 || hue > MaxHue || sat < 0 || sat > MaxSaturation {
		return Result[Color]{}, fmt.Errorf("%w: hue %d saturation %d", ErrOutOfRange, hue, sat)
	}

	col := Color{C: index, Hue: hue, Sat: sat}
	rep, err := c.exchange(ctx, endpointColorListSet, col, false)
	if err != nil {
		return Result[Color]{}, err
	}
	if rep.source != SourceNetwork {
		c.mu.RLock()
		prev := c.colors[index]
		c.mu.RUnlock()
		return Result[Color]{Value: prev, Source: rep.source, Reason: rep.reason}, nil
	}

	c.mu.Lock()
	c.colors[index] = col
	c.mu.Unlock()

	c.scheduleRefresh()
	return Result[Color]{Value: col, Source: rep.source}, nil
}

// IlluminateGroup sets a group's intensity (0 turns it off).
func (c *Client) IlluminateGroup(ctx context.Context, number, intensity int) (Result[struct{}], error) {
	if number < MinGroupNumber || number > MaxGroupNumber {
		return Result[struct{}]{}, fmt.Errorf("%w: group number %d", ErrOutOfRange, number)
	}
	if intensity < 0 || intensity > MaxIntensity {
		return Result[struct{}]{}, fmt.Errorf("%w: intensity %d", ErrOutOfRange, intensity)
	}

	body := map[string]int{"GroupNumber": number, "Intensity": intensity}
	rep, err := c.exchange(ctx, endpointIlluminateGroup, body, false)
	if err != nil {
		return Result[struct{}]{}, err
	}
	if rep.source == SourceNetwork {
		c.mu.Lock()
		if g, ok := c.groups[number]; ok {
			g.Intensity = intensity
		}
		// lit themes no longer describe the current state
		c.themesAt = time.Time{}
		c.mu.Unlock()
		c.scheduleRefresh()
	}
	return Result[struct{}]{Source: rep.source, Reason: rep.reason}, nil
}

// IlluminateTheme turns a theme on or off. The synthetic themes map to
// IlluminateAll and ExtinguishAll; turning them off is a no-op.
func (c *Client) IlluminateTheme(ctx context.Context, index int, on bool) (Result[struct{}], error) {
	switch index {
	case ThemeIlluminateAll:
		if !on {
			return Result[struct{}]{Source: SourceCache}, nil
		}
		return c.IlluminateAll(ctx)
	case ThemeExtinguishAll:
		if !on {
			return Result[struct{}]{Source: SourceCache}, nil
		}
		return c.ExtinguishAll(ctx)
	}

	if index < MinThemeIndex || index > MaxThemeIndex {
		return Result[struct{}]{}, fmt.Errorf("%w: theme index %d", ErrOutOfRange, index)
	}

	res, err := c.dialect.IlluminateTheme(ctx, c, index, on)
	if err != nil {
		return res, err
	}
	if res.Source == SourceNetwork {
		c.mu.Lock()
		for i := range c.themes {
			if c.themes[i].ThemeIndex == index {
				c.themes[i].OnOff = on
			}
		}
		c.groupsAt = time.Time{}
		c.mu.Unlock()
		c.scheduleRefresh()
	}
	return res, nil
}

// IlluminateAll turns every group on.
func (c *Client) IlluminateAll(ctx context.Context) (Result[struct{}], error) {
	return c.bulk(ctx, endpointIlluminateAll)
}

// ExtinguishAll turns every group off.
func (c *Client) ExtinguishAll(ctx context.Context) (Result[struct{}], error) {
	return c.bulk(ctx, endpointExtinguishAll)
}

func (c *Client) bulk(ctx context.Context, endpoint string) (Result[struct{}], error) {
	rep, err := c.exchange(ctx, endpoint, nil, false)
	if err != nil {
		return Result[struct{}]{}, err
	}
	if rep.source == SourceNetwork {
		c.invalidate()
		c.scheduleRefresh()
	}
	return Result[struct{}]{Source: rep.source, Reason: rep.reason}, nil
}

// GroupListEdit renames or recolors a group.
func (c *Client) GroupListEdit(ctx context.Context, name string, number, color int) (Result[struct{}], error) {
	if number < MinGroupNumber || number > MaxGroupNumber {
		return Result[struct{}]{}, fmt.Errorf("%w: group number %d", ErrOutOfRange, number)
	}

	body := map[string]any{"Name": name, "GroupNumber": number, "Color": color}
	rep, err := c.exchange(ctx, endpointGroupListEdit, body, false)
	if err != nil {
		return Result[struct{}]{}, err
	}
	if rep.source == SourceNetwork {
		c.mu.Lock()
		if g, ok := c.groups[number]; ok {
			g.Name = name
			if c.dialect.SupportsColor() {
				applyColor(g, color, c.logger)
			}
		}
		c.mu.Unlock()
		c.scheduleRefresh()
	}
	return Result[struct{}]{Source: rep.source, Reason: rep.reason}, nil
}

// invalidate marks every cached list stale.
func (c *Client) invalidate() {
	c.mu.Lock()
	c.groupsAt = time.Time{}
	c.themesAt = time.Time{}
	c.colorsAt = time.Time{}
	c.mu.Unlock()
}
