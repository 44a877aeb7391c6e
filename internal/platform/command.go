package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/tagyoureit/luxord/internal/accessory"
	"github.com/tagyoureit/luxord/internal/luxor"
)

// SetCharacteristic applies an accessory command to the controller.
// value is a bool for on and a number for brightness, hue and saturation.
func (p *Platform) SetCharacteristic(ctx context.Context, id, characteristic string, value any) error {
	client, err := p.currentClient()
	if err != nil {
		return err
	}

	p.mu.RLock()
	r, ok := p.records[id]
	p.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAccessory, id)
	}

	log.Debug().
		Str("accessory", id).
		Str("name", r.DisplayName).
		Str("characteristic", luxor.CharacteristicName(characteristic)).
		Interface("value", value).
		Msg("Set characteristic")

	var res luxor.Result[struct{}]
	switch {
	case r.Context.Kind == accessory.KindTheme && r.Context.Theme != nil:
		res, err = p.setTheme(ctx, client, r.Context.Theme.ThemeIndex, characteristic, value)
	case r.Context.IsGroup() && r.Context.Group != nil:
		res, err = p.setGroup(ctx, client, r, characteristic, value)
	default:
		return fmt.Errorf("accessory %s has no controller context", id)
	}
	if err != nil {
		return err
	}
	if res.Stale() {
		return fmt.Errorf("%w: %s", ErrNotApplied, res.Reason)
	}
	return nil
}

func (p *Platform) setTheme(ctx context.Context, client *luxor.Client, index int, characteristic string, value any) (luxor.Result[struct{}], error) {
	if characteristic != luxor.CharacteristicOn {
		return luxor.Result[struct{}]{}, fmt.Errorf("%w: themes only support on", luxor.ErrUnsupported)
	}
	on, err := toBool(value)
	if err != nil {
		return luxor.Result[struct{}]{}, err
	}
	return client.IlluminateTheme(ctx, index, on)
}

func (p *Platform) setGroup(ctx context.Context, client *luxor.Client, r accessory.Record, characteristic string, value any) (luxor.Result[struct{}], error) {
	number := r.Context.Group.GroupNumber

	switch characteristic {
	case luxor.CharacteristicOn:
		on, err := toBool(value)
		if err != nil {
			return luxor.Result[struct{}]{}, err
		}
		level := 0
		if on {
			level = p.onLevel(r.UUID)
		}
		return client.IlluminateGroup(ctx, number, level)

	case luxor.CharacteristicBrightness:
		level, err := toInt(value)
		if err != nil {
			return luxor.Result[struct{}]{}, err
		}
		return client.IlluminateGroup(ctx, number, level)

	case luxor.CharacteristicHue, luxor.CharacteristicSaturation:
		if r.Context.Kind != accessory.KindGroupZDC {
			return luxor.Result[struct{}]{}, fmt.Errorf("%w: group %d has no color", luxor.ErrUnsupported, number)
		}
		return p.setColor(ctx, client, number, characteristic, value)
	}

	return luxor.Result[struct{}]{}, fmt.Errorf("%w: characteristic %s", luxor.ErrUnsupported, characteristic)
}

// setColor edits the palette entry the group points at.
func (p *Platform) setColor(ctx context.Context, client *luxor.Client, number int, characteristic string, value any) (luxor.Result[struct{}], error) {
	v, err := toInt(value)
	if err != nil {
		return luxor.Result[struct{}]{}, err
	}

	g, err := client.GetGroup(ctx, number)
	if err != nil {
		return luxor.Result[struct{}]{}, err
	}
	if g.ColorMode != luxor.ColorPalette {
		return luxor.Result[struct{}]{}, fmt.Errorf("%w: group %d is in %s mode", luxor.ErrUnsupported, number, g.ColorMode)
	}

	col, err := client.GetColor(ctx, g.Color)
	if err != nil {
		return luxor.Result[struct{}]{}, err
	}
	if characteristic == luxor.CharacteristicHue {
		col.Hue = v
	} else {
		col.Sat = v
	}

	res, err := client.ColorListSet(ctx, col.C, col.Hue, col.Sat)
	if err != nil {
		return luxor.Result[struct{}]{}, err
	}
	return luxor.Result[struct{}]{Source: res.Source, Reason: res.Reason}, nil
}

// onLevel is the intensity used to turn a group on.
func (p *Platform) onLevel(id string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if level, ok := p.levels[id]; ok && level > 0 {
		return level
	}
	return luxor.MaxIntensity
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n + 0.5), nil
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not a number", ErrInvalidValue, n)
		}
		return int(f + 0.5), nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not a number", ErrInvalidValue, n)
		}
		return i, nil
	}
	return 0, fmt.Errorf("%w: expected a number, got %T", ErrInvalidValue, v)
}

func toBool(v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case int, int64, float64, json.Number:
		n, err := toInt(b)
		return n != 0, err
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true", "on", "1":
			return true, nil
		case "false", "off", "0":
			return false, nil
		}
		return false, fmt.Errorf("%w: %q is not a boolean", ErrInvalidValue, b)
	}
	return false, fmt.Errorf("%w: expected a boolean, got %T", ErrInvalidValue, v)
}
