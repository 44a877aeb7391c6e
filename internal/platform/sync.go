package platform

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/tagyoureit/luxord/internal/accessory"
	"github.com/tagyoureit/luxord/internal/eventbus"
	"github.com/tagyoureit/luxord/internal/luxor"
)

// Sync fetches groups and themes, reconciles them against the persisted
// accessories, persists the result and (re)registers callbacks. It refuses
// to reconcile against fallback data so a controller hiccup never removes
// accessories.
func (p *Platform) Sync(ctx context.Context) error {
	client, err := p.currentClient()
	if err != nil {
		return err
	}

	var fresh []accessory.Record
	if !p.opts.HideGroups {
		groups, err := client.GroupListGet(ctx)
		if err != nil {
			return fmt.Errorf("failed to fetch groups: %w", err)
		}
		if err := stale(groups.Source, "group", groups.Reason); err != nil {
			return err
		}
		for _, g := range groups.Value {
			fresh = append(fresh, accessory.FromGroup(g, client.Name()))
		}
	}

	themes, err := client.ThemeListGet(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch themes: %w", err)
	}
	if err := stale(themes.Source, "theme", themes.Reason); err != nil {
		return err
	}
	for _, t := range themes.Value {
		fresh = append(fresh, accessory.FromTheme(t, client.Name()))
	}

	existing, err := p.opts.Store.Load()
	if err != nil {
		return fmt.Errorf("%w: failed to load accessories: %w", ErrPersistence, err)
	}

	plan := accessory.Reconcile(existing, fresh, accessory.Options{
		Remove:    p.opts.Remove,
		RemoveAll: p.opts.RemoveAll,
		Now:       p.opts.Now,
	})
	if err := p.opts.Store.Apply(plan); err != nil {
		return fmt.Errorf("%w: failed to persist accessories: %w", ErrPersistence, err)
	}

	log.Info().
		Str("controller", client.Name()).
		Int("updated", len(plan.Updated)).
		Int("added", len(plan.Added)).
		Int("removed", len(plan.Removed)).
		Msg("Accessories reconciled")

	p.applyPlan(client, plan)

	// push current values to the new callbacks
	client.Callbacks().Exec(client.Snapshot())
	return nil
}

func (p *Platform) applyPlan(client *luxor.Client, plan accessory.Plan) {
	records := make(map[string]accessory.Record, len(plan.Updated)+len(plan.Added))
	counts := make(map[accessory.ContextKind]int)
	for _, r := range plan.Records() {
		records[r.UUID] = r
		counts[r.Context.Kind]++
	}

	p.mu.Lock()
	p.records = records
	p.mu.Unlock()

	for _, kind := range []accessory.ContextKind{accessory.KindGroupZD, accessory.KindGroupZDC, accessory.KindTheme} {
		p.opts.Metrics.SetAccessories(string(kind), counts[kind])
	}

	for _, r := range plan.Removed {
		client.Callbacks().Unregister(r.UUID)
		p.publish(accessoryEvent(eventbus.EventAccessoryRemoved, r))
	}
	for _, r := range plan.Added {
		p.publish(accessoryEvent(eventbus.EventAccessoryAdded, r))
	}
	changed := make(map[string]bool, len(plan.Changed))
	for _, id := range plan.Changed {
		changed[id] = true
	}
	for _, r := range plan.Updated {
		if changed[r.UUID] {
			p.publish(accessoryEvent(eventbus.EventAccessoryUpdated, r))
		}
	}

	for _, r := range plan.Records() {
		// a group can switch between ZD and ZDC; drop stale color callbacks
		client.Callbacks().Unregister(r.UUID)
		p.registerCallbacks(client, r)
	}
}

func accessoryEvent(t eventbus.EventType, r accessory.Record) eventbus.Event {
	return eventbus.Event{
		Type:        t,
		Controller:  r.Context.Controller,
		AccessoryID: r.UUID,
		Data: map[string]any{
			"display_name": r.DisplayName,
			"kind":         string(r.Context.Kind),
		},
	}
}

func (p *Platform) registerCallbacks(client *luxor.Client, r accessory.Record) {
	register := func(target luxor.Target, index int, characteristic string) {
		id := r.UUID
		client.Callbacks().Register(luxor.Callback{
			ID:             id,
			Target:         target,
			Index:          index,
			Characteristic: characteristic,
			Fn: func(value any) {
				if characteristic == luxor.CharacteristicBrightness {
					if level, ok := value.(int); ok && level > 0 {
						p.mu.Lock()
						p.levels[id] = level
						p.mu.Unlock()
					}
				}
				p.publish(eventbus.Event{
					Type:           eventbus.EventCharacteristicChanged,
					Controller:     client.Name(),
					AccessoryID:    id,
					Characteristic: characteristic,
					Value:          value,
				})
			},
		})
	}

	switch {
	case r.Context.IsGroup() && r.Context.Group != nil:
		n := r.Context.Group.GroupNumber
		register(luxor.TargetGroup, n, luxor.CharacteristicOn)
		register(luxor.TargetGroup, n, luxor.CharacteristicBrightness)
		if r.Context.Kind == accessory.KindGroupZDC {
			register(luxor.TargetGroup, n, luxor.CharacteristicHue)
			register(luxor.TargetGroup, n, luxor.CharacteristicSaturation)
		}
	case r.Context.Kind == accessory.KindTheme && r.Context.Theme != nil:
		register(luxor.TargetTheme, r.Context.Theme.ThemeIndex, luxor.CharacteristicOn)
	}
}
