package accessory

import (
	"reflect"
	"time"
)

// Options tunes a reconciliation pass.
type Options struct {
	Remove    []string // ids removed even when the controller still reports them
	RemoveAll bool
	Now       func() time.Time
}

// Plan is the outcome of a reconciliation pass.
type Plan struct {
	Updated []Record // persisted records still present, merged with fresh data
	Added   []Record
	Removed []Record
	Changed []string // ids in Updated whose name or context changed
}

// Records returns the accessory set after the plan is applied.
func (p Plan) Records() []Record {
	out := make([]Record, 0, len(p.Updated)+len(p.Added))
	out = append(out, p.Updated...)
	return append(out, p.Added...)
}

// Empty reports whether applying the plan changes nothing.
func (p Plan) Empty() bool {
	return len(p.Added) == 0 && len(p.Removed) == 0 && len(p.Changed) == 0
}

// Reconcile merges a fresh device list into the persisted accessories.
// A persisted record whose id is in fresh is updated in place; one that is
// not, or that is configured for removal, is removed; fresh records left
// over are added. Neither input is modified.
func Reconcile(existing, fresh []Record, opts Options) Plan {
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	ts := now()

	remove := make(map[string]bool, len(opts.Remove))
	for _, id := range opts.Remove {
		remove[id] = true
	}

	pending := make([]Record, 0, len(fresh))
	seen := make(map[string]bool, len(fresh))
	for _, r := range fresh {
		assignID(&r)
		if r.UUID == "" || seen[r.UUID] || opts.RemoveAll || remove[r.UUID] {
			continue
		}
		seen[r.UUID] = true
		pending = append(pending, r)
	}

	var plan Plan
	for _, old := range existing {
		match := -1
		for i := range pending {
			if pending[i].UUID == old.UUID {
				match = i
				break
			}
		}
		if match < 0 {
			plan.Removed = append(plan.Removed, old)
			continue
		}

		merged := merge(old, pending[match], ts)
		if merged.DisplayName != old.DisplayName || !reflect.DeepEqual(merged.Context, old.Context) {
			plan.Changed = append(plan.Changed, merged.UUID)
		}
		plan.Updated = append(plan.Updated, merged)
		pending = append(pending[:match], pending[match+1:]...)
	}

	for _, r := range pending {
		r.AddedAt = ts
		r.LastSeen = ts
		plan.Added = append(plan.Added, r)
	}
	return plan
}

// merge overlays the fields defined in fresh onto old.
func merge(old, fresh Record, now time.Time) Record {
	out := old
	out.LastSeen = now
	if fresh.DisplayName != "" {
		out.DisplayName = fresh.DisplayName
	}

	ctx := old.Context
	if fresh.Context.Kind != "" {
		ctx.Kind = fresh.Context.Kind
	}
	if fresh.Context.Controller != "" {
		ctx.Controller = fresh.Context.Controller
	}

	if fg := fresh.Context.Group; fg != nil {
		g := GroupContext{GroupNumber: fg.GroupNumber}
		if ctx.Group != nil {
			g = *ctx.Group
		}
		if fg.Name != "" {
			g.Name = fg.Name
		}
		if fg.Color != nil {
			color := *fg.Color
			g.Color = &color
		}
		ctx.Group = &g
		ctx.Theme = nil
	}
	if ft := fresh.Context.Theme; ft != nil {
		t := ThemeContext{ThemeIndex: ft.ThemeIndex}
		if ctx.Theme != nil {
			t = *ctx.Theme
		}
		if ft.Name != "" {
			t.Name = ft.Name
		}
		t.Synthetic = ft.Synthetic
		ctx.Theme = &t
		ctx.Group = nil
	}

	if len(fresh.Context.Extra) > 0 {
		extra := make(map[string]string, len(old.Context.Extra)+len(fresh.Context.Extra))
		for k, v := range old.Context.Extra {
			extra[k] = v
		}
		for k, v := range fresh.Context.Extra {
			extra[k] = v
		}
		ctx.Extra = extra
	}

	out.Context = ctx
	return out
}
