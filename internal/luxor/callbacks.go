package luxor

import (
	"sync"

	"github.com/brutella/hap/characteristic"
)

// Target says what a callback's Index refers to.
type Target int

const (
	TargetGroup Target = iota
	TargetTheme
)

// Characteristic tags understood by the registry. They are HomeKit
// characteristic type ids.
const (
	CharacteristicOn         = characteristic.TypeOn
	CharacteristicBrightness = characteristic.TypeBrightness
	CharacteristicHue        = characteristic.TypeHue
	CharacteristicSaturation = characteristic.TypeSaturation
)

// Callback is a listener for one characteristic of one accessory.
type Callback struct {
	ID             string // accessory stable id
	Target         Target
	Index          int    // group number or theme index
	Characteristic string // opaque comparison key
	Fn             func(value any)
}

type registration struct {
	Callback
	last   any
	primed bool
}

// Callbacks keeps accessories in sync with polled state without them
// polling the controller themselves.
type Callbacks struct {
	mu      sync.Mutex
	entries []*registration
}

// NewCallbacks creates an empty registry.
func NewCallbacks() *Callbacks {
	return &Callbacks{}
}

// Register adds a callback. A callback with the same ID and Characteristic
// replaces the existing one in place.
func (r *Callbacks) Register(cb Callback) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, e := range r.entries {
		if e.ID == cb.ID && e.Characteristic == cb.Characteristic {
			r.entries[i] = &registration{Callback: cb}
			return
		}
	}
	r.entries = append(r.entries, &registration{Callback: cb})
}

// Unregister removes every callback of an accessory and returns how many
// were removed.
func (r *Callbacks) Unregister(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.entries[:0]
	removed := 0
	for _, e := range r.entries {
		if e.ID == id {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	for i := len(kept); i < len(r.entries); i++ {
		r.entries[i] = nil
	}
	r.entries = kept
	return removed
}

// Len returns the number of registered callbacks.
func (r *Callbacks) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

type pending struct {
	fn    func(any)
	value any
}

// Exec invokes every callback whose value in s differs from the value it
// was last given. Callbacks whose target is absent from s are skipped.
func (r *Callbacks) Exec(s Snapshot) {
	r.mu.Lock()
	var calls []pending
	for _, e := range r.entries {
		value, ok := valueOf(s, e.Callback)
		if !ok {
			continue
		}
		if e.primed && e.last == value {
			continue
		}
		e.last = value
		e.primed = true
		calls = append(calls, pending{fn: e.Fn, value: value})
	}
	r.mu.Unlock()

	for _, call := range calls {
		call.fn(call.value)
	}
}

// valueOf resolves a callback's current value. Everything is looked up by
// key field, never by position.
func valueOf(s Snapshot, cb Callback) (any, bool) {
	switch cb.Target {
	case TargetTheme:
		t, ok := s.Theme(cb.Index)
		if !ok || cb.Characteristic != CharacteristicOn {
			return nil, false
		}
		return t.OnOff, true

	case TargetGroup:
		g, ok := s.Group(cb.Index)
		if !ok {
			return nil, false
		}
		switch cb.Characteristic {
		case CharacteristicOn:
			return g.On(), true
		case CharacteristicBrightness:
			return g.Intensity, true
		case CharacteristicHue, CharacteristicSaturation:
			if g.ColorMode != ColorPalette {
				return nil, false
			}
			col, ok := s.Color(g.Color)
			if !ok {
				return nil, false
			}
			if cb.Characteristic == CharacteristicHue {
				return col.Hue, true
			}
			return col.Sat, true
		}
	}
	return nil, false
}

var characteristicNames = map[string]string{
	CharacteristicOn:         "on",
	CharacteristicBrightness: "brightness",
	CharacteristicHue:        "hue",
	CharacteristicSaturation: "saturation",
}

// CharacteristicName returns the short name of a characteristic tag, or the
// tag itself when it is not one the registry knows.
func CharacteristicName(tag string) string {
	if name, ok := characteristicNames[tag]; ok {
		return name
	}
	return tag
}

// CharacteristicFromName resolves a short name back to its tag.
func CharacteristicFromName(name string) (string, bool) {
	for tag, n := range characteristicNames {
		if n == name {
			return tag, true
		}
	}
	return "", false
}
