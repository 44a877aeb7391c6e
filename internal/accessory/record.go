// Package accessory maps controller groups and themes to persisted
// accessory records and reconciles them against a fresh device list.
package accessory

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tagyoureit/luxord/internal/luxor"
)

// namespace scopes the derived accessory ids.
var namespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("luxord"))

// ContextKind tags which variant a Context holds.
type ContextKind string

const (
	KindGroupZD  ContextKind = "group_zd"
	KindGroupZDC ContextKind = "group_zdc"
	KindTheme    ContextKind = "theme"
)

// GroupContext identifies a controller group. Nil or empty fields are
// unknown and never overwrite a known value on merge.
type GroupContext struct {
	GroupNumber int    `json:"groupNumber"`
	Name        string `json:"name,omitempty"`
	Color       *int   `json:"color,omitempty"`
}

// ThemeContext identifies a controller theme.
type ThemeContext struct {
	ThemeIndex int    `json:"themeIndex"`
	Name       string `json:"name,omitempty"`
	Synthetic  bool   `json:"synthetic,omitempty"`
}

// Context is the blob stored with an accessory. Exactly one of Group and
// Theme is set, matching Kind.
type Context struct {
	Kind       ContextKind   `json:"kind"`
	Controller string        `json:"controller,omitempty"`
	Group      *GroupContext `json:"group,omitempty"`
	Theme      *ThemeContext `json:"theme,omitempty"`

	// Extra holds host-owned values; reconciliation never drops them.
	Extra map[string]string `json:"extra,omitempty"`
}

// IsGroup reports whether the context describes a group.
func (c Context) IsGroup() bool {
	return c.Kind == KindGroupZD || c.Kind == KindGroupZDC
}

// Record is one persisted accessory.
type Record struct {
	UUID        string    `json:"uuid"`
	DisplayName string    `json:"displayName"`
	Context     Context   `json:"context"`
	AddedAt     time.Time `json:"addedAt"`
	LastSeen    time.Time `json:"lastSeen"`
}

// GroupID returns the stable id of a group. It depends only on the group
// number, so controller-side renames keep the accessory.
func GroupID(groupNumber int) string {
	return uuid.NewSHA1(namespace, []byte(fmt.Sprintf("group.-%d", groupNumber))).String()
}

// ThemeID returns the stable id of a theme.
func ThemeID(themeIndex int) string {
	return uuid.NewSHA1(namespace, []byte(fmt.Sprintf("theme-%d", themeIndex))).String()
}

// assignID sets the record's stable id from its context.
func assignID(r *Record) {
	switch {
	case r.Context.IsGroup() && r.Context.Group != nil:
		r.UUID = GroupID(r.Context.Group.GroupNumber)
	case r.Context.Kind == KindTheme && r.Context.Theme != nil:
		r.UUID = ThemeID(r.Context.Theme.ThemeIndex)
	}
}

// FromGroup builds a fresh record for a controller group.
func FromGroup(g luxor.Group, controller string) Record {
	kind := KindGroupZD
	gc := &GroupContext{GroupNumber: g.GroupNumber, Name: g.Name}
	if g.Type == luxor.TypeZDC {
		kind = KindGroupZDC
		color := g.Color
		gc.Color = &color
	}

	name := g.Name
	if name == "" {
		name = fmt.Sprintf("Group %d", g.GroupNumber)
	}

	r := Record{
		DisplayName: name,
		Context:     Context{Kind: kind, Controller: controller, Group: gc},
	}
	assignID(&r)
	return r
}

// FromTheme builds a fresh record for a controller theme.
func FromTheme(t luxor.Theme, controller string) Record {
	name := t.Name
	if name == "" {
		name = fmt.Sprintf("Theme %d", t.ThemeIndex)
	}

	r := Record{
		DisplayName: name,
		Context: Context{
			Kind:       KindTheme,
			Controller: controller,
			Theme:      &ThemeContext{ThemeIndex: t.ThemeIndex, Name: t.Name, Synthetic: t.Synthetic},
		},
	}
	assignID(&r)
	return r
}
