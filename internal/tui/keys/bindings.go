package keys

import "github.com/gdamore/tcell/v2"

// Action represents a keybinding action.
type Action struct {
	Name        string
	Key         tcell.Key
	Rune        rune
	Description string
	Handler     func()
	Visible     bool
}

// Matches returns true if key and r trigger this action. r is only
// compared for tcell.KeyRune.
func (a *Action) Matches(key tcell.Key, r rune) bool {
	if a.Key != tcell.KeyRune {
		return key == a.Key
	}
	return key == tcell.KeyRune && r == a.Rune
}

// Registry holds keybindings organized by scope, in registration order.
type Registry struct {
	global []*Action
	views  map[string][]*Action
}

// NewRegistry creates a new keybinding registry.
func NewRegistry() *Registry {
	return &Registry{views: make(map[string][]*Action)}
}

// AddGlobal registers a global keybinding. A binding with the same name
// replaces the earlier one.
func (r *Registry) AddGlobal(action *Action) {
	r.global = put(r.global, action)
}

// AddView registers a view-specific keybinding.
func (r *Registry) AddView(view string, action *Action) {
	r.views[view] = put(r.views[view], action)
}

func put(list []*Action, action *Action) []*Action {
	for i, a := range list {
		if a.Name == action.Name {
			list[i] = action
			return list
		}
	}
	return append(list, action)
}

// Hints returns visible keybinding descriptions for a view, view bindings
// first.
func (r *Registry) Hints(view string) []string {
	var hints []string
	for _, list := range [][]*Action{r.views[view], r.global} {
		for _, a := range list {
			if a.Visible {
				hints = append(hints, a.Description)
			}
		}
	}
	return hints
}

// HandleEvent dispatches a key event to the matching action of view, then
// to global actions. Returns true if a handler matched.
func (r *Registry) HandleEvent(view string, ev *tcell.EventKey) bool {
	return r.HandleKey(view, ev.Key(), ev.Rune())
}

// HandleKey is HandleEvent for a decoded key.
func (r *Registry) HandleKey(view string, key tcell.Key, ch rune) bool {
	for _, list := range [][]*Action{r.views[view], r.global} {
		for _, a := range list {
			if a.Matches(key, ch) {
				a.Handler()
				return true
			}
		}
	}
	return false
}
