package registry

import "sync"

var (
	activeMu sync.Mutex
	active   []*Registry
)

// Activate pushes the registry onto the process-wide active stack and
// returns a release function that pops it. While exactly one distinct
// registry is active, NewModule captures constructed declarations into it.
// Zero or multiple distinct active registries means no capture happens and
// construction falls back to explicit Register calls.
func (r *Registry) Activate() (release func()) {
	activeMu.Lock()
	active = append(active, r)
	activeMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			activeMu.Lock()
			defer activeMu.Unlock()
			for i := len(active) - 1; i >= 0; i-- {
				if active[i] == r {
					active = append(active[:i], active[i+1:]...)
					return
				}
			}
		})
	}
}

func soleActiveRegistry() (*Registry, bool) {
	activeMu.Lock()
	defer activeMu.Unlock()

	var sole *Registry
	for _, r := range active {
		switch {
		case sole == nil:
			sole = r
		case sole != r:
			return nil, false
		}
	}
	return sole, sole != nil
}
