package builder

// holder pairs a resource with the func that releases it.
type holder struct {
	resource any
	release  func()
}

// Arena owns resources handed out across the builder boundary. Resources are
// never released early: every release func runs exactly once, in insertion
// order, when the arena itself is released.
//
// The zero value is ready to use.
type Arena struct {
	holders  []holder
	released bool
}

// Add takes ownership of resource. release may be nil. On an arena that has
// already been released, release runs immediately since nothing else will
// run it.
func (a *Arena) Add(resource any, release func()) {
	if a.released {
		if release != nil {
			release()
		}
		return
	}
	a.holders = append(a.holders, holder{resource: resource, release: release})
}

// Release runs every pending release func in insertion order. Calling it
// again is a no-op.
func (a *Arena) Release() {
	if a.released {
		return
	}
	a.released = true
	holders := a.holders
	a.holders = nil
	for _, h := range holders {
		if h.release != nil {
			h.release()
		}
	}
}

// Len returns the number of resources still owned.
func (a *Arena) Len() int { return len(a.holders) }

// Released reports whether Release has run.
func (a *Arena) Released() bool { return a.released }

// AddResource registers v with b's arena and returns v, so the caller can
// keep using it. release runs with v when b is closed.
func AddResource[T any](b *GraphBuilder, v T, release func(T)) T {
	b.arena.Add(v, func() {
		if release != nil {
			release(v)
		}
	})
	return v
}
