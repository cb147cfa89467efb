package call

import (
	"github.com/hamzaKhattat/call-mediator/pkg/errors"
)

// Arena owns every known Call by ID and maintains the parent/child links
// between them. Calls refer to one another only by ID.
//
// Like Call, an Arena belongs to a single goroutine.
type Arena struct {
	calls map[ID]*Call
}

func NewArena() *Arena {
	return &Arena{calls: make(map[ID]*Call)}
}

func (a *Arena) Put(c *Call) {
	a.calls[c.id] = c
}

func (a *Arena) Get(id ID) (*Call, bool) {
	if id == 0 {
		return nil, false
	}
	c, ok := a.calls[id]
	return c, ok
}

// Lookup returns the call or an ErrCallNotFound error.
func (a *Arena) Lookup(id ID) (*Call, error) {
	c, ok := a.Get(id)
	if !ok {
		return nil, errors.New(errors.ErrCallNotFound, "call not found").
			WithContext("call_id", id.String())
	}
	return c, nil
}

// Delete forgets the call after detaching it from its parent and children.
func (a *Arena) Delete(id ID) {
	c, ok := a.calls[id]
	if !ok {
		return
	}
	_ = a.SetParent(c, 0)
	for _, child := range c.Children() {
		if cc, ok := a.calls[child]; ok {
			_ = a.SetParent(cc, 0)
		}
	}
	delete(a.calls, id)
}

// SetParent links c under parent, or detaches it when parent is zero.
// A link that would make a call its own ancestor is refused.
func (a *Arena) SetParent(c *Call, parent ID) error {
	if c.parent == parent {
		return nil
	}
	if parent != 0 {
		p, ok := a.calls[parent]
		if !ok {
			return errors.New(errors.ErrCallNotFound, "parent call not found").
				WithContext("parent_id", parent.String())
		}
		for id := parent; id != 0; {
			if id == c.id {
				return errors.New(errors.ErrInvalidArgument, "parent link would create a cycle").
					WithContext("call_id", c.id.String()).
					WithContext("parent_id", parent.String())
			}
			anc, ok := a.calls[id]
			if !ok {
				break
			}
			id = anc.parent
		}
		a.detach(c)
		c.parent = parent
		a.addChild(p, c.id)
	} else {
		a.detach(c)
		c.parent = 0
	}
	c.notify(ChangeParent)
	return nil
}

func (a *Arena) detach(c *Call) {
	if c.parent == 0 {
		return
	}
	if p, ok := a.calls[c.parent]; ok {
		a.removeChild(p, c.id)
	}
}

func (a *Arena) addChild(p *Call, child ID) {
	for _, id := range p.children {
		if id == child {
			return
		}
	}
	p.children = append(p.children, child)
	p.activeChild = child
	p.notify(ChangeChildren)
}

func (a *Arena) removeChild(p *Call, child ID) {
	for i, id := range p.children {
		if id == child {
			p.children = append(p.children[:i], p.children[i+1:]...)
			if p.activeChild == child {
				p.activeChild = 0
				if n := len(p.children); n > 0 {
					p.activeChild = p.children[n-1]
				}
			}
			p.notify(ChangeChildren)
			return
		}
	}
}

// Swap toggles the active child of a two-party conference.
func (a *Arena) Swap(p *Call) error {
	if len(p.children) != 2 {
		return errors.New(errors.ErrInvalidState, "swap needs exactly two children").
			WithContext("call_id", p.id.String())
	}
	if p.activeChild == p.children[0] {
		p.activeChild = p.children[1]
	} else {
		p.activeChild = p.children[0]
	}
	p.notify(ChangeChildren)
	return nil
}

// Each visits every call in unspecified order.
func (a *Arena) Each(fn func(*Call)) {
	for _, c := range a.calls {
		fn(c)
	}
}
