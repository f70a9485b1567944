// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package playback

import (
	"errors"
	"sync"
)

var ErrAnotherActive = errors.New("another controller is active")

// Deck is the set of controllers of one feed. At most one of them is active
// at a time; activating a second one fails until the first is deactivated.
type Deck struct {
	mu     sync.Mutex
	active *Controller
}

func NewDeck() *Deck {
	return &Deck{}
}

// NewController creates a controller bound to the deck.
func (d *Deck) NewController(cfg Config) *Controller {
	c := NewController(cfg)
	c.deck = d
	return c
}

// Active returns the active controller, or nil.
func (d *Deck) Active() *Controller {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

func (d *Deck) acquire(c *Controller) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.active != nil && d.active != c {
		return ErrAnotherActive
	}
	d.active = c
	return nil
}

func (d *Deck) release(c *Controller) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.active == c {
		d.active = nil
	}
}
