package proctor

import "fmt"

// Cursor tracks the question currently shown to the learner.
type Cursor struct {
	index int
	count int
}

// NewCursor returns a cursor at the first of count questions.
func NewCursor(count int) *Cursor {
	return &Cursor{count: count}
}

// Index returns the current zero-based question index.
func (c *Cursor) Index() int {
	return c.index
}

// Count returns the number of questions.
func (c *Cursor) Count() int {
	return c.count
}

// Next moves forward one question, staying put on the last one.
func (c *Cursor) Next() {
	if c.index < c.count-1 {
		c.index++
	}
}

// Previous moves back one question, staying put on the first one.
func (c *Cursor) Previous() {
	if c.index > 0 {
		c.index--
	}
}

// JumpTo moves to any question in [0, count).
func (c *Cursor) JumpTo(index int) error {
	if index < 0 || index >= c.count {
		return fmt.Errorf("index %d of %d: %w", index, c.count, ErrOutOfRange)
	}
	c.index = index
	return nil
}
