package query

import (
	"fmt"
	"strings"
	"time"
)

type Order int

const (
	Ascending Order = iota
	Descending
)

func (o Order) String() string {
	if o == Descending {
		return "desc"
	}
	return "asc"
}

func ParseOrder(s string) (Order, error) {
	switch strings.ToLower(s) {
	case "", "asc":
		return Ascending, nil
	case "desc":
		return Descending, nil
	default:
		return Ascending, fmt.Errorf("unknown order %q", s)
	}
}

// SQL returns the ORDER BY direction keyword.
func (o Order) SQL() string {
	if o == Descending {
		return "DESC"
	}
	return "ASC"
}

type Option func(*Options)

func WithLimit(limit int) Option {
	return func(o *Options) {
		if limit > 0 {
			o.Limit = limit
		}
	}
}

// Cursor is a position in a listing ordered by creation time, with ties
// broken by id.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// WithCursor resumes after the record (createdAt, id), in query order.
func WithCursor(createdAt time.Time, id string) Option {
	return func(o *Options) {
		o.Cursor = &Cursor{CreatedAt: createdAt, ID: id}
	}
}

func WithOrder(order Order) Option {
	return func(o *Options) {
		o.Order = order
	}
}

func WithAscending() Option {
	return func(o *Options) {
		o.Order = Ascending
	}
}

func WithDescending() Option {
	return func(o *Options) {
		o.Order = Descending
	}
}

type Options struct {
	Limit  int
	Cursor *Cursor
	Order  Order
}

func DefaultOptions() Options {
	return Options{
		Limit: 100,
		Order: Ascending,
	}
}

func ApplyOptions(options ...Option) Options {
	applied := DefaultOptions()
	for _, option := range options {
		option(&applied)
	}
	return applied
}

// After reports whether the record (createdAt, id) comes after the cursor.
func (o Options) After(createdAt time.Time, id string) bool {
	if o.Cursor == nil {
		return true
	}
	c := compare(createdAt, id, o.Cursor.CreatedAt, o.Cursor.ID)
	if o.Order == Descending {
		return c < 0
	}
	return c > 0
}

// Less reports whether record a sorts before record b in query order.
func (o Options) Less(aCreatedAt time.Time, aID string, bCreatedAt time.Time, bID string) bool {
	c := compare(aCreatedAt, aID, bCreatedAt, bID)
	if o.Order == Descending {
		return c > 0
	}
	return c < 0
}

func compare(aCreatedAt time.Time, aID string, bCreatedAt time.Time, bID string) int {
	if c := aCreatedAt.Compare(bCreatedAt); c != 0 {
		return c
	}
	return strings.Compare(aID, bID)
}
