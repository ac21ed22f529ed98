// Package jsrs implements the JavaScript Record Serialization format used on
// the JSTP wire: a tokenizer, a recursive-descent parser and a serializer
// that is the exact inverse of the parser.
package jsrs

import (
	"math"
)

// Value is a sealed interface representing one node of a record tree.
// Only Null, Undefined, Bool, Number, String, *Object and Array implement it.
type Value interface {
	jsValue()
}

// Null is the null literal.
type Null struct{}

func (Null) jsValue() {}

// Undefined is the undefined literal. Array holes parse to Undefined.
type Undefined struct{}

func (Undefined) jsValue() {}

// Bool is a boolean literal.
type Bool bool

func (Bool) jsValue() {}

// Number is a numeric literal. All numbers are float64 on the value level.
type Number float64

func (Number) jsValue() {}

// IsInteger reports whether n has no fractional part and is finite.
func (n Number) IsInteger() bool {
	f := float64(n)
	return !math.IsNaN(f) && !math.IsInf(f, 0) && f == math.Trunc(f)
}

// String is a string literal.
type String string

func (String) jsValue() {}

// Array is an ordered list of values.
type Array []Value

func (Array) jsValue() {}

// Object is a map with unique keys that preserves insertion order and
// offers constant time access by insertion index.
type Object struct {
	keys   []string
	values []Value
	index  map[string]int
}

func (*Object) jsValue() {}

// NewObject creates an empty object.
func NewObject() *Object {
	return &Object{index: make(map[string]int)}
}

// Pair is a key-value pair used to build objects in order.
type Pair struct {
	Key   string
	Value Value
}

// NewObjectFromPairs builds an object from pairs, later duplicates overwrite
// earlier ones in place.
func NewObjectFromPairs(pairs ...Pair) *Object {
	o := NewObject()
	for _, p := range pairs {
		o.Set(p.Key, p.Value)
	}
	return o
}

// Len returns the number of entries.
func (o *Object) Len() int {
	if o == nil {
		return 0
	}
	return len(o.keys)
}

// Set stores value under key. An existing key keeps its original position.
func (o *Object) Set(key string, value Value) {
	if o.index == nil {
		o.index = make(map[string]int)
	}
	if i, ok := o.index[key]; ok {
		o.values[i] = value
		return
	}
	o.index[key] = len(o.keys)
	o.keys = append(o.keys, key)
	o.values = append(o.values, value)
}

// Get returns the value stored under key.
func (o *Object) Get(key string) (Value, bool) {
	if o == nil {
		return nil, false
	}
	i, ok := o.index[key]
	if !ok {
		return nil, false
	}
	return o.values[i], true
}

// Has reports whether key is present.
func (o *Object) Has(key string) bool {
	_, ok := o.Get(key)
	return ok
}

// KeyAt returns the key inserted at position i.
func (o *Object) KeyAt(i int) string {
	return o.keys[i]
}

// ValueAt returns the value inserted at position i.
func (o *Object) ValueAt(i int) Value {
	return o.values[i]
}

// Keys returns a copy of the keys in insertion order.
func (o *Object) Keys() []string {
	if o == nil {
		return nil
	}
	out := make([]string, len(o.keys))
	copy(out, o.keys)
	return out
}

// Equal reports whether two value trees are structurally equal.
// NaN is equal to NaN so that every parsed tree equals its own round trip.
func Equal(a, b Value) bool {
	switch av := a.(type) {
	case Null:
		_, ok := b.(Null)
		return ok
	case Undefined:
		_, ok := b.(Undefined)
		return ok
	case Bool:
		bv, ok := b.(Bool)
		return ok && av == bv
	case Number:
		bv, ok := b.(Number)
		if !ok {
			return false
		}
		if math.IsNaN(float64(av)) {
			return math.IsNaN(float64(bv))
		}
		return av == bv
	case String:
		bv, ok := b.(String)
		return ok && av == bv
	case Array:
		bv, ok := b.(Array)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case *Object:
		bv, ok := b.(*Object)
		if !ok || av.Len() != bv.Len() {
			return false
		}
		for i := 0; i < av.Len(); i++ {
			if av.keys[i] != bv.keys[i] || !Equal(av.values[i], bv.values[i]) {
				return false
			}
		}
		return true
	}
	return false
}
