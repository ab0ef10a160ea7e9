// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package typeinfo

import (
	"database/sql/driver"
	"fmt"
	"math"
	"reflect"
	"time"
)

// Value is a caller supplied query argument reduced to one of the value
// categories understood by the binder.
type Value interface {
	// value is a marker method.
	value()
}

type Int int64

type Float float64

type Bool bool

type Text string

type Null struct{}

// Seq is an ordered sequence of values. It is expanded inside IN lists and
// encoded as an array literal elsewhere.
type Seq []Value

// Object is a structured value such as a map or struct. It is bound as JSON.
type Object struct {
	V any
}

func (Int) value()    {}
func (Float) value()  {}
func (Bool) value()   {}
func (Text) value()   {}
func (Null) value()   {}
func (Seq) value()    {}
func (Object) value() {}

var (
	valuerType = reflect.TypeOf((*driver.Valuer)(nil)).Elem()
	timeType   = reflect.TypeOf(time.Time{})
)

// Of converts an arbitrary Go value to a Value.
func Of(arg any) (Value, error) {
	if arg == nil {
		return Null{}, nil
	}
	if v, ok := arg.(Value); ok {
		return v, nil
	}
	return of(reflect.ValueOf(arg))
}

func of(v reflect.Value) (Value, error) {
	if !v.IsValid() {
		return Null{}, nil
	}
	if v.Type().Implements(valuerType) {
		if v.Kind() == reflect.Pointer && v.IsNil() {
			return Null{}, nil
		}
		dv, err := v.Interface().(driver.Valuer).Value()
		if err != nil {
			return nil, err
		}
		return Of(dv)
	}
	if v.Type() == timeType {
		return Text(v.Interface().(time.Time).Format(time.RFC3339Nano)), nil
	}

	switch v.Kind() {
	case reflect.Pointer, reflect.Interface:
		if v.IsNil() {
			return Null{}, nil
		}
		return of(v.Elem())
	case reflect.Bool:
		return Bool(v.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Int(v.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := v.Uint()
		if u > math.MaxInt64 {
			return nil, fmt.Errorf("unsigned integer %d overflows int64", u)
		}
		return Int(int64(u)), nil
	case reflect.Float32, reflect.Float64:
		return Float(v.Float()), nil
	case reflect.String:
		return Text(v.String()), nil
	case reflect.Slice:
		if v.IsNil() {
			return Null{}, nil
		}
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return Text(v.Bytes()), nil
		}
		return seqOf(v)
	case reflect.Array:
		return seqOf(v)
	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return nil, fmt.Errorf("unsupported argument type %s: map keys must be strings", v.Type())
		}
		if v.IsNil() {
			return Null{}, nil
		}
		return Object{V: v.Interface()}, nil
	case reflect.Struct:
		return Object{V: v.Interface()}, nil
	}
	return nil, fmt.Errorf("unsupported argument type %s (%s)", v.Type(), v.Kind())
}

func seqOf(v reflect.Value) (Value, error) {
	seq := make(Seq, 0, v.Len())
	for i := 0; i < v.Len(); i++ {
		elem, err := of(v.Index(i))
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		seq = append(seq, elem)
	}
	return seq, nil
}

// Category returns a short description of the category of v.
func Category(v Value) string {
	switch v.(type) {
	case Int:
		return "integer"
	case Float:
		return "float"
	case Bool:
		return "boolean"
	case Text:
		return "text"
	case Null:
		return "null"
	case Seq:
		return "sequence"
	case Object:
		return "object"
	}
	return fmt.Sprintf("%T", v)
}
