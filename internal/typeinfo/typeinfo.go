// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package typeinfo

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"
)

// Field represents a single tagged field of a struct type.
type Field struct {
	// Name is the name of the struct field.
	Name string

	// Index of this field in the structure.
	Index int

	// OmitEmpty is true when "omitempty" is
	// a property of the field's "db" tag.
	OmitEmpty bool
}

// Info represents reflected information about a struct type.
type Info struct {
	Type reflect.Type

	// Tags lists the "db" tags in field order.
	Tags []string

	// Relate tag names to fields.
	TagToField map[string]Field
}

var cacheMutex sync.RWMutex
var cache = make(map[reflect.Type]*Info)

// GetTypeInfo returns the Info of a struct type, generating and caching it
// as required.
func GetTypeInfo(value any) (*Info, error) {
	if value == nil {
		return nil, fmt.Errorf("cannot reflect nil value")
	}

	v := reflect.Indirect(reflect.ValueOf(value))

	cacheMutex.RLock()
	info, found := cache[v.Type()]
	cacheMutex.RUnlock()
	if found {
		return info, nil
	}

	info, err := generate(v.Type())
	if err != nil {
		return nil, err
	}

	cacheMutex.Lock()
	cache[v.Type()] = info
	cacheMutex.Unlock()

	return info, nil
}

// generate produces the reflection information of a struct type.
func generate(typ reflect.Type) (*Info, error) {
	if typ.Kind() != reflect.Struct {
		return nil, fmt.Errorf("can only reflect struct type")
	}

	info := Info{
		Type:       typ,
		TagToField: make(map[string]Field),
	}
	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		// Fields without a "db" tag are not mapped to columns or keys.
		tag := field.Tag.Get("db")
		if tag == "" || !field.IsExported() {
			continue
		}
		tag, omitEmpty, err := parseTag(tag)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", field.Name, err)
		}
		if _, ok := info.TagToField[tag]; ok {
			return nil, fmt.Errorf("db tag %q appears more than once", tag)
		}
		info.Tags = append(info.Tags, tag)
		info.TagToField[tag] = Field{
			Name:      field.Name,
			Index:     i,
			OmitEmpty: omitEmpty,
		}
	}

	return &info, nil
}

var validColNameRx = regexp.MustCompile(`^([a-zA-Z_])+([a-zA-Z_0-9])*$`)

// parseTag parses the input tag string and returns its
// name and whether it contains the "omitempty" option.
func parseTag(tag string) (string, bool, error) {
	options := strings.Split(tag, ",")

	var omitEmpty bool
	if len(options) > 2 {
		return "", false, fmt.Errorf("too many options in 'db' tag")
	}
	if len(options) == 2 {
		if strings.ToLower(options[1]) != "omitempty" {
			return "", false, fmt.Errorf("unexpected tag value %q", options[1])
		}
		omitEmpty = true
	}

	name := options[0]
	if len(name) == 0 {
		return "", false, fmt.Errorf("empty db tag")
	}
	if !validColNameRx.MatchString(name) {
		return "", false, fmt.Errorf("invalid column name in 'db' tag")
	}

	return name, omitEmpty, nil
}

// FieldMap returns the tagged fields of a struct value keyed by tag. Fields
// with the omitempty option and a zero value are left out. ok is false if
// the struct has no tagged fields.
func FieldMap(value any) (m map[string]any, ok bool, err error) {
	info, err := GetTypeInfo(value)
	if err != nil {
		return nil, false, err
	}
	if len(info.Tags) == 0 {
		return nil, false, nil
	}
	v := reflect.Indirect(reflect.ValueOf(value))
	m = make(map[string]any, len(info.Tags))
	for _, tag := range info.Tags {
		f := info.TagToField[tag]
		fv := v.Field(f.Index)
		if f.OmitEmpty && fv.IsZero() {
			continue
		}
		m[tag] = fv.Interface()
	}
	return m, true, nil
}
