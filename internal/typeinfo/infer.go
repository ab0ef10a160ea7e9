// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package typeinfo

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/canonical/sqlbind/dialect"
	"github.com/canonical/sqlbind/driver"
)

// Infer returns the wire type used to bind v with the given dialect.
func Infer(v Value, d *dialect.Dialect) (driver.Type, error) {
	switch v.(type) {
	case Float:
		return driver.Float, nil
	case Int, Bool:
		return driver.Integer, nil
	case Text, Null:
		return driver.Text, nil
	case Object:
		if !d.JSON {
			return 0, fmt.Errorf("%s does not support structured values", d.Name)
		}
		return driver.JSON, nil
	case Seq:
		if !d.NativeArrays {
			return 0, fmt.Errorf("%s does not support sequence values outside of IN lists", d.Name)
		}
		return driver.Array, nil
	}
	return 0, fmt.Errorf("unsupported value category %s", Category(v))
}

// Wire returns the Go value handed to the driver for v.
func Wire(v Value) (any, error) {
	switch v := v.(type) {
	case Int:
		return int64(v), nil
	case Float:
		return float64(v), nil
	case Bool:
		if v {
			return int64(1), nil
		}
		return int64(0), nil
	case Text:
		return string(v), nil
	case Null:
		return nil, nil
	case Object:
		return EncodeJSON(v)
	case Seq:
		return ArrayLiteral(v)
	}
	return nil, fmt.Errorf("unsupported value category %s", Category(v))
}

// EncodeJSON encodes a structured value as JSON text. Structs with "db"
// tags are keyed by their tags.
func EncodeJSON(o Object) (string, error) {
	v := o.V
	if reflect.Indirect(reflect.ValueOf(v)).Kind() == reflect.Struct {
		m, ok, err := FieldMap(v)
		if err != nil {
			return "", err
		}
		if ok {
			v = m
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("cannot encode JSON: %w", err)
	}
	return string(b), nil
}

// ArrayLiteral encodes a sequence as a native array literal, e.g.
// {1,2,{3,"a b"},NULL}.
func ArrayLiteral(seq Seq) (string, error) {
	var sb strings.Builder
	if err := writeArray(&sb, seq); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func writeArray(sb *strings.Builder, seq Seq) error {
	sb.WriteByte('{')
	for i, elem := range seq {
		if i > 0 {
			sb.WriteByte(',')
		}
		switch elem := elem.(type) {
		case Int:
			sb.WriteString(strconv.FormatInt(int64(elem), 10))
		case Float:
			sb.WriteString(strconv.FormatFloat(float64(elem), 'g', -1, 64))
		case Bool:
			if elem {
				sb.WriteByte('1')
			} else {
				sb.WriteByte('0')
			}
		case Null:
			sb.WriteString("NULL")
		case Text:
			writeQuoted(sb, string(elem))
		case Object:
			s, err := EncodeJSON(elem)
			if err != nil {
				return err
			}
			writeQuoted(sb, s)
		case Seq:
			if err := writeArray(sb, elem); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unsupported array element category %s", Category(elem))
		}
	}
	sb.WriteByte('}')
	return nil
}

func writeQuoted(sb *strings.Builder, s string) {
	sb.WriteByte('"')
	for i := 0; i < len(s); i++ {
		if s[i] == '"' || s[i] == '\\' {
			sb.WriteByte('\\')
		}
		sb.WriteByte(s[i])
	}
	sb.WriteByte('"')
}
