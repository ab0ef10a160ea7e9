// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package normalize

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/canonical/sqlbind/dialect"
	"github.com/canonical/sqlbind/driver"
)

// OutputFunc is applied to every string in a normalized result.
type OutputFunc func(string) string

// Normalizer converts fetched rows into Rows of native Go values.
type Normalizer struct {
	Dialect *dialect.Dialect
	Shape   Shape
	Output  OutputFunc
}

// columnTypes resolves the type of each column of a result the first time
// the column is read.
type columnTypes struct {
	rows     driver.Rows
	names    []string
	types    []driver.Type
	resolved []bool
	dialect  *dialect.Dialect
}

func newColumnTypes(rows driver.Rows, d *dialect.Dialect, n int) *columnTypes {
	return &columnTypes{
		rows:     rows,
		names:    make([]string, n),
		types:    make([]driver.Type, n),
		resolved: make([]bool, n),
		dialect:  d,
	}
}

func (ct *columnTypes) get(i int) (driver.Type, string) {
	if !ct.resolved[i] {
		ct.names[i] = ct.rows.ColumnType(i)
		ct.types[i] = ct.dialect.ColumnType(ct.names[i])
		ct.resolved[i] = true
	}
	return ct.types[i], ct.names[i]
}

// Rows reads every row of rows. rows is not closed.
func (n *Normalizer) Rows(rows driver.Rows) ([]Row, error) {
	cols := rows.Columns()
	types := newColumnTypes(rows, n.Dialect, len(cols))
	dest := make([]any, len(cols))
	result := []Row{}
	for {
		err := rows.Next(dest)
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, err
		}
		values := make([]any, len(cols))
		for i, v := range dest {
			typ, typeName := types.get(i)
			cv, err := n.coerce(typ, typeName, v)
			if err != nil {
				return nil, errors.Wrapf(err, "column %q", cols[i])
			}
			values[i] = n.output(cv)
		}
		result = append(result, Row{Columns: cols, Values: values, Shape: n.Shape})
	}
	return result, nil
}

// Leaf applies the output function to every string in v.
func (n *Normalizer) Leaf(v any) any {
	return n.output(v)
}

func (n *Normalizer) coerce(typ driver.Type, typeName string, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch typ {
	case driver.Bool:
		return toBool(v), nil
	case driver.Integer:
		return toInt(v), nil
	case driver.Float:
		return toFloat(v), nil
	case driver.JSON:
		return decodeJSON(v)
	case driver.Array:
		s, ok := textOf(v)
		if !ok {
			return v, nil
		}
		elemName := dialect.ElemType(typeName)
		elemType := n.Dialect.ColumnType(elemName)
		return parseArray(s, func(elem string) (any, error) {
			return n.coerce(elemType, elemName, elem)
		})
	case driver.Bytes:
		return v, nil
	}
	if b, ok := v.([]byte); ok {
		return string(b), nil
	}
	return v, nil
}

func (n *Normalizer) output(v any) any {
	if n.Output == nil {
		return v
	}
	switch v := v.(type) {
	case string:
		return n.Output(v)
	case []any:
		for i := range v {
			v[i] = n.output(v[i])
		}
		return v
	case map[string]any:
		for k := range v {
			v[k] = n.output(v[k])
		}
		return v
	}
	return v
}

func textOf(v any) (string, bool) {
	switch v := v.(type) {
	case string:
		return v, true
	case []byte:
		return string(v), true
	}
	return "", false
}

func toBool(v any) any {
	switch v := v.(type) {
	case bool:
		return v
	case int64:
		return v != 0
	}
	if s, ok := textOf(v); ok {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "t", "true", "y", "yes", "on", "1":
			return true
		case "f", "false", "n", "no", "off", "0":
			return false
		}
	}
	return v
}

func toInt(v any) any {
	switch v := v.(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case bool:
		if v {
			return int64(1)
		}
		return int64(0)
	case float64:
		if v == math.Trunc(v) && v >= math.MinInt64 && v <= math.MaxInt64 {
			return int64(v)
		}
		return v
	}
	if s, ok := textOf(v); ok {
		if i, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			return i
		}
		return s
	}
	return v
}

func toFloat(v any) any {
	switch v := v.(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int64:
		return float64(v)
	}
	if s, ok := textOf(v); ok {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return f
		}
		return s
	}
	return v
}

// decodeJSON decodes JSON text. Integral numbers become int64 and other
// numbers float64.
func decodeJSON(v any) (any, error) {
	s, ok := textOf(v)
	if !ok {
		return v, nil
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("cannot decode JSON: %w", err)
	}
	return fromJSON(out), nil
}

func fromJSON(v any) any {
	switch v := v.(type) {
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i
		}
		f, _ := v.Float64()
		return f
	case []any:
		for i := range v {
			v[i] = fromJSON(v[i])
		}
		return v
	case map[string]any:
		for k := range v {
			v[k] = fromJSON(v[k])
		}
		return v
	}
	return v
}
