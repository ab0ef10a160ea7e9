// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package expr

import (
	"fmt"
	"strconv"

	"github.com/canonical/sqlbind/driver"
)

// A queryPart represents a section of a parsed SQL statement. The parsed query
// is represented as a list of queryParts.
type queryPart interface {
	// String returns a string representation of the part for debugging and
	// testing purposes.
	String() string

	// part is a marker method.
	part()
}

// defaultOutSize is the output buffer size of OUT markers without a size
// qualifier.
const defaultOutSize = 255

// markerPart represents a parameter marker found in the query.
type markerPart struct {
	role driver.Role
	// lob is driver.Blob or driver.Clob for markers with a LOB qualifier.
	lob driver.Type
	// size is the output buffer size of OUT markers.
	size int
	// name is set for named markers.
	name string
	// inList is true if the marker is the only content of an IN (...) list.
	inList bool
	// pos is the byte offset of the marker in the query.
	pos int
	raw string
}

func (p *markerPart) String() string {
	s := "Marker[" + p.role.String()
	if p.lob != 0 {
		s += " " + p.lob.String()
	}
	if p.size != 0 {
		s += " " + strconv.Itoa(p.size)
	}
	if p.name != "" {
		s += " " + p.name
	}
	if p.inList {
		s += " in-list"
	}
	return s + "]"
}

// Marker function for queryPart.
func (p *markerPart) part() {}

// bypassPart represents a part of the expression that is passed to the
// backend database verbatim.
type bypassPart struct {
	chunk string
}

func (p *bypassPart) String() string {
	return "Bypass[" + p.chunk + "]"
}

// Marker function for queryPart.
func (p *bypassPart) part() {}

// Marker describes a parsed parameter marker.
type Marker struct {
	Role driver.Role
	// LOB is driver.Blob or driver.Clob for markers with a LOB qualifier.
	LOB  driver.Type
	Size int
	Name string
	// Pos is the byte offset of the marker in the query.
	Pos    int
	InList bool
}

func (m Marker) String() string {
	return fmt.Sprintf("%s %q at %d", m.Role, m.Name, m.Pos)
}
