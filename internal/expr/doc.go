/*
Package expr processes query templates, generates the backend SQL, and maps
the caller's arguments to the generated query's parameters. It does not cover
interaction with the databases.

The expr package is split up into two stages: the Parse stage and the Input
Binding stage.

# Parsing stage

The parsing stage takes a query template and splits it into verbatim text and
parameter markers. The marker syntax is set by the dialect: positional
dialects use "?", named dialects use a role char (":" input, "&" output, "@"
cursor), an optional "[size]", "[blob]" or "[clob]" qualifier and a name.
String literals, quoted identifiers and comments are never scanned for
markers.

# Input Binding stage

The Input Binding stage checks the number of arguments against the markers,
infers a wire type for each argument and rewrites the template into the
dialect's placeholder syntax. Sequence arguments of markers that are the only
content of an IN list are expanded into one placeholder per element.
Elsewhere they are bound as array literals on dialects with native arrays.

This stage does not interact with the database. Running it twice with the
same arguments gives the same SQL and parameters.
*/
package expr
