// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

/*
Package typeinfo contains code relating to Go values and their processing as
query arguments. As much as possible, reflection code is limited to this
package. It reduces caller values to a closed set of value categories, infers
their wire types and encodes structured and sequence values.
*/
package typeinfo
