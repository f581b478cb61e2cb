// Package testutil contains helper builders used across tests to reduce
// boilerplate when constructing sessions and workflow documents in a given
// dialogue state. These helpers are intentionally minimal and not intended
// for production usage.
package testutil
