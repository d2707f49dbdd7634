// Package codec converts Go values to and from tagged string sections.
//
// Every stored value is a Section: the value rendered as text plus the name
// of the type needed to read it back. Scalars (bools, integers, floats and
// strings, including named types with those underlying kinds) are rendered
// with strconv; structs are rendered as JSON. Slices and maps are rendered as
// an ordered list of independently tagged sections, so each element carries
// its own type name and can be decoded even when the container's static
// element type is an interface.
//
// Type names come from a process-wide table. Unnamed builtin types use their
// Go spelling ("int", "string", ...); other types use the name given to
// Register, falling back to the Go type string. A name that is not in the
// table cannot be decoded without a static type and surfaces as
// ErrUnknownType.
package codec
