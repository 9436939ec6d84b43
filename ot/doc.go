// Package ot implements operational transformation for plain text.
//
// A TextOperation is an ordered list of ops that walks an imaginary cursor over
// an input string from start to end:
//
//   - Retain(n) advances the cursor over n characters, optionally setting
//     attributes on them.
//   - Insert(text) inserts text at the cursor.
//   - Delete(n) removes the next n characters.
//
// Lengths are counted in Unicode code points. Every operation has a base
// length (the length of the strings it applies to) and a target length (the
// length of the strings it produces).
//
// # Algebra
//
// For a string S and operations A, B with A.BaseLength() == len(S):
//
//	Apply(Apply(S, A), B)        == Apply(S, Compose(A, B))
//	Apply(Apply(S, A), B')       == Apply(Apply(S, B), A')   where (A', B') = Transform(A, B)
//	Apply(Apply(S, A), Invert(A)) == S
//
// When both sides of Transform insert at the same position, the insert of the
// first argument is placed first. Callers decide which side is "first" and must
// do so consistently across replicas.
//
// # Building operations
//
// Operations are immutable. Use a Builder to construct one:
//
//	op := ot.NewBuilder().Retain(5, nil).Insert(" world", nil).Build()
//
// The builder merges adjacent ops of the same kind and attributes, and always
// places an insert before a delete at the same position, so equal effects have
// equal representations.
//
// # Wire format
//
// ToWire/FromWire and the JSON methods use the compact array encoding shared
// with other peers: a positive integer retains, a negative integer deletes, a
// string inserts, and an attribute object precedes the op it modifies. The
// empty operation encodes as [0].
package ot
