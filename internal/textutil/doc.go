// Package textutil provides text helpers shared by metadata normalisation,
// approval rendering and file naming: Unicode normalisation, rune-safe
// truncation, title derivation and filesystem-safe tokens.
package textutil
