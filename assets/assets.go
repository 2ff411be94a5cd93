// Package assets provides the assets for the nitrofuse program.
package assets

import _ "embed"

// Logo is a byte slice containing the program logo.
//
//go:embed nitrofuse.svg
var Logo []byte
