//go:build tools

// Package main pins code generators used through go:generate so they are
// tracked in go.mod.
package main

import (
	_ "go.uber.org/mock/mockgen"
)
