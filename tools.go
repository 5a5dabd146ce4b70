//go:build tools
// +build tools

// Package tools tracks tool dependencies invoked via go generate.
package xray_bot

import (
	_ "go.uber.org/mock/mockgen"
)
