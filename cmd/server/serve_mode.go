package main

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidServeMode = errors.New("invalid serve mode")

type ServeMode string

const (
	ServeModeMonolith ServeMode = "monolith"
	// ServeModeWeb serves the block views, instructor pages and scripts.
	ServeModeWeb ServeMode = "web"
	// ServeModeAPI serves the guest token and studio handlers.
	ServeModeAPI ServeMode = "api"
)

func ParseServeMode(rawInput string) (ServeMode, error) {
	normalized := strings.ToLower(strings.TrimSpace(rawInput))
	if normalized == "" {
		return ServeModeMonolith, nil
	}

	mode := ServeMode(normalized)
	switch mode {
	case ServeModeMonolith, ServeModeWeb, ServeModeAPI:
		return mode, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidServeMode, rawInput)
	}
}

func (mode ServeMode) ServesWeb() bool {
	return mode == ServeModeMonolith || mode == ServeModeWeb
}

func (mode ServeMode) ServesAPI() bool {
	return mode == ServeModeMonolith || mode == ServeModeAPI
}
