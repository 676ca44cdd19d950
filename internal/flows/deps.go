package flows

import (
	"errors"
	"strconv"
)

// Deps groups flow dependency sets. Root engine builds this once and delegates
// request methods to the matching flow implementation.
type Deps struct {
	Login   LoginDeps
	Refresh RefreshDeps
}

func isErr(err, target error) bool {
	return target != nil && errors.Is(err, target)
}

func itoa(n int) string { return strconv.Itoa(n) }
