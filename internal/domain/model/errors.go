package model

import "errors"

// ErrValidation marks a record that violates a field constraint.
var ErrValidation = errors.New("record validation failed")
