package repository

import "errors"

// ErrNotFound indicates an entity was not located within the caller's scope.
var ErrNotFound = errors.New("repository: not found")
