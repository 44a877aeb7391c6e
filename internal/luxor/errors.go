package luxor

import "errors"

var (
	ErrGroupNotFound = errors.New("group not found")
	ErrThemeNotFound = errors.New("theme not found")
	ErrColorNotFound = errors.New("color not found")
	ErrUnsupported   = errors.New("not supported by this controller")
	ErrOutOfRange    = errors.New("value out of range")
)
