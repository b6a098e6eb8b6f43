package goble

import "errors"

var (
	errUnknownService        = errors.New("goble: service not discovered")
	errUnknownCharacteristic = errors.New("goble: characteristic not discovered")
)
