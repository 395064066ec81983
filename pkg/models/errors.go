package models

import "errors"

var (
	errNotObject    = errors.New("payload is not a JSON object")
	errTrailingData = errors.New("unexpected data after JSON object")
)
