package util

import "errors"

var (
	ErrNoExtractableText = errors.New("no extractable text found in PDF")
	ErrEmptyContent      = errors.New("contribution text is empty")
)
