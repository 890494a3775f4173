package service

import (
	"errors"
	"fmt"
)

// ErrInvalidInput 请求参数校验失败
var ErrInvalidInput = errors.New("invalid input")

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
