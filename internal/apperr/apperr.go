// Package apperr holds the error classes shared by both services. Domain
// sentinels wrap one of these classes so transport code can map them with
// errors.Is without knowing every domain error.
package apperr

import "errors"

var (
	ErrValidation   = errors.New("validation error")
	ErrNotFound     = errors.New("not found")
	ErrBusinessRule = errors.New("business rule violation")
	ErrGateway      = errors.New("payment gateway error")
)

type classified struct {
	class error
	msg   string
}

func (e *classified) Error() string { return e.msg }

func (e *classified) Unwrap() error { return e.class }

func Validation(msg string) error { return &classified{class: ErrValidation, msg: msg} }

func NotFound(msg string) error { return &classified{class: ErrNotFound, msg: msg} }

func BusinessRule(msg string) error { return &classified{class: ErrBusinessRule, msg: msg} }

func Gateway(msg string) error { return &classified{class: ErrGateway, msg: msg} }
