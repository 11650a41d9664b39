// Package apperr 定义跨层共享的错误分类。
//
// 深层调用方用 fmt.Errorf("...: %w") 追加上下文，边界处通过 KindOf 取回分类。
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindBuild
	KindExecution
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindBuild:
		return "build"
	case KindExecution:
		return "execution"
	default:
		return "internal"
	}
}

// Error carries a kind plus optional operation and field context.
type Error struct {
	Kind  Kind
	Op    string
	Field string
	Msg   string
	Err   error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	switch {
	case e.Msg != "":
		b.WriteString(e.Msg)
	case e.Field != "":
		b.WriteString("invalid ")
		b.WriteString(e.Field)
	default:
		b.WriteString(e.Kind.String())
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

func newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...any) error { return newf(KindValidation, format, args...) }

func NotFound(format string, args ...any) error { return newf(KindNotFound, format, args...) }

func Internal(format string, args ...any) error { return newf(KindInternal, format, args...) }

// InvalidField 返回指明具体字段的校验错误。
func InvalidField(field, value string) error {
	return &Error{Kind: KindValidation, Field: field, Msg: fmt.Sprintf("invalid %s: %s", field, value)}
}

// Build wraps compiler output; diagnostics stay readable via Error().
func Build(name, diagnostics string, err error) error {
	return &Error{Kind: KindBuild, Op: "build " + name, Msg: strings.TrimSpace(diagnostics), Err: err}
}

// Execution marks a runtime failure of a task (tick, probe, persistence).
func Execution(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindExecution, Op: op, Err: err}
}

// Wrap 为已有错误附加分类，err 为 nil 时返回 nil。
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the outermost classified kind in the chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
