package domain

import "github.com/shopspring/decimal"

// Result is the outcome of one adapter sub-query. A failed Result means "no update" for
// the field it feeds; a successful zero value is a real observation.
type Result[T any] struct {
	Value T
	Err   error
}

// Ok wraps a successful value.
func Ok[T any](v T) Result[T] {
	return Result[T]{Value: v}
}

// Fail wraps an error.
func Fail[T any](err error) Result[T] {
	return Result[T]{Err: err}
}

// OK reports whether the sub-query succeeded.
func (r Result[T]) OK() bool {
	return r.Err == nil
}

// BalanceInfo is what a balance query observed. Tokens holds only the tokens whose
// sub-query succeeded; FailedTokens names the ones that did not.
type BalanceInfo struct {
	Native       decimal.Decimal
	Tokens       map[string]decimal.Decimal
	FailedTokens []string
}
