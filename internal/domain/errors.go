package domain

import "errors"

var (
	ErrNoLiquidity  = errors.New("no liquidity")
	ErrRejected     = errors.New("order rejected")
	ErrBatchTooBig  = errors.New("quantity exceeds converter batch size")
	ErrLeaseMissing = errors.New("conversion lease not open")
)
