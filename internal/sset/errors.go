package sset

import "github.com/calvinalkan/raleighdb/internal/errs"

var (
	errKeyExists   = errs.New(errs.ErrDataKeyExists)
	errKeyNotFound = errs.New(errs.ErrDataKeyNotFound)
	errLockedKey   = errs.New(errs.ErrTxnLockedKey)
	errPageFull    = errs.New(errs.ErrPageFull)
)
