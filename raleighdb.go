// Package raleighdb is the top-level re-export surface for the engine:
// embedders import this package rather than reaching into internal/engine
// directly, the same way the teacher's root package re-exports Config and
// its store/ticket types for cmd/tk to consume without an internal/ import.
package raleighdb

import (
	"github.com/calvinalkan/raleighdb/internal/engine"
	"github.com/calvinalkan/raleighdb/internal/errs"
)

// Config is the engine's configuration (spec §6).
type Config = engine.Config

// DefaultConfig returns spec §6's documented defaults.
func DefaultConfig() Config { return engine.DefaultConfig() }

// LoadConfig reads a JSONC config file layered over DefaultConfig.
func LoadConfig(path string) (Config, error) { return engine.LoadConfig(path) }

// Engine is the running database handle (spec §2).
type Engine = engine.Engine

// New starts an Engine from cfg.
func New(cfg Config) *Engine { return engine.New(cfg) }

// NotifyFunc is the exec_read/exec_write/exec_create/... completion
// callback shape of spec §6.
type NotifyFunc = engine.NotifyFunc

// TxnNotifyFunc is exec_txn_commit/exec_txn_rollback's completion
// callback shape.
type TxnNotifyFunc = engine.TxnNotifyFunc

// SSetGetResult is the outcome of a scheduled SSetGet.
type SSetGetResult = engine.SSetGetResult

// SSetScanResult is one (key, value) pair returned by a scan.
type SSetScanResult = engine.SSetScanResult

// MemcacheGetResult is the outcome of a scheduled MemcacheGet.
type MemcacheGetResult = engine.MemcacheGetResult

// Error sentinels (spec §7), re-exported so callers can classify failures
// with errors.Is without importing internal/errs directly.
var (
	ErrNoMemory        = errs.ErrNoMemory
	ErrNoSpaceOnDevice = errs.ErrNoSpaceOnDevice
	ErrPageFull        = errs.ErrPageFull

	ErrObjectNotFound  = errs.ErrObjectNotFound
	ErrObjectExists    = errs.ErrObjectExists
	ErrObjectWrongType = errs.ErrObjectWrongType
	ErrPluginNotLoaded = errs.ErrPluginNotLoaded

	ErrDataKeyNotFound = errs.ErrDataKeyNotFound
	ErrDataKeyExists   = errs.ErrDataKeyExists

	ErrTxnNotFound   = errs.ErrTxnNotFound
	ErrTxnClosed     = errs.ErrTxnClosed
	ErrTxnLockedKey  = errs.ErrTxnLockedKey
	ErrTxnRolledBack = errs.ErrTxnRolledBack

	ErrNotImplemented = errs.ErrNotImplemented
)
