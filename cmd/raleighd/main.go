// raleighd is a minimal embedding and smoke-test shell around the
// engine package: it loads a config, starts an [raleighdb.Engine], and
// drops into a line-oriented REPL for exercising exec_create/read/write
// and transactions by hand.
//
// Usage:
//
//	raleighd [-c config.jsonc]
//
// REPL commands:
//
//	create <name> <type>         Create an object (type: sset|counter|memcache)
//	lookup <name>                Resolve a name to its OID
//	unlink <name>                Remove a name
//	rename <old> <new>           Rename an object
//	begin                        Start a transaction, prints its ID
//	commit <txn>                 Commit a transaction
//	rollback <txn>                Roll back a transaction
//	insert <oid> <txn> <k> <v>    sset insert (txn=0 for autocommit)
//	update <oid> <txn> <k> <v>    sset update
//	remove <oid> <txn> <k>        sset remove
//	get <oid> <txn> <k>           sset get
//	scan <oid> <txn> [start]      sset scan
//	add <oid> <txn> <delta>       counter add
//	value <oid> <txn>             counter value
//	set <oid> <txn> <v>           memcache set
//	fetch <oid> <txn>             memcache get
//	clear <oid> <txn>             memcache delete
//	help                          Show this help
//	exit / quit / q               Exit
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/peterh/liner"
	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/raleighdb"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string

	flag.StringVarP(&configPath, "config", "c", "", "path to a JSONC config file")
	flag.Parse()

	cfg, err := raleighdb.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	engine := raleighdb.New(cfg)
	defer engine.Close()

	repl := &REPL{engine: engine}

	return repl.Run()
}

// REPL is the interactive command loop.
type REPL struct {
	engine *raleighdb.Engine
	liner  *liner.State
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".raleighd_history")
}

// Run starts the REPL loop.
func (r *REPL) Run() error {
	r.liner = liner.NewLiner()
	defer r.liner.Close()

	r.liner.SetCtrlCAborts(true)

	if f, err := os.Open(historyFile()); err == nil {
		r.liner.ReadHistory(f)
		f.Close()
	}

	fmt.Println("raleighd - RaleighDB embedding shell")
	fmt.Println("Type 'help' for available commands.")
	fmt.Println()

	for {
		line, err := r.liner.Prompt("raleighd> ")
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				fmt.Println("\nBye!")

				break
			}

			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		r.liner.AppendHistory(line)

		if r.dispatch(line) {
			break
		}
	}

	r.saveHistory()

	return nil
}

func (r *REPL) saveHistory() {
	path := historyFile()
	if path == "" {
		return
	}

	if f, err := os.Create(path); err == nil { //nolint:gosec // fixed path under the user's home dir
		r.liner.WriteHistory(f)
		f.Close()
	}
}

// dispatch runs one command line, returning true if the REPL should exit.
//
//nolint:cyclop,funlen // command dispatch table
func (r *REPL) dispatch(line string) bool {
	parts := strings.Fields(line)
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "exit", "quit", "q":
		fmt.Println("Bye!")

		return true

	case "help", "?":
		printHelp()

	case "create":
		r.cmdCreate(args)
	case "lookup":
		r.cmdLookup(args)
	case "unlink":
		r.cmdUnlink(args)
	case "rename":
		r.cmdRename(args)
	case "begin":
		fmt.Println(r.engine.TransactionCreate())
	case "commit":
		r.cmdTxnFinish(args, r.engine.ExecTxnCommit)
	case "rollback":
		r.cmdTxnFinish(args, r.engine.ExecTxnRollback)
	case "insert":
		r.cmdSSetWrite(args, r.engine.SSetInsert)
	case "update":
		r.cmdSSetWrite(args, r.engine.SSetUpdate)
	case "remove":
		r.cmdSSetRemove(args)
	case "get":
		r.cmdSSetGet(args)
	case "scan":
		r.cmdSSetScan(args)
	case "add":
		r.cmdCounterAdd(args)
	case "value":
		r.cmdCounterValue(args)
	case "set":
		r.cmdMemcacheSet(args)
	case "fetch":
		r.cmdMemcacheGet(args)
	case "clear":
		r.cmdMemcacheDelete(args)

	default:
		fmt.Printf("unknown command: %s (try 'help')\n", cmd)
	}

	return false
}

func printHelp() {
	fmt.Print(`Commands:
  create <name> <type>          create an object (type: sset|counter|memcache)
  lookup <name>                 resolve a name to its OID
  unlink <name>                 remove a name
  rename <old> <new>            rename an object
  begin                         start a transaction, prints its ID
  commit <txn>                  commit a transaction
  rollback <txn>                roll back a transaction
  insert <oid> <txn> <k> <v>    sset insert (txn=0 for autocommit)
  update <oid> <txn> <k> <v>    sset update
  remove <oid> <txn> <k>        sset remove
  get <oid> <txn> <k>           sset get
  scan <oid> <txn> [start]      sset scan
  add <oid> <txn> <delta>       counter add
  value <oid> <txn>             counter value
  set <oid> <txn> <v>           memcache set
  fetch <oid> <txn>             memcache get
  clear <oid> <txn>             memcache delete
  help                          show this help
  exit / quit / q               exit
`)
}

func (r *REPL) cmdCreate(args []string) {
	if len(args) != 2 {
		fmt.Println("usage: create <name> <type>")

		return
	}

	done := make(chan struct{})
	r.engine.ExecCreate(args[0], args[1], func(oid uint64, err error) {
		if err != nil {
			fmt.Printf("error: %v\n", err)
		} else {
			fmt.Printf("oid=%d\n", oid)
		}

		close(done)
	})
	<-done
}

func (r *REPL) cmdLookup(args []string) {
	if len(args) != 1 {
		fmt.Println("usage: lookup <name>")

		return
	}

	done := make(chan struct{})
	r.engine.ExecLookup(args[0], func(oid uint64, err error) {
		if err != nil {
			fmt.Printf("error: %v\n", err)
		} else {
			fmt.Printf("oid=%d\n", oid)
		}

		close(done)
	})
	<-done
}

func (r *REPL) cmdUnlink(args []string) {
	if len(args) != 1 {
		fmt.Println("usage: unlink <name>")

		return
	}

	done := make(chan struct{})
	r.engine.ExecUnlink(args[0], func(_ uint64, err error) {
		if err != nil {
			fmt.Printf("error: %v\n", err)
		} else {
			fmt.Println("ok")
		}

		close(done)
	})
	<-done
}

func (r *REPL) cmdRename(args []string) {
	if len(args) != 2 {
		fmt.Println("usage: rename <old> <new>")

		return
	}

	done := make(chan struct{})
	r.engine.ExecRename(args[0], args[1], func(_ uint64, err error) {
		if err != nil {
			fmt.Printf("error: %v\n", err)
		} else {
			fmt.Println("ok")
		}

		close(done)
	})
	<-done
}

func (r *REPL) cmdTxnFinish(args []string, op func(txnID uint64, notify raleighdb.TxnNotifyFunc)) {
	if len(args) != 1 {
		fmt.Println("usage: commit|rollback <txn>")

		return
	}

	txnID, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		fmt.Printf("invalid txn id: %v\n", err)

		return
	}

	done := make(chan struct{})
	op(txnID, func(_ uint64, err error) {
		if err != nil {
			fmt.Printf("error: %v\n", err)
		} else {
			fmt.Println("ok")
		}

		close(done)
	})
	<-done
}

func parseOIDTxn(args []string) (oid, txnID uint64, rest []string, ok bool) {
	if len(args) < 2 {
		return 0, 0, nil, false
	}

	oid, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		fmt.Printf("invalid oid: %v\n", err)

		return 0, 0, nil, false
	}

	txnID, err = strconv.ParseUint(args[1], 10, 64)
	if err != nil {
		fmt.Printf("invalid txn id: %v\n", err)

		return 0, 0, nil, false
	}

	return oid, txnID, args[2:], true
}

func (r *REPL) cmdSSetWrite(args []string, op func(oid, txnID uint64, key, value []byte, notify raleighdb.NotifyFunc)) {
	oid, txnID, rest, ok := parseOIDTxn(args)
	if !ok || len(rest) != 2 {
		fmt.Println("usage: insert|update <oid> <txn> <key> <value>")

		return
	}

	done := make(chan struct{})
	op(oid, txnID, []byte(rest[0]), []byte(rest[1]), func(_ uint64, err error) {
		if err != nil {
			fmt.Printf("error: %v\n", err)
		} else {
			fmt.Println("ok")
		}

		close(done)
	})
	<-done
}

func (r *REPL) cmdSSetRemove(args []string) {
	oid, txnID, rest, ok := parseOIDTxn(args)
	if !ok || len(rest) != 1 {
		fmt.Println("usage: remove <oid> <txn> <key>")

		return
	}

	done := make(chan struct{})
	r.engine.SSetRemove(oid, txnID, []byte(rest[0]), func(_ uint64, err error) {
		if err != nil {
			fmt.Printf("error: %v\n", err)
		} else {
			fmt.Println("ok")
		}

		close(done)
	})
	<-done
}

func (r *REPL) cmdSSetGet(args []string) {
	oid, txnID, rest, ok := parseOIDTxn(args)
	if !ok || len(rest) != 1 {
		fmt.Println("usage: get <oid> <txn> <key>")

		return
	}

	done := make(chan struct{})
	r.engine.SSetGet(oid, txnID, []byte(rest[0]), func(res raleighdb.SSetGetResult, err error) {
		if err != nil {
			fmt.Printf("error: %v\n", err)
		} else {
			fmt.Printf("%s\n", res.Value)
		}

		close(done)
	})
	<-done
}

func (r *REPL) cmdSSetScan(args []string) {
	oid, txnID, rest, ok := parseOIDTxn(args)
	if !ok {
		fmt.Println("usage: scan <oid> <txn> [start]")

		return
	}

	var start []byte
	if len(rest) > 0 {
		start = []byte(rest[0])
	}

	done := make(chan struct{})
	r.engine.SSetScan(oid, txnID, start, 0, func(rows []raleighdb.SSetScanResult, err error) {
		if err != nil {
			fmt.Printf("error: %v\n", err)
		} else {
			for _, row := range rows {
				fmt.Printf("%s=%s\n", row.Key, row.Value)
			}
		}

		close(done)
	})
	<-done
}

func (r *REPL) cmdCounterAdd(args []string) {
	oid, txnID, rest, ok := parseOIDTxn(args)
	if !ok || len(rest) != 1 {
		fmt.Println("usage: add <oid> <txn> <delta>")

		return
	}

	delta, err := strconv.ParseInt(rest[0], 10, 64)
	if err != nil {
		fmt.Printf("invalid delta: %v\n", err)

		return
	}

	done := make(chan struct{})
	r.engine.CounterAdd(oid, txnID, delta, func(_ uint64, err error) {
		if err != nil {
			fmt.Printf("error: %v\n", err)
		} else {
			fmt.Println("ok")
		}

		close(done)
	})
	<-done
}

func (r *REPL) cmdCounterValue(args []string) {
	oid, txnID, _, ok := parseOIDTxn(args)
	if !ok {
		fmt.Println("usage: value <oid> <txn>")

		return
	}

	done := make(chan struct{})
	r.engine.CounterGet(oid, txnID, func(v int64, err error) {
		if err != nil {
			fmt.Printf("error: %v\n", err)
		} else {
			fmt.Println(v)
		}

		close(done)
	})
	<-done
}

func (r *REPL) cmdMemcacheSet(args []string) {
	oid, txnID, rest, ok := parseOIDTxn(args)
	if !ok || len(rest) != 1 {
		fmt.Println("usage: set <oid> <txn> <value>")

		return
	}

	done := make(chan struct{})
	r.engine.MemcacheSet(oid, txnID, []byte(rest[0]), func(_ uint64, err error) {
		if err != nil {
			fmt.Printf("error: %v\n", err)
		} else {
			fmt.Println("ok")
		}

		close(done)
	})
	<-done
}

func (r *REPL) cmdMemcacheGet(args []string) {
	oid, txnID, _, ok := parseOIDTxn(args)
	if !ok {
		fmt.Println("usage: fetch <oid> <txn>")

		return
	}

	done := make(chan struct{})
	r.engine.MemcacheGet(oid, txnID, func(res raleighdb.MemcacheGetResult, err error) {
		if err != nil {
			fmt.Printf("error: %v\n", err)
		} else if res.Found {
			fmt.Printf("%s\n", res.Value)
		} else {
			fmt.Println("(not found)")
		}

		close(done)
	})
	<-done
}

func (r *REPL) cmdMemcacheDelete(args []string) {
	oid, txnID, _, ok := parseOIDTxn(args)
	if !ok {
		fmt.Println("usage: clear <oid> <txn>")

		return
	}

	done := make(chan struct{})
	r.engine.MemcacheDelete(oid, txnID, func(_ uint64, err error) {
		if err != nil {
			fmt.Printf("error: %v\n", err)
		} else {
			fmt.Println("ok")
		}

		close(done)
	})
	<-done
}
