// Command cbffi is an interactive console for the boundary host. It runs the
// same calls the shared library exports, in-process, which makes it handy for
// poking at configuration and watching the recent-log ring.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"

	"github.com/coinbase/cb-ffi-go/pkg/cbffi"
)

const historyFile = ".cbffi_history"

func main() {
	configPath := flag.String("config", "", "YAML configuration file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		info := cbffi.Info()
		fmt.Printf("cbffi %s (revision %s, abi %d)\n", info.Version, info.Revision, info.ABI)
		return
	}

	cfg := cbffi.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = cbffi.LoadConfig(*configPath); err != nil {
			log.Fatalf("load config: %v", err)
		}
	}

	host, err := cbffi.Open(cfg)
	if err != nil {
		log.Fatalf("open host: %v", err)
	}
	defer func() {
		if cerr := host.Close(); cerr != nil {
			log.Printf("close error: %v", cerr)
		}
	}()

	repl(&session{host: host, out: os.Stdout})
}

func repl(s *session) {
	ln := liner.NewLiner()
	defer ln.Close()
	ln.SetCtrlCAborts(true)
	ln.SetCompleter(func(line string) []string {
		var out []string
		for _, name := range commandNames() {
			if strings.HasPrefix(name, line) {
				out = append(out, name)
			}
		}
		return out
	})

	histPath := filepath.Join(os.TempDir(), historyFile)
	if home, err := os.UserHomeDir(); err == nil {
		histPath = filepath.Join(home, historyFile)
	}
	if f, err := os.Open(histPath); err == nil {
		_, _ = ln.ReadHistory(f)
		_ = f.Close()
	}
	defer func() {
		if f, err := os.Create(histPath); err == nil {
			_, _ = ln.WriteHistory(f)
			_ = f.Close()
		}
	}()

	fmt.Printf("cbffi %s. Type help for commands, Ctrl+D to exit.\n", cbffi.WrapperVersion())
	for {
		line, err := ln.Prompt("cbffi> ")
		if errors.Is(err, liner.ErrPromptAborted) {
			continue
		}
		if errors.Is(err, io.EOF) {
			fmt.Println()
			return
		}
		if err != nil {
			log.Printf("read input: %v", err)
			return
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		ln.AppendHistory(line)

		if err := s.exec(line); err != nil {
			if errors.Is(err, errQuit) {
				return
			}
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	}
}
