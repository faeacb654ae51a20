package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/minio/sha256-simd"

	"github.com/coinbase/cb-ffi-go/pkg/cbffi"
	"github.com/coinbase/cb-ffi-go/pkg/cbffi/compress"
	"github.com/coinbase/cb-ffi-go/pkg/cbffi/digest"
	"github.com/coinbase/cb-ffi-go/pkg/cbffi/keys"
)

var errQuit = errors.New("quit")

type command struct {
	usage string
	help  string
	run   func(s *session, args []string) error
}

// session drives boundary calls against an in-process host.
type session struct {
	host *cbffi.Host
	out  io.Writer
}

var commands map[string]command

func init() {
	commands = map[string]command{
		"keys.new":    {"keys.new", "generate a secp256k1 key", (*session).keysNew},
		"keys.sign":   {"keys.sign <handle> <message>", "sign sha256(message) with ECDSA", (*session).keysSign},
		"keys.verify": {"keys.verify <pubkey-hex> <message> <sig-hex>", "verify an ECDSA signature", (*session).keysVerify},
		"digest":      {"digest <sha256|xxh64> <text>", "hash text", (*session).digest},
		"compress":    {"compress <zstd|gzip> <text>", "compress text and check the round trip", (*session).compress},
		"release":     {"release <handle>", "release a handle", (*session).release},
		"snapshot":    {"snapshot", "list live handles", (*session).snapshot},
		"log":         {"log [n]", "show recent log lines", (*session).log},
		"level":       {"level <trace|debug|info|warn|error>", "change the log level", (*session).level},
		"help":        {"help", "show this text", (*session).help},
		"quit":        {"quit", "exit", func(*session, []string) error { return errQuit }},
	}
}

func commandNames() []string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// exec runs one input line. It returns errQuit when the session should end.
func (s *session) exec(line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	cmd, ok := commands[fields[0]]
	if !ok {
		return fmt.Errorf("unknown command %q (try help)", fields[0])
	}
	return cmd.run(s, fields[1:])
}

func (s *session) invoke(name string, fn cbffi.CallFunc, opts ...cbffi.CallOption) ([]byte, cbffi.Handle, error) {
	env := s.host.Invoke(context.Background(), name, fn, opts...)
	if !env.OK() {
		return nil, cbffi.NoHandle, env.Err()
	}
	return env.Payload(), env.Handle(), nil
}

func parseHandle(arg string) (cbffi.Handle, error) {
	n, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return cbffi.NoHandle, fmt.Errorf("bad handle %q: %w", arg, err)
	}
	return cbffi.Handle(n), nil
}

func need(args []string, n int, usage string) error {
	if len(args) < n {
		return fmt.Errorf("usage: %s", usage)
	}
	return nil
}

func (s *session) keysNew(args []string) error {
	pub, h, err := s.invoke("keys.new", func(c *cbffi.Call) (any, error) { return keys.New(c) })
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "handle %d\npublic %s\n", h, hex.EncodeToString(pub))
	return nil
}

func (s *session) keysSign(args []string) error {
	if err := need(args, 2, commands["keys.sign"].usage); err != nil {
		return err
	}
	h, err := parseHandle(args[0])
	if err != nil {
		return err
	}
	d := sha256.Sum256([]byte(strings.Join(args[1:], " ")))
	sig, _, err := s.invoke("keys.sign", func(c *cbffi.Call) (any, error) { return keys.SignECDSA(c, h, d[:]) })
	if err != nil {
		return err
	}
	fmt.Fprintln(s.out, hex.EncodeToString(sig))
	return nil
}

func (s *session) keysVerify(args []string) error {
	if err := need(args, 3, commands["keys.verify"].usage); err != nil {
		return err
	}
	pub, err := hex.DecodeString(args[0])
	if err != nil {
		return fmt.Errorf("bad public key: %w", err)
	}
	sig, err := hex.DecodeString(args[len(args)-1])
	if err != nil {
		return fmt.Errorf("bad signature: %w", err)
	}
	d := sha256.Sum256([]byte(strings.Join(args[1:len(args)-1], " ")))
	out, _, err := s.invoke("keys.verify", func(*cbffi.Call) (any, error) { return keys.VerifyECDSA(pub, d[:], sig) })
	if err != nil {
		return err
	}
	var v keys.Verdict
	if err := json.Unmarshal(out, &v); err != nil {
		return err
	}
	if v.Valid {
		fmt.Fprintln(s.out, "valid")
	} else {
		fmt.Fprintln(s.out, "INVALID")
	}
	return nil
}

func (s *session) digest(args []string) error {
	if err := need(args, 1, commands["digest"].usage); err != nil {
		return err
	}
	algo, err := digest.ParseAlgorithm(args[0])
	if err != nil {
		return err
	}
	text := []byte(strings.Join(args[1:], " "))
	sum, _, err := s.invoke("digest", func(c *cbffi.Call) (any, error) { return digest.Sum(c, algo, text) })
	if err != nil {
		return err
	}
	fmt.Fprintln(s.out, hex.EncodeToString(sum))
	return nil
}

func (s *session) compress(args []string) error {
	if err := need(args, 1, commands["compress"].usage); err != nil {
		return err
	}
	f, err := compress.ParseFormat(args[0])
	if err != nil {
		return err
	}
	text := []byte(strings.Join(args[1:], " "))
	var last int64
	packed, _, err := s.invoke("compress", func(c *cbffi.Call) (any, error) {
		return compress.Encode(c, f, text)
	}, cbffi.WithProgress(cbffi.ProgressFunc(func(n int64) bool { last = n; return true })))
	if err != nil {
		return err
	}
	back, _, err := s.invoke("decompress", func(c *cbffi.Call) (any, error) { return compress.Decode(c, f, packed) })
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "%s: %d -> %d bytes (read %d), round trip ok: %t\n", f, len(text), len(packed), last, string(back) == string(text))
	return nil
}

func (s *session) release(args []string) error {
	if err := need(args, 1, commands["release"].usage); err != nil {
		return err
	}
	h, err := parseHandle(args[0])
	if err != nil {
		return err
	}
	if _, _, err := s.invoke("release", func(c *cbffi.Call) (any, error) { return nil, c.Host().Release(h) }); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "released %d\n", h)
	return nil
}

func (s *session) snapshot([]string) error {
	data, err := s.host.Snapshot()
	if err != nil {
		return err
	}
	_, err = s.out.Write(data)
	return err
}

func (s *session) log(args []string) error {
	n := 20
	if len(args) > 0 {
		v, err := strconv.Atoi(args[0])
		if err != nil || v < 0 {
			return fmt.Errorf("bad line count %q", args[0])
		}
		n = v
	}
	for _, line := range s.host.RecentLog(n) {
		fmt.Fprintln(s.out, line)
	}
	return nil
}

func (s *session) level(args []string) error {
	if err := need(args, 1, commands["level"].usage); err != nil {
		return err
	}
	if err := s.host.SetLogLevel(args[0]); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "log level %s\n", s.host.LogLevel())
	return nil
}

func (s *session) help([]string) error {
	for _, name := range commandNames() {
		c := commands[name]
		fmt.Fprintf(s.out, "  %-48s %s\n", c.usage, c.help)
	}
	return nil
}
