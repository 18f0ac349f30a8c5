// Package handlers holds the commands every engine answers out of the box.
package handlers

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"unicode"

	"github.com/lexcodex/codeengine/crawl"
	"github.com/lexcodex/codeengine/endpoint"
	"github.com/lexcodex/codeengine/framework"
)

const (
	endOfFindTypes = "end-of-find-types"
	endOfGetFiles  = "end-of-get-files"
	defaultLimit   = 50
)

// Outbox is where handlers write replies and events.
type Outbox interface {
	Reply(msg endpoint.MessageArgs, text string)
	PublishEvent(body string)
}

// Registrar accepts handlers.
type Registrar interface {
	RegisterHandler(h endpoint.Handler)
}

// Options tune the built-in handlers.
type Options struct {
	// FindLimit caps find-types results when no --limit is given.
	FindLimit int
	Logger    *log.Logger
	Telemetry framework.Telemetry
}

// Builtins implements ping, crawl, crawl-line, invalidate, find-types,
// get-files, stats and goto.
type Builtins struct {
	out       Outbox
	logger    *log.Logger
	telemetry framework.Telemetry
	findLimit int
	session   *crawl.Session
}

// New builds the handler set. cache receives crawl-line updates through one
// shared decoder session.
func New(out Outbox, cache framework.CrawlResult, opts Options) *Builtins {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	limit := opts.FindLimit
	if limit <= 0 {
		limit = defaultLimit
	}
	decoder := crawl.NewDecoder(cache, logger).WithTelemetry(opts.Telemetry)
	return &Builtins{
		out:       out,
		logger:    logger,
		telemetry: opts.Telemetry,
		findLimit: limit,
		session:   crawl.NewSession(decoder),
	}
}

// Register adds every handler to r in a fixed order.
func (b *Builtins) Register(r Registrar) {
	for _, h := range b.Handlers() {
		r.RegisterHandler(h)
	}
}

// Handlers returns the handler functions in registration order.
func (b *Builtins) Handlers() []endpoint.Handler {
	return []endpoint.Handler{
		b.command("ping", b.ping),
		b.command("crawl", b.crawl),
		b.rawCommand("crawl-line", b.crawlLine),
		b.command("invalidate", b.invalidate),
		b.command("find-types", b.findTypes),
		b.command("get-files", b.getFiles),
		b.command("stats", b.stats),
		b.command("goto", b.gotoPosition),
	}
}

type commandFunc func(msg endpoint.MessageArgs, args []string, cache framework.TypeCache, editor *endpoint.Editor)

// command adapts fn into a handler that only fires for name.
func (b *Builtins) command(name string, fn commandFunc) endpoint.Handler {
	return func(msg endpoint.MessageArgs, cache framework.TypeCache, editor *endpoint.Editor) {
		parsed, err := endpoint.ParseCommandMessage(msg.Message)
		if err != nil || parsed.Command != name {
			return
		}
		fn(msg, parsed.Arguments, cache, editor)
	}
}

// rawCommand hands fn the text after name untouched, so crawler lines keep
// their quotes and inner whitespace. A remainder that is one quoted argument,
// as produced by CommandMessage.String, is unquoted first.
func (b *Builtins) rawCommand(name string, fn func(msg endpoint.MessageArgs, rest string)) endpoint.Handler {
	return func(msg endpoint.MessageArgs, _ framework.TypeCache, _ *endpoint.Editor) {
		text := strings.TrimSpace(msg.Message)
		head, rest := text, ""
		if i := strings.IndexFunc(text, unicode.IsSpace); i >= 0 {
			head, rest = text[:i], text[i:]
		}
		if head != name {
			return
		}
		rest = strings.TrimSpace(rest)
		if strings.HasPrefix(rest, `"`) {
			parsed, err := endpoint.ParseCommandMessage(rest)
			if err == nil && len(parsed.Arguments) == 0 && parsed.String() == rest {
				rest = parsed.Command
			}
		}
		fn(msg, rest)
	}
}

func (b *Builtins) ping(msg endpoint.MessageArgs, _ []string, _ framework.TypeCache, _ *endpoint.Editor) {
	b.out.Reply(msg, "pong")
}

func (b *Builtins) crawl(_ endpoint.MessageArgs, args []string, cache framework.TypeCache, _ *endpoint.Editor) {
	decoder := crawl.NewDecoder(cache, b.logger).WithTelemetry(b.telemetry)
	for _, path := range args {
		f, err := os.Open(path)
		if err != nil {
			b.logger.Printf("crawl %s: %v", path, err)
			b.out.PublishEvent(fmt.Sprintf("crawl-failed %s", path))
			continue
		}
		stats, err := decoder.Feed(context.Background(), f)
		_ = f.Close()
		if err != nil {
			b.logger.Printf("crawl %s: %v", path, err)
		}
		b.out.PublishEvent(fmt.Sprintf("crawled %s lines=%d failed=%d", path, stats.Lines, stats.Failed))
	}
}

func (b *Builtins) crawlLine(_ endpoint.MessageArgs, line string) {
	if err := b.session.Decode(line); err != nil {
		b.logger.Printf("crawl-line skipped: %v", err)
	}
}

func (b *Builtins) invalidate(_ endpoint.MessageArgs, args []string, cache framework.TypeCache, _ *endpoint.Editor) {
	for _, path := range args {
		cache.Invalidate(path)
		b.out.PublishEvent("invalidated " + path)
	}
}

func (b *Builtins) findTypes(msg endpoint.MessageArgs, args []string, cache framework.TypeCache, _ *endpoint.Editor) {
	query, limit := splitLimit(args, b.findLimit)
	for _, r := range cache.FindLimit(query, limit) {
		b.out.Reply(msg, FormatReference(r))
	}
	b.out.Reply(msg, endOfFindTypes)
}

func (b *Builtins) getFiles(msg endpoint.MessageArgs, args []string, cache framework.TypeCache, _ *endpoint.Editor) {
	for _, f := range cache.FindFiles(strings.Join(args, " ")) {
		b.out.Reply(msg, string(f.Type)+"|"+f.File)
	}
	b.out.Reply(msg, endOfGetFiles)
}

func (b *Builtins) stats(msg endpoint.MessageArgs, _ []string, cache framework.TypeCache, _ *endpoint.Editor) {
	b.out.Reply(msg, fmt.Sprintf("stats projects=%d files=%d references=%d",
		cache.ProjectCount(), cache.FileCount(), cache.CodeReferenceCount()))
}

// gotoPosition forwards "goto file|line|column" to the editor.
func (b *Builtins) gotoPosition(msg endpoint.MessageArgs, args []string, _ framework.TypeCache, editor *endpoint.Editor) {
	if len(args) == 0 {
		return
	}
	text := endpoint.CommandMessage{Command: "goto", Arguments: args}.String()
	if err := editor.Send(context.Background(), text); err != nil {
		b.logger.Printf("goto not delivered: %v", err)
	}
}

// FormatReference renders a find-types reply line.
func FormatReference(r framework.CodeReference) string {
	return strings.Join([]string{
		r.File,
		strconv.Itoa(r.Line),
		strconv.Itoa(r.Column),
		string(r.Type),
		r.Name,
		r.Signature,
	}, "|")
}

// splitLimit pulls "--limit N" out of args and joins the rest into a query.
// N <= 0 keeps fallback.
func splitLimit(args []string, fallback int) (string, int) {
	limit := fallback
	rest := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		if args[i] == "--limit" && i+1 < len(args) {
			if n, err := strconv.Atoi(args[i+1]); err == nil {
				if n > 0 {
					limit = n
				}
				i++
				continue
			}
		}
		rest = append(rest, args[i])
	}
	return strings.Join(rest, " "), limit
}
