// backchat - background stream coordinator for multi-session chat.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/jeranaias/backchat/internal/app"
	"github.com/jeranaias/backchat/internal/config"
	"github.com/jeranaias/backchat/internal/diag"
	"github.com/jeranaias/backchat/internal/discovery"
	"github.com/jeranaias/backchat/internal/export"
	"github.com/jeranaias/backchat/internal/live"
	"github.com/jeranaias/backchat/internal/provider"
	"github.com/jeranaias/backchat/internal/registry"
	"github.com/jeranaias/backchat/internal/router"
	"github.com/jeranaias/backchat/internal/store"
	"github.com/jeranaias/backchat/internal/turn"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func main() {
	// API keys may live in a .env next to the binary.
	_ = godotenv.Load()

	if len(os.Args) > 1 && (os.Args[1] == "--version" || os.Args[1] == "-v") {
		fmt.Printf("backchat %s (%s, built %s)\n", Version, GitCommit, BuildDate)
		return
	}

	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logger, err := diag.New(cfg.Storage.LogDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to open log: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	st, err := store.Open(cfg.Storage.DBPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to open store: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()
	st.RetentionItems = cfg.Discovery.RetentionItems

	// Wire the stream core.
	lv := live.NewState(nil)
	reg := registry.New(st, lv, logger)
	pending := turn.NewPendingTracker()
	client := provider.NewClient(cfg.Provider, logger)
	trigger := discovery.NewTrigger(st, reg, client, cfg.Discovery, logger)
	defer trigger.Close()

	flushInterval := time.Duration(cfg.Stream.FlushIntervalMs) * time.Millisecond
	rt := router.New(reg, lv, pending, trigger, logger, flushInterval)
	trigger.SetEmitter(rt.Handle)
	coord := app.New(cfg, st, lv, reg, pending, rt, client, logger)
	defer coord.Wait()

	// Pick up config edits while running.
	watcher, err := config.NewWatcher(config.DefaultPath(), func(updated *config.Config) {
		st.RetentionItems = updated.Discovery.RetentionItems
	})
	if err == nil {
		defer watcher.Close()
	}

	runREPL(coord)
}

// runREPL drives the coordinator from stdin. It stands in for a richer
// frontend; the stream core underneath is the same either way.
func runREPL(coord *app.Coordinator) {
	fmt.Println("backchat " + Version)
	fmt.Println("Commands: /new /open <id> /list /cancel /badges /export [md|json] /delete <id> /quit")

	var current string
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			current = handleCommand(coord, current, line)
			if current == quitSentinel {
				return
			}
			continue
		}

		if current == "" {
			fmt.Println("no session open; /new first")
			continue
		}
		turnID, err := coord.Send(current, line)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			continue
		}
		fmt.Println("dispatched " + turnID)
	}
}

const quitSentinel = "\x00quit"

// handleCommand executes a slash command and returns the current session
// id, possibly changed.
func handleCommand(coord *app.Coordinator, current, line string) string {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return quitSentinel

	case "/new":
		sess, err := coord.NewSession()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return current
		}
		if _, err := coord.OpenSession(sess.ID); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return current
		}
		fmt.Println("session " + sess.ID)
		return sess.ID

	case "/open":
		if len(fields) < 2 {
			fmt.Println("usage: /open <id>")
			return current
		}
		sess, err := coord.OpenSession(fields[1])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return current
		}
		for _, m := range sess.Messages {
			fmt.Printf("[%s] %s\n", m.Role, m.Content)
		}
		return sess.ID

	case "/list":
		metas, err := coord.ListSessions()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return current
		}
		for _, meta := range metas {
			fmt.Printf("%s  %s  (%d messages)\n", meta.ID, meta.Title, meta.MessageCount)
		}

	case "/cancel":
		coord.CancelActive()

	case "/badges":
		for _, id := range coord.ActiveSessionIDs() {
			fmt.Println("streaming: " + id)
		}

	case "/export":
		if current == "" {
			fmt.Println("no session open; /open first")
			return current
		}
		sess, err := coord.OpenSession(current)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return current
		}
		format := "md"
		if len(fields) > 1 {
			format = fields[1]
		}
		opts := export.DefaultOptions()
		var path string
		switch format {
		case "md":
			path, err = export.Markdown(sess, opts)
		case "json":
			path, err = export.JSON(sess, opts)
		default:
			fmt.Println("usage: /export [md|json]")
			return current
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return current
		}
		fmt.Println("wrote " + path)

	case "/delete":
		if len(fields) < 2 {
			fmt.Println("usage: /delete <id>")
			return current
		}
		if err := coord.DeleteSession(fields[1]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		if fields[1] == current {
			coord.CloseSession()
			return ""
		}

	default:
		fmt.Println("unknown command " + fields[0])
	}
	return current
}
