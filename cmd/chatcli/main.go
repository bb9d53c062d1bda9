package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"

	"github.com/suPer8Hu/companion-chat/internal/auth"
	"github.com/suPer8Hu/companion-chat/internal/chatclient"
	"github.com/suPer8Hu/companion-chat/internal/chatview"
	"github.com/suPer8Hu/companion-chat/internal/protocol"
)

type app struct {
	client   *chatclient.Client
	view     *chatview.View
	sessions *chatview.SessionList
	modals   chatview.Modals
	first    bool
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "chat API base url")
	sessionID := flag.String("session", "", "continue an existing session")
	bearer := flag.String("bearer", os.Getenv("CHAT_BEARER"), "JWT for an authenticated user")
	anon := flag.String("anon-token", os.Getenv("CHAT_ANON_TOKEN"), "anonymous session token")
	flag.Parse()

	c := chatclient.New(*baseURL)
	c.Bearer = *bearer
	c.AnonToken = *anon
	if c.Bearer == "" && c.AnonToken == "" {
		raw, err := auth.NewRawToken()
		if err != nil {
			fmt.Fprintln(os.Stderr, "mint anonymous token:", err)
			os.Exit(1)
		}
		c.AnonToken = raw
		fmt.Printf("anonymous token: %s (pass -anon-token to resume)\n", raw)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{client: c, sessions: chatview.NewSessionList()}
	if *sessionID != "" {
		a.open(ctx, *sessionID, false)
	} else {
		a.open(ctx, uuid.NewString(), true)
	}

	fmt.Println("commands: /new /sessions /history /rename <title> /quit")
	in := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !in.Scan() {
			return
		}
		line := strings.TrimSpace(in.Text())
		switch {
		case line == "":
			continue
		case line == "/quit":
			return
		case line == "/new":
			a.open(ctx, uuid.NewString(), true)
		case line == "/sessions":
			a.refreshSessions(ctx)
			for _, it := range a.sessions.Items() {
				fmt.Printf("  %s  %s\n", it.SessionID, it.Title)
			}
		case line == "/history":
			a.refreshMessages(ctx)
			a.printHistory()
		case strings.HasPrefix(line, "/rename "):
			sess, err := c.Rename(ctx, a.view.SessionID, strings.TrimSpace(strings.TrimPrefix(line, "/rename ")))
			if err != nil {
				fmt.Println("rename failed:", err)
				continue
			}
			fmt.Println("renamed to", deref(sess.Title))
		default:
			a.send(ctx, line)
		}
	}
}

func (a *app) open(ctx context.Context, sessionID string, fresh bool) {
	a.view = chatview.NewView(sessionID, a.sessions)
	a.first = fresh
	if !fresh {
		a.refreshMessages(ctx)
		a.printHistory()
	}
	fmt.Println("session", sessionID)
}

func (a *app) send(ctx context.Context, text string) {
	if err := a.view.Submit(text, a.first); err != nil {
		fmt.Println(err)
		return
	}
	events, err := a.client.Stream(ctx, a.view.SessionID, text, a.first)
	if err != nil {
		a.handle(ctx, a.view.Fail(err))
		return
	}

	for ev := range events {
		if ev.Type == protocol.EventToken {
			fmt.Print(ev.Content)
		}
		a.handle(ctx, a.view.Apply(ev))
	}
	if a.view.State() == chatview.StreamingTokens || a.view.State() == chatview.Sending {
		// channel closed by cancellation
		a.handle(ctx, a.view.Fail(ctx.Err()))
	}
	if a.view.State() == chatview.Reconciled {
		a.first = false
		fmt.Println()
	}
}

func (a *app) handle(ctx context.Context, effs []chatview.Effect) {
	a.modals = a.modals.Reduce(effs)
	for _, e := range effs {
		switch eff := e.(type) {
		case chatview.InvalidateSessions:
			a.refreshSessions(ctx)
		case chatview.InvalidateMessages:
			a.refreshMessages(ctx)
		case chatview.OpenModal:
			fmt.Printf("\n[%s] %s\n", eff.Modal, eff.Message)
			for _, r := range a.view.Resources() {
				fmt.Printf("  - %s %s %s\n", r.Title, r.URL, r.Phone)
			}
			a.modals = a.modals.Close(eff.Modal)
		case chatview.ShowError:
			fmt.Println("\nerror:", eff.Message)
		}
	}
}

func (a *app) refreshMessages(ctx context.Context) {
	msgs, err := a.client.ListMessages(ctx, a.view.SessionID)
	if err != nil {
		fmt.Println("load messages:", err)
		return
	}
	a.view.Load(msgs)
}

// refreshSessions needs a bearer; anonymous callers keep skeletons only.
func (a *app) refreshSessions(ctx context.Context) {
	if a.client.Bearer == "" {
		return
	}
	list, err := a.client.ListSessions(ctx, 50)
	if err != nil {
		fmt.Println("load sessions:", err)
		return
	}
	items := make([]chatview.SessionItem, 0, len(list))
	for _, s := range list {
		items = append(items, chatview.SessionItem{SessionID: s.SessionID, Title: deref(s.Title), LastActivityAt: s.LastActivityAt})
	}
	a.sessions.Replace(items)
}

func (a *app) printHistory() {
	for _, e := range a.view.Entries() {
		fmt.Printf("%-9s %s\n", chatview.Role(e)+":", chatview.Content(e))
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
