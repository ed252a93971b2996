// ABOUTME: Interactive terminal client for browsing and sending direct messages.
// ABOUTME: Runs against the in-memory mock service with a live poll loop and simulated traffic.

package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/driftdeck/dmsync/internal/channel"
	"github.com/driftdeck/dmsync/internal/chat"
	"github.com/driftdeck/dmsync/internal/config"
	"github.com/driftdeck/dmsync/internal/firehose"
	"github.com/driftdeck/dmsync/internal/session"
)

var (
	dim     = color.New(color.Faint)
	bold    = color.New(color.Bold)
	green   = color.New(color.FgGreen)
	yellow  = color.New(color.FgYellow)
	red     = color.New(color.FgRed)
	cyan    = color.New(color.FgCyan)
	magenta = color.New(color.FgMagenta)
)

func main() {
	configPath := flag.String("config", "", "Path to config file (optional)")
	identity := flag.String("identity", "did:plc:demo-self", "Identity DID to run as")
	verbose := flag.Bool("verbose", false, "Log engine internals to stderr")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if cfg.Identity == "" {
		cfg.Identity = *identity
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if *verbose {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	svc := chat.NewMockService()
	svc.Self = cfg.Identity
	seedDemo(svc)

	s, err := session.New(svc, cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer s.Close()

	fmt.Printf("dmsync-tui running as %s\n", bold.Sprint(cfg.Identity))
	fmt.Println("Type /help for commands. Ctrl+C to quit.")
	fmt.Println()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := s.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := run(ctx, s, svc); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("\nGoodbye!")
}

// seedDemo loads a couple of conversations with message history so the
// listing has something to show on startup.
func seedDemo(svc *chat.MockService) {
	yesterday := time.Now().Add(-26 * time.Hour)
	svc.SeedConversation(
		chat.Conversation{ID: "convo-ada", Recipients: []string{"did:plc:ada"}},
		chat.Message{Sender: "did:plc:ada", Text: "did you see the firehose drop events again?", SentAt: yesterday},
		chat.Message{Sender: "did:plc:ada", Text: "never mind, it was my proxy", SentAt: yesterday.Add(2 * time.Minute)},
		chat.Message{Sender: svc.Self, Text: "classic", SentAt: yesterday.Add(3 * time.Minute)},
	)
	svc.SeedConversation(
		chat.Conversation{ID: "convo-lin", Recipients: []string{"did:plc:lin"}},
		chat.Message{Sender: "did:plc:lin", Text: "lunch tomorrow?", SentAt: time.Now().Add(-30 * time.Minute)},
	)
}

func run(ctx context.Context, s *session.Session, svc *chat.MockService) error {
	scanner := bufio.NewScanner(os.Stdin)
	var open *channel.Channel

	for {
		if open != nil {
			cyan.Printf("[%s]> ", open.ConvoID())
		} else {
			fmt.Print("> ")
		}

		inputCh := make(chan string, 1)
		errCh := make(chan error, 1)
		go func() {
			if scanner.Scan() {
				inputCh <- scanner.Text()
			} else {
				if err := scanner.Err(); err != nil {
					errCh <- err
				} else {
					errCh <- io.EOF
				}
			}
		}()

		var input string
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("reading input: %w", err)
		case input = <-inputCh:
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		if input == "/quit" || input == "/exit" || input == "/q" {
			return nil
		}

		cmd, arg := input, ""
		if i := strings.IndexByte(input, ' '); i > 0 && strings.HasPrefix(input, "/") {
			cmd, arg = input[:i], strings.TrimSpace(input[i+1:])
		}

		switch cmd {
		case "/help":
			printHelp()

		case "/status":
			printStatus(s.Poller)

		case "/resume":
			s.Poller.Resume()
			fmt.Println("Poller resumed")

		case "/list":
			printListing(s)

		case "/more":
			if err := s.Listing.LoadMore(ctx); err != nil {
				printErr(err)
				break
			}
			printListing(s)

		case "/refresh":
			if err := s.Listing.Refresh(ctx); err != nil {
				printErr(err)
				break
			}
			printListing(s)

		case "/open":
			if arg == "" {
				fmt.Println("Usage: /open <convo_id>")
				break
			}
			ch, err := s.Open(ctx, arg)
			if err != nil {
				printErr(err)
				break
			}
			open = ch
			printChannel(open)

		case "/close":
			open = nil

		case "/older":
			if open == nil {
				fmt.Println("No conversation open. /open <id> first.")
				break
			}
			if err := open.LoadOlder(ctx); err != nil {
				printErr(err)
				break
			}
			printChannel(open)

		case "/retry":
			retryFailed(ctx, open)

		case "/drop":
			dropFailed(open)

		case "/mute", "/unmute", "/leave":
			id := arg
			if id == "" && open != nil {
				id = open.ConvoID()
			}
			if id == "" {
				fmt.Printf("Usage: %s <convo_id>\n", cmd)
				break
			}
			var err error
			switch cmd {
			case "/mute":
				err = s.Listing.Mute(ctx, id)
			case "/unmute":
				err = s.Listing.Unmute(ctx, id)
			case "/leave":
				err = s.Listing.Leave(ctx, id)
				if err == nil && open != nil && open.ConvoID() == id {
					open = nil
				}
			}
			if err != nil {
				printErr(err)
				break
			}
			fmt.Printf("%s %s\n", strings.TrimPrefix(cmd, "/"), id)

		case "/recv":
			// Simulate the other side sending a message, delivered through
			// the live poll loop rather than injected directly.
			if open == nil {
				fmt.Println("No conversation open. /open <id> first.")
				break
			}
			text := arg
			if text == "" {
				text = "simulated reply"
			}
			peer := "did:plc:peer"
			if convo := open.Conversation(); convo != nil && len(convo.Recipients) > 0 {
				peer = convo.Recipients[0]
			}
			svc.Deliver(open.ConvoID(), chat.Message{Sender: peer, Text: text})
			s.Poller.Poll()
			waitAndPrint(open)

		case "/break":
			// Arm a one-shot failure to demo the error paths.
			what := arg
			if what == "" {
				what = "SendMessage"
			}
			svc.FailNext(what, fmt.Errorf("simulated %s outage", what))
			yellow.Printf("Next %s call will fail\n", what)

		default:
			if strings.HasPrefix(input, "/") {
				fmt.Printf("Unknown command %s. /help for commands.\n", cmd)
				break
			}
			if open == nil {
				fmt.Println("No conversation open. /open <id> first.")
				break
			}
			if err := open.Send(ctx, chat.Draft{Text: input}); err != nil {
				printErr(err)
				fmt.Println("Send failed; /retry to retry or /drop to discard.")
			}
			s.Poller.Poll()
			waitAndPrint(open)
		}
		fmt.Println()
	}
}

func printHelp() {
	fmt.Println("Commands:")
	fmt.Println("  /list            Show the conversation listing")
	fmt.Println("  /more            Load the next listing page")
	fmt.Println("  /refresh         Re-fetch the listing from the top")
	fmt.Println("  /open <id>       Open a conversation")
	fmt.Println("  /close           Leave the open conversation view")
	fmt.Println("  /older           Load an older message page")
	fmt.Println("  /retry           Retry the oldest failed send")
	fmt.Println("  /drop            Discard the oldest failed send")
	fmt.Println("  /mute [id]       Mute a conversation")
	fmt.Println("  /unmute [id]     Unmute a conversation")
	fmt.Println("  /leave [id]      Leave a conversation")
	fmt.Println("  /recv [text]     Simulate an incoming message")
	fmt.Println("  /break [method]  Make the next service call fail")
	fmt.Println("  /status          Show poller status")
	fmt.Println("  /resume          Resume the poller after an error")
	fmt.Println("  /quit            Exit")
	fmt.Println()
	fmt.Println("Anything else is sent as a message to the open conversation.")
}

func printStatus(p *firehose.Poller) {
	switch p.Status() {
	case firehose.StatusConnected:
		green.Println("CONNECTED")
	case firehose.StatusInitializing:
		yellow.Println("INITIALIZING")
	case firehose.StatusError:
		kind := "transient"
		if p.ErrKind() == firehose.ErrorKindInit {
			kind = "init"
		}
		red.Printf("ERROR (%s): %v\n", kind, p.Err())
		fmt.Println("Use /resume to restart polling.")
	}
}

func printListing(s *session.Session) {
	convos := s.Listing.Conversations()
	if len(convos) == 0 {
		fmt.Println("No conversations")
		return
	}
	if s.Listing.HasNew() {
		yellow.Println("New activity outside the loaded rows; /refresh to see it.")
	}
	for _, convo := range convos {
		line := convo.ID
		if len(convo.Recipients) > 0 {
			line += " (" + strings.Join(convo.Recipients, ", ") + ")"
		}
		preview := ""
		if convo.LastMessage != nil {
			preview = "  " + truncate(convo.LastMessage.Text, 50)
		}
		switch {
		case convo.Muted:
			dim.Printf("  %s [muted]%s\n", line, preview)
		case convo.Unread:
			bold.Printf("* %s%s\n", line, preview)
		default:
			fmt.Printf("  %s%s\n", line, preview)
		}
	}
	if s.Listing.Cursor() != "" {
		dim.Println("  ... /more for older conversations")
	}
}

func printChannel(ch *channel.Channel) {
	if ch.OldestRev() != "" {
		dim.Println("--- /older for earlier history ---")
	}
	for _, entry := range ch.Entries() {
		switch entry.Kind {
		case channel.EntryKindDivider:
			magenta.Printf("--- %s ---\n", entry.Divider)
		case channel.EntryKindMessage:
			printMessage(entry.Message)
		}
	}
}

func printMessage(me *channel.MessageEntry) {
	sender := me.Message.Sender
	if me.Tail {
		sender = strings.Repeat(" ", len(sender))
	}
	switch {
	case me.Failure != nil:
		red.Printf("%s: %s  [failed: %v]\n", sender, me.Message.Text, me.Failure.Err)
	case me.Pending:
		dim.Printf("%s: %s  [sending]\n", sender, me.Message.Text)
	default:
		fmt.Printf("%s: %s\n", sender, me.Message.Text)
	}
}

// waitAndPrint gives the poll loop a beat to fold the event in, then
// re-renders the open conversation.
func waitAndPrint(ch *channel.Channel) {
	time.Sleep(100 * time.Millisecond)
	printChannel(ch)
}

func firstFailure(ch *channel.Channel) *channel.Failure {
	if ch == nil {
		return nil
	}
	for _, entry := range ch.Entries() {
		if entry.Kind == channel.EntryKindMessage && entry.Message.Failure != nil {
			return entry.Message.Failure
		}
	}
	return nil
}

func retryFailed(ctx context.Context, ch *channel.Channel) {
	f := firstFailure(ch)
	if f == nil {
		fmt.Println("No failed sends")
		return
	}
	if err := f.Retry(ctx); err != nil {
		printErr(err)
		return
	}
	printChannel(ch)
}

func dropFailed(ch *channel.Channel) {
	f := firstFailure(ch)
	if f == nil {
		fmt.Println("No failed sends")
		return
	}
	f.Remove()
	fmt.Println("Dropped")
	printChannel(ch)
}

func printErr(err error) {
	red.Printf("[error] %v\n", err)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
