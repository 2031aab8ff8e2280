// Terminal chat client.
//
// Connects to the relay server, exchanges a human-verification proof for an
// access token when one is supplied, and streams assistant responses into
// the terminal. Conversations persist locally in a BoltDB file.
//
// Usage:
//
//	chat -server http://localhost:8080 -proof "<verification proof>"
//
// Commands inside the prompt:
//
//	/new      start a new conversation
//	/list     list stored conversations
//	/open N   switch to conversation N
//	/credits  show remaining credits
//	/quit     exit
//
// Ctrl-C cancels the in-flight response; text already received is kept.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/thomasgauvin/llm-client/pkg/client"
)

func main() {
	serverURL := flag.String("server", "http://localhost:8080", "relay server base URL")
	dataDir := flag.String("data", defaultDataDir(), "directory for local state")
	proof := flag.String("proof", "", "human-verification proof to exchange for an access token")
	flag.Parse()

	store, err := client.OpenConversationStore(filepath.Join(*dataDir, "conversations.db"))
	if err != nil {
		log.Fatalf("Failed to open conversation store: %v", err)
	}
	defer store.Close()

	session, err := client.NewSessionStore(*serverURL, filepath.Join(*dataDir, "token"))
	if err != nil {
		log.Fatalf("Failed to initialize session: %v", err)
	}
	defer session.Close()

	if *proof != "" {
		if _, err := session.Exchange(context.Background(), *proof); err != nil {
			log.Fatalf("Token exchange failed: %v", err)
		}
		fmt.Println("Session established.")
	} else if session.Token() == "" {
		fmt.Println("No session token yet. Pass -proof to establish one; requests will be rejected until then.")
	}

	consumer := client.NewConsumer(*serverURL, session, store)
	consumer.OnChunk(func(text string) { fmt.Print(text) })

	// Ctrl-C cancels the in-flight stream only; /quit exits.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT)
	go func() {
		for range sigCh {
			consumer.Cancel()
		}
	}()

	fmt.Println("Type a message, or /new /list /open N /credits /quit.")

	scanner := bufio.NewScanner(os.Stdin)
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
			if quit := runCommand(line, consumer, session, store); quit {
				return
			}
			continue
		}

		consumer.Send(context.Background(), line)
		consumer.Wait()
		fmt.Println()

		switch consumer.State() {
		case client.StateAborted:
			fmt.Println("(response canceled)")
		}
	}
}

func runCommand(line string, consumer *client.Consumer, session *client.SessionStore, store *client.ConversationStore) bool {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true

	case "/new":
		consumer.NewConversation()
		fmt.Println("Started a new conversation.")

	case "/list":
		all, err := store.All()
		if err != nil {
			fmt.Printf("Failed to list conversations: %v\n", err)
			break
		}
		if len(all) == 0 {
			fmt.Println("No stored conversations.")
			break
		}
		for _, conv := range all {
			fmt.Printf("%4d  %s (%d messages)\n", conv.ID, conv.Title, len(conv.Messages))
		}

	case "/open":
		if len(fields) < 2 {
			fmt.Println("Usage: /open N")
			break
		}
		id, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			fmt.Println("Usage: /open N")
			break
		}
		if err := consumer.Load(id); err != nil {
			fmt.Printf("Failed to open conversation %d: %v\n", id, err)
			break
		}
		conv := consumer.Current()
		fmt.Printf("Opened %q:\n", conv.Title)
		for _, m := range conv.Messages {
			fmt.Printf("[%s] %s\n", m.Role, m.Content)
		}

	case "/credits":
		credits, err := session.Credits(context.Background())
		if err != nil {
			fmt.Printf("Failed to fetch credits: %v\n", err)
			break
		}
		fmt.Printf("Credits remaining: %d\n", credits)

	default:
		fmt.Printf("Unknown command %q.\n", fields[0])
	}
	return false
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".llm-client"
	}
	return filepath.Join(home, ".llm-client")
}
