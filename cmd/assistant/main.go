// Command assistant is a terminal client for the invoicing assistant chat.
//
//	ASSISTANT_API_URL=http://localhost:8080 ASSISTANT_TOKEN=... assistant
//
// Lines starting with / are commands: /goto <path> sets the page context the
// assistant sees, /reset clears the conversation, /quit exits.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"

	"github.com/joho/godotenv"
	"github.com/peterh/liner"

	"invoicing-backend/internal/assistant"
	"invoicing-backend/internal/chatsession"
	"invoicing-backend/internal/models"
)

func main() {
	godotenv.Load()

	apiURL := os.Getenv("ASSISTANT_API_URL")
	if apiURL == "" {
		apiURL = "http://localhost:8080"
	}
	token := os.Getenv("ASSISTANT_TOKEN")
	if token == "" {
		log.Fatal("ASSISTANT_TOKEN is not set (generate one with: server token <user-id>)")
	}

	session := chatsession.New(chatsession.NewHTTPStreamer(apiURL, token))
	chatCtx := assistant.ContextFromPath("/dashboard")

	// Ctrl-C while a reply streams cancels the turn; at the prompt it exits.
	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	go func() {
		for range interrupts {
			session.Cancel()
		}
	}()

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	fmt.Printf("Connected to %s (page: %s). Type /quit to exit.\n", apiURL, chatCtx.Page)
	for {
		input, err := line.Prompt("> ")
		if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			log.Printf("read failed: %v", err)
			return
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		if strings.HasPrefix(input, "/") {
			if quit := runCommand(input, session, &chatCtx); quit {
				return
			}
			continue
		}

		turnCtx := chatCtx
		err = session.Send(context.Background(), input, &turnCtx, func(chunk string) {
			fmt.Print(chunk)
		})
		fmt.Println()
		switch {
		case errors.Is(err, chatsession.ErrInterrupted):
			fmt.Println("(interrupted)")
		case err != nil:
			fmt.Printf("error: %v\n", err)
		}
	}
}

func runCommand(input string, session *chatsession.Session, chatCtx *models.ChatContext) bool {
	cmd, arg, _ := strings.Cut(input, " ")
	switch cmd {
	case "/quit", "/exit":
		return true
	case "/reset":
		session.Reset()
		fmt.Println("Conversation cleared.")
	case "/goto":
		path := strings.TrimSpace(arg)
		if path == "" {
			fmt.Println("usage: /goto <path>")
			break
		}
		*chatCtx = assistant.ContextFromPath(path)
		fmt.Printf("Page: %s\n", chatCtx.Page)
	default:
		fmt.Printf("unknown command %s\n", cmd)
	}
	return false
}
