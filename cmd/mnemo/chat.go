package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	chatServer string
	chatOwner  string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive REPL against a running server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return chat()
	},
}

func init() {
	chatCmd.Flags().StringVar(&chatServer, "server", "http://localhost:8080", "server URL")
	chatCmd.Flags().StringVar(&chatOwner, "owner", "cli-user", "owner id for the conversation")
}

type turnRequest struct {
	Owner   string `json:"owner"`
	Session string `json:"session"`
	Input   string `json:"input"`
}

type turnResponse struct {
	Reply       string   `json:"reply"`
	SideEffects []string `json:"side_effects,omitempty"`
}

func chat() error {
	session := uuid.New().String()
	fmt.Printf("Server: %s | Owner: %s | Session: %s\n", chatServer, chatOwner, session)
	fmt.Println("Type 'exit' or 'quit' to leave. /help lists commands.")
	fmt.Println("---")

	client := &http.Client{Timeout: 90 * time.Second}
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("\n> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			fmt.Println("Bye!")
			return nil
		}
		sendTurn(client, chatOwner, session, input)
	}
	return scanner.Err()
}

func sendTurn(client *http.Client, owner, session, input string) {
	body, _ := json.Marshal(turnRequest{Owner: owner, Session: session, Input: input})

	resp, err := client.Post(chatServer+"/api/turn", "application/json", bytes.NewReader(body))
	if err != nil {
		printError("Request failed: %v", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		printError("Server error (%d): %s", resp.StatusCode, string(data))
		return
	}

	var out turnResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		printError("Failed to parse response: %v", err)
		return
	}

	fmt.Println(out.Reply)
	for _, se := range out.SideEffects {
		fmt.Printf("\033[90m  • %s\033[0m\n", se)
	}
}

func printError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "\033[31m"+format+"\033[0m\n", args...)
}
