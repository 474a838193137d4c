package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

type chatReply struct {
	Response  string `json:"response"`
	Intent    string `json:"intent"`
	SessionID string `json:"session_id"`
	RateLimit struct {
		Minute int `json:"minute_remaining"`
		Day    int `json:"daily_remaining"`
	} `json:"rate_limit"`
}

func main() {
	server := flag.String("server", "http://localhost:3210", "FinSight server URL")
	verbose := flag.Bool("v", false, "Show intent and remaining AI calls after each answer")
	flag.Parse()

	fmt.Println("FinSight CLI Chat")
	fmt.Printf("Server: %s\n", *server)
	fmt.Println("Type 'exit' or 'quit' to leave.")
	fmt.Println("Commands: /limits, /status, /forget")
	fmt.Println("---")

	client := &http.Client{Timeout: 65 * time.Second}
	sessionID := ""

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
		switch input {
		case "exit", "quit":
			fmt.Println("Bye!")
			return
		case "/limits":
			fetchLimits(client, *server)
			continue
		case "/status":
			fetchStatus(client, *server)
			continue
		case "/forget":
			forget(client, *server, sessionID)
			sessionID = ""
			continue
		}

		reply, err := sendMessage(client, *server, sessionID, input)
		if err != nil {
			printError("%v", err)
			continue
		}
		sessionID = reply.SessionID
		fmt.Println(reply.Response)
		if *verbose {
			fmt.Printf("\033[90m[%s | %d/min, %d/day left]\033[0m\n",
				reply.Intent, reply.RateLimit.Minute, reply.RateLimit.Day)
		}
	}
}

func sendMessage(client *http.Client, server, sessionID, message string) (*chatReply, error) {
	body, _ := json.Marshal(map[string]string{
		"message":    message,
		"session_id": sessionID,
	})
	resp, err := client.Post(server+"/api/chat", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server error (%d): %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	var reply chatReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	return &reply, nil
}

func fetchLimits(client *http.Client, server string) {
	resp, err := client.Get(server + "/api/chat/rate-limit")
	if err != nil {
		printError("Failed to fetch limits: %v", err)
		return
	}
	defer resp.Body.Close()

	var rem struct {
		Minute int `json:"minute_remaining"`
		Day    int `json:"daily_remaining"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rem); err != nil {
		printError("Failed to parse limits: %v", err)
		return
	}
	fmt.Printf("AI calls left: %d this minute, %d today.\n", rem.Minute, rem.Day)
}

func fetchStatus(client *http.Client, server string) {
	resp, err := client.Get(server + "/api/gateway/status")
	if err != nil {
		printError("Failed to fetch status: %v", err)
		return
	}
	defer resp.Body.Close()

	var statuses []struct {
		Platform  string `json:"platform"`
		Connected bool   `json:"connected"`
		Error     string `json:"error,omitempty"`
		Details   string `json:"details,omitempty"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&statuses); err != nil {
		printError("Failed to parse status: %v", err)
		return
	}
	fmt.Println("Gateway Status:")
	for _, s := range statuses {
		icon := "\033[31m✗\033[0m"
		if s.Connected {
			icon = "\033[32m✓\033[0m"
		}
		fmt.Printf("  %s %s", icon, s.Platform)
		if s.Details != "" {
			fmt.Printf(" (%s)", s.Details)
		}
		if s.Error != "" {
			fmt.Printf(" \033[31m%s\033[0m", s.Error)
		}
		fmt.Println()
	}
}

func forget(client *http.Client, server, sessionID string) {
	if sessionID == "" {
		fmt.Println("Nothing to forget yet.")
		return
	}
	req, _ := http.NewRequest(http.MethodDelete, server+"/api/chat/sessions/"+sessionID, nil)
	resp, err := client.Do(req)
	if err != nil {
		printError("Failed to forget session: %v", err)
		return
	}
	resp.Body.Close()
	fmt.Println("Started a fresh conversation.")
}

func printError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "\033[31m"+format+"\033[0m\n", args...)
}
