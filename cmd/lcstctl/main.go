package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/h1v3-io/lcst/internal/config"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(0)
	}

	switch os.Args[1] {
	case "health":
		cmdHealth()
	case "tickets":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: lcstctl tickets <list|show>")
			os.Exit(1)
		}
		switch os.Args[2] {
		case "list":
			cmdTicketsList(os.Args[3:])
		case "show":
			if len(os.Args) < 4 {
				fmt.Fprintln(os.Stderr, "usage: lcstctl tickets show <id>")
				os.Exit(1)
			}
			cmdTicketsShow(os.Args[3])
		default:
			fmt.Fprintf(os.Stderr, "unknown tickets subcommand: %s\n", os.Args[2])
			os.Exit(1)
		}
	case "links":
		if len(os.Args) < 5 || os.Args[2] != "add" {
			fmt.Fprintln(os.Stderr, "usage: lcstctl links add <chat-id> <external-name>")
			os.Exit(1)
		}
		cmdLinksAdd(os.Args[3], os.Args[4])
	case "panels":
		if len(os.Args) < 5 || os.Args[2] != "post" {
			fmt.Fprintln(os.Stderr, "usage: lcstctl panels post <notes|tickets> <channel-id>")
			os.Exit(1)
		}
		cmdPanelsPost(os.Args[3], os.Args[4])
	case "jobs":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: lcstctl jobs <list|run>")
			os.Exit(1)
		}
		switch os.Args[2] {
		case "list":
			cmdJobsList()
		case "run":
			if len(os.Args) < 4 {
				fmt.Fprintln(os.Stderr, "usage: lcstctl jobs run <name>")
				os.Exit(1)
			}
			cmdJobsRun(os.Args[3])
		default:
			fmt.Fprintf(os.Stderr, "unknown jobs subcommand: %s\n", os.Args[2])
			os.Exit(1)
		}
	case "logs":
		cmdLogs(os.Args[2:])
	case "config":
		if len(os.Args) < 4 || os.Args[2] != "validate" {
			fmt.Fprintln(os.Stderr, "usage: lcstctl config validate <path>")
			os.Exit(1)
		}
		cmdConfigValidate(os.Args[3])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// --- API client commands ---

func cmdHealth() {
	body, err := apiGet("/api/health")
	if err != nil {
		fail(err)
	}
	fmt.Println(string(body))
}

func cmdTicketsList(args []string) {
	fs := flag.NewFlagSet("tickets list", flag.ExitOnError)
	status := fs.StringP("status", "s", "", "Filter by status (open|closed)")
	owner := fs.StringP("owner", "o", "", "Filter by owner chat id")
	limit := fs.IntP("limit", "n", 50, "Max results")
	fs.Parse(args)

	q := url.Values{}
	if *status != "" {
		q.Set("status", *status)
	}
	if *owner != "" {
		q.Set("owner", *owner)
	}
	q.Set("limit", strconv.Itoa(*limit))

	body, err := apiGet("/api/tickets?" + q.Encode())
	if err != nil {
		fail(err)
	}
	var tickets []map[string]any
	json.Unmarshal(body, &tickets)
	if len(tickets) == 0 {
		fmt.Println("no tickets")
		return
	}
	for _, t := range tickets {
		fmt.Printf("%-26s %-7s %-8s %-14s %s\n", t["id"], t["status"], t["reason"], t["owner_id"], t["channel_id"])
	}
}

func cmdTicketsShow(id string) {
	body, err := apiGet("/api/tickets/" + url.PathEscape(id))
	if err != nil {
		fail(err)
	}
	fmt.Println(prettyJSON(body))
}

func cmdLinksAdd(chatID, name string) {
	body, err := apiPost("/api/links", map[string]string{"chat_id": chatID, "external_name": name})
	if err != nil {
		fail(err)
	}
	fmt.Println(prettyJSON(body))
}

func cmdPanelsPost(workflow, channelID string) {
	body, err := apiPost("/api/panels", map[string]string{"workflow": workflow, "channel_id": channelID})
	if err != nil {
		fail(err)
	}
	fmt.Println(prettyJSON(body))
}

func cmdJobsList() {
	body, err := apiGet("/api/jobs")
	if err != nil {
		fail(err)
	}
	var jobs []map[string]any
	json.Unmarshal(body, &jobs)
	for _, j := range jobs {
		fmt.Printf("%-12s %-16s %v\n", j["name"], j["schedule"], j["next"])
	}
}

func cmdJobsRun(name string) {
	body, err := apiPost("/api/jobs/"+url.PathEscape(name)+"/run", nil)
	if err != nil {
		fail(err)
	}
	fmt.Println(string(body))
}

func cmdLogs(args []string) {
	fs := flag.NewFlagSet("logs", flag.ExitOnError)
	level := fs.StringP("level", "l", "", "Minimum level (debug|info|warn|error)")
	since := fs.DurationP("since", "s", 0, "Only entries newer than this (e.g. 15m)")
	limit := fs.IntP("limit", "n", 100, "Max entries")
	event := fs.StringP("event", "e", "", "Filter by activation event id")
	component := fs.StringP("component", "c", "", "Filter by component")
	fs.Parse(args)

	q := url.Values{}
	if *level != "" {
		q.Set("level", *level)
	}
	if *since > 0 {
		q.Set("since", strconv.FormatInt(time.Now().Add(-*since).UnixMilli(), 10))
	}
	if *event != "" {
		q.Set("event", *event)
	}
	if *component != "" {
		q.Set("component", *component)
	}
	q.Set("limit", strconv.Itoa(*limit))

	body, err := apiGet("/api/logs?" + q.Encode())
	if err != nil {
		fail(err)
	}
	var entries []struct {
		Time    time.Time      `json:"time"`
		Level   string         `json:"level"`
		Message string         `json:"message"`
		Attrs   map[string]any `json:"attrs"`
	}
	json.Unmarshal(body, &entries)
	for _, e := range entries {
		fmt.Printf("%s %-5s %s%s\n", e.Time.Format(time.TimeOnly), e.Level, e.Message, formatAttrs(e.Attrs))
	}
}

func formatAttrs(attrs map[string]any) string {
	if len(attrs) == 0 {
		return ""
	}
	var b strings.Builder
	for k, v := range attrs {
		fmt.Fprintf(&b, " %s=%v", k, v)
	}
	return b.String()
}

// --- Local commands ---

func cmdConfigValidate(path string) {
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("store:    %s\n", cfg.Store.Driver)
	fmt.Printf("sectors:  %d\n", len(cfg.Roles.Sectors))
	fmt.Printf("overrides: %d policy rules\n", len(cfg.Policy.Rules))
	if cfg.Scheduler.Digest != "" {
		fmt.Printf("digest:   %s\n", cfg.Scheduler.Digest)
	}
	fmt.Println("config is valid")
}

// --- Helpers ---

func apiGet(path string) ([]byte, error) {
	return apiDo(http.MethodGet, path, nil)
}

func apiPost(path string, payload any) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(data)
	}
	return apiDo(http.MethodPost, path, body)
}

func apiDo(method, path string, body io.Reader) ([]byte, error) {
	base := strings.TrimRight(envOr("LCST_API_URL", "http://localhost:8080"), "/")

	req, err := http.NewRequest(method, base+path, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if key := os.Getenv("LCST_API_KEY"); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return data, nil
}

func prettyJSON(data []byte) string {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return string(data)
	}
	out, _ := json.MarshalIndent(v, "", "  ")
	return string(out)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func printUsage() {
	fmt.Println("lcstctl - lcst management CLI")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  health                         Check daemon health")
	fmt.Println("  tickets list                   List tickets (--status, --owner, --limit)")
	fmt.Println("  tickets show <id>              Show ticket details")
	fmt.Println("  links add <chat-id> <name>     Link a member to a directory profile")
	fmt.Println("  panels post <workflow> <chan>  Post a workflow panel (notes|tickets)")
	fmt.Println("  jobs list                      List scheduled jobs")
	fmt.Println("  jobs run <name>                Run a job now")
	fmt.Println("  logs                           Recent logs (--level, --since, --event, --component, --limit)")
	fmt.Println("  config validate <path>         Validate config file")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  LCST_API_URL   Daemon URL (default: http://localhost:8080)")
	fmt.Println("  LCST_API_KEY   API key for authentication")
}
