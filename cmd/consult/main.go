// Command consult submits a consultation to a running consilium gateway
// over NATS request/reply and prints the synthesized result.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

type ipcRequest struct {
	SubjectID    string                    `json:"subject_id"`
	RequestTypes []string                  `json:"request_types"`
	Parameters   map[string]map[string]any `json:"parameters,omitempty"`
	Context      map[string]any            `json:"context,omitempty"`
	TimeoutMs    int64                     `json:"timeout_ms,omitempty"`
}

type ipcResponse struct {
	OK            bool            `json:"ok"`
	Error         string          `json:"error,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Complete      bool            `json:"complete"`
	Synthesis     json.RawMessage `json:"synthesis,omitempty"`
}

const ipcTopic = "consult.ipc"

func sendConsult(natsURL string, req ipcRequest, timeout time.Duration) (*ipcResponse, error) {
	conn, err := nats.Connect(natsURL)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	defer conn.Close()

	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	msg, err := conn.Request(ipcTopic, data, timeout)
	if err != nil {
		return nil, fmt.Errorf("ipc request: %w", err)
	}

	var resp ipcResponse
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return &resp, nil
}

func parseArgs(args []string) map[string]string {
	result := make(map[string]string)
	for i := 0; i < len(args); i++ {
		if strings.HasPrefix(args[i], "--") && i+1 < len(args) {
			result[args[i][2:]] = args[i+1]
			i++
		}
	}
	return result
}

// buildRequest turns CLI flags into an IPC request. The --params value is a
// JSON object keyed by specialist type.
func buildRequest(flags map[string]string) (ipcRequest, error) {
	req := ipcRequest{
		SubjectID:    flags["subject"],
		RequestTypes: strings.Split(flags["types"], ","),
	}

	if raw := flags["params"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &req.Parameters); err != nil {
			return req, fmt.Errorf("parse --params: %w", err)
		}
	}
	if raw := flags["context"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &req.Context); err != nil {
			return req, fmt.Errorf("parse --context: %w", err)
		}
	}
	if raw := flags["timeout"]; raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return req, fmt.Errorf("parse --timeout: %w", err)
		}
		req.TimeoutMs = d.Milliseconds()
	}
	return req, nil
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, `  consult --subject <id> --types <t1,t2> [--params <json>] [--context <json>] [--timeout <dur>]`)
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Environment:")
	fmt.Fprintln(os.Stderr, "  NATS_URL    Gateway broker URL (default nats://localhost:4222)")
	os.Exit(1)
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

func main() {
	natsURL := os.Getenv("NATS_URL")
	if natsURL == "" {
		natsURL = "nats://localhost:4222"
	}

	flags := parseArgs(os.Args[1:])
	if flags["subject"] == "" || flags["types"] == "" {
		usage()
	}

	req, err := buildRequest(flags)
	if err != nil {
		fatal("%v", err)
	}

	// Leave headroom over the gateway's own aggregation timeout.
	waitFor := 30 * time.Second
	if req.TimeoutMs > 0 {
		waitFor = time.Duration(req.TimeoutMs)*time.Millisecond + 5*time.Second
	}

	resp, err := sendConsult(natsURL, req, waitFor)
	if err != nil {
		fatal("%v", err)
	}
	if !resp.OK {
		fatal("%s", resp.Error)
	}

	fmt.Printf("Consultation %s", resp.CorrelationID)
	if resp.Complete {
		fmt.Println(" (complete)")
	} else {
		fmt.Println(" (partial)")
	}

	var pretty map[string]any
	if err := json.Unmarshal(resp.Synthesis, &pretty); err != nil {
		fatal("unmarshal synthesis: %v", err)
	}
	out, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		fatal("format synthesis: %v", err)
	}
	fmt.Println(string(out))
}
