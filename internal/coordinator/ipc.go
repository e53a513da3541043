package coordinator

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"consilium/internal/bus"
	"consilium/internal/message"
)

// IPC lets CLIs drive consultations through a running gateway over core
// NATS request/reply.

type ipcRequest struct {
	SubjectID    string                    `json:"subject_id"`
	RequestTypes []string                  `json:"request_types"`
	Parameters   map[string]map[string]any `json:"parameters,omitempty"`
	Context      map[string]any            `json:"context,omitempty"`
	TimeoutMs    int64                     `json:"timeout_ms,omitempty"`
}

type ipcResponse struct {
	OK            bool       `json:"ok"`
	Error         string     `json:"error,omitempty"`
	CorrelationID string     `json:"correlation_id,omitempty"`
	Complete      bool       `json:"complete"`
	Synthesis     *Synthesis `json:"synthesis,omitempty"`
}

// ServeIPC answers consultation requests on the command topic until the
// returned cancel func is called.
func (c *Coordinator) ServeIPC() (func(), error) {
	return c.client.Respond(bus.TopicConsultIPC, func(msg *nats.Msg) {
		// Consultations block for up to the aggregation timeout; answer
		// off the delivery goroutine.
		go c.handleIPC(msg)
	})
}

func (c *Coordinator) handleIPC(msg *nats.Msg) {
	var req ipcRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		c.replyIPC(msg, &ipcResponse{Error: "malformed request: " + err.Error()})
		return
	}

	consult := ConsultRequest{
		SubjectID:  req.SubjectID,
		Context:    req.Context,
		Timeout:    time.Duration(req.TimeoutMs) * time.Millisecond,
		Parameters: make(map[message.SpecialistType]map[string]any, len(req.Parameters)),
	}
	for _, t := range req.RequestTypes {
		consult.Types = append(consult.Types, message.SpecialistType(t))
	}
	for t, params := range req.Parameters {
		consult.Parameters[message.SpecialistType(t)] = params
	}

	result, err := c.Consult(context.Background(), consult)
	if err != nil {
		c.replyIPC(msg, &ipcResponse{Error: err.Error()})
		return
	}

	c.replyIPC(msg, &ipcResponse{
		OK:            true,
		CorrelationID: result.CorrelationID,
		Complete:      result.Complete,
		Synthesis:     result.Synthesis,
	})
}

func (c *Coordinator) replyIPC(msg *nats.Msg, resp *ipcResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		slog.Error("marshal ipc response", "error", err)
		return
	}
	if err := msg.Respond(data); err != nil {
		slog.Warn("ipc respond failed", "error", err)
	}
}
