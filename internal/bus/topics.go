package bus

import "consilium/internal/message"

// Topic layout for consultation traffic.

const (
	// Stream holding all request and response subjects.
	StreamName = "CONSULT"

	// Shared topic every specialist publishes its responses to.
	TopicResponses = "consult.response"

	// Request/reply command channel served by a running gateway.
	TopicConsultIPC = "consult.ipc"
)

func StreamSubjects() []string {
	return []string{"consult.request.*", TopicResponses}
}

func TopicRequest(t message.SpecialistType) string {
	return "consult.request." + string(t)
}

// WorkerQueue names the durable queue group for a specialist type. Workers
// of the same type across processes join the same group.
func WorkerQueue(t message.SpecialistType) string {
	return "workers-" + string(t)
}
