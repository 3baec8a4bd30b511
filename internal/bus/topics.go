package bus

import "fmt"

// Topic patterns for NATS pub/sub communication.

func TopicMailbox(agentID string) string {
	return fmt.Sprintf("mail.%s", agentID)
}

func TopicExecRequest(agentID string) string {
	return fmt.Sprintf("exec.%s.request", agentID)
}

func TopicEventsWorkflow(workflowID string) string {
	return fmt.Sprintf("events.workflow.%s", workflowID)
}

func TopicEventsSession(sessionID string) string {
	return fmt.Sprintf("events.session.%s", sessionID)
}

const (
	TopicMailBroadcast      = "mail.broadcast"
	TopicWorkflowSubmit     = "workflow.submit"
	TopicCollabRequest      = "collab.request"
	TopicEventsCoordination = "events.coordination"
	TopicEventsAll          = "events.>"
	TopicEventsWorkflowAll  = "events.workflow.*"
)
