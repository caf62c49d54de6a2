package journal

import "github.com/thinksuit/thinksuit/pkg/models"

// DeriveStatus computes the session status from its entry sequence. It is a
// pure function: the same entries always yield the same status.
func DeriveStatus(entries []models.Entry) models.SessionStatus {
	status := models.StatusInitialized
	for _, e := range entries {
		switch e.Event {
		case models.EventSessionInput, models.EventExecutionStart:
			status = models.StatusBusy
		case models.EventSessionResponse, models.EventExecutionComplete:
			status = models.StatusReady
		case models.EventSessionError:
			status = models.StatusError
		}
	}
	return status
}

// BuildThread projects the journal onto a conversation thread. Only
// session.input and session.response events contribute, in journaled order.
func BuildThread(entries []models.Entry) models.Thread {
	var thread models.Thread
	for _, e := range entries {
		switch e.Event {
		case models.EventSessionInput:
			if input, ok := stringField(e, "input"); ok {
				thread = append(thread, models.Message{Role: models.RoleUser, Content: input})
			}
		case models.EventSessionResponse:
			if response, ok := stringField(e, "response"); ok {
				thread = append(thread, models.Message{Role: models.RoleAssistant, Content: response})
			}
		}
	}
	return thread
}

func stringField(e models.Entry, key string) (string, bool) {
	if e.Data == nil {
		return "", false
	}
	s, ok := e.Data[key].(string)
	return s, ok
}
