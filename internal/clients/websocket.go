package clients

import (
	"context"
	"fmt"

	ws "taxledger/internal/transport/websocket"
)

type WebSocketClient struct {
	hub *ws.Hub
}

func NewWebSocketClient(hub *ws.Hub) *WebSocketClient {
	return &WebSocketClient{
		hub: hub,
	}
}

// NotifyLedgerEvent pushes a ledger append notification to the actor who
// performed it. Deliveries are best-effort, a closed or absent connection
// is not an error.
func (c *WebSocketClient) NotifyLedgerEvent(
	ctx context.Context,
	actorID string,
	assessmentID string,
	eventType string,
	sequence int64,
) error {
	if c.hub == nil {
		return nil
	}

	message := &ws.Message{
		Type:    "ledger_event",
		Channel: fmt.Sprintf("assessment#%s", assessmentID),
		Data: map[string]interface{}{
			"assessment_id": assessmentID,
			"event_type":    eventType,
			"sequence":      sequence,
		},
	}

	c.hub.Broadcast(actorID, message)
	return nil
}

func (c *WebSocketClient) NotifyExportProgress(
	ctx context.Context,
	actorID string,
	exportID string,
	progress float64,
	stage string,
) error {
	if c.hub == nil {
		return nil
	}

	data := map[string]interface{}{
		"id":       exportID,
		"progress": progress,
	}
	if stage != "" {
		data["stage"] = stage
	}

	message := &ws.Message{
		Type:    "export_progress",
		Channel: fmt.Sprintf("export#%s", exportID),
		Data:    data,
	}

	c.hub.Broadcast(actorID, message)
	return nil
}

func (c *WebSocketClient) NotifyExportComplete(
	ctx context.Context,
	actorID string,
	exportID string,
	url string,
	filename string,
) error {
	if c.hub == nil {
		return nil
	}

	message := &ws.Message{
		Type:    "export_complete",
		Channel: fmt.Sprintf("export#%s", exportID),
		Data: map[string]interface{}{
			"id":       exportID,
			"url":      url,
			"filename": filename,
			"actor_id": actorID,
		},
	}

	c.hub.Broadcast(actorID, message)
	return nil
}

// NotifyExportFailed notifies an actor that an export failed with the provided error message.
func (c *WebSocketClient) NotifyExportFailed(ctx context.Context, actorID string, exportID string, errMsg string) error {
	if c.hub == nil {
		return nil
	}

	message := &ws.Message{
		Type:    "export_failed",
		Channel: fmt.Sprintf("export#%s", exportID),
		Data: map[string]interface{}{
			"id":       exportID,
			"message":  errMsg,
			"actor_id": actorID,
		},
	}

	c.hub.Broadcast(actorID, message)
	return nil
}
