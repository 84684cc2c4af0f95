package router

import (
	"context"

	"tether/internal/faults"
	"tether/internal/hub"
	"tether/internal/ipc"
	"tether/internal/logging"
)

// ChatForwarder delivers a desktop user's chat reply to the hub.
type ChatForwarder interface {
	SendChatResponse(ctx context.Context, response hub.ChatResponse) error
}

// CompanionHandler serves envelopes companions send to the agent. Chat
// responses are forwarded to the hub; other types are logged and dropped.
func (r *Router) CompanionHandler(forwarder ChatForwarder) ipc.Handler {
	return func(ctx context.Context, env ipc.Envelope) (any, error) {
		pid, _ := ipc.PeerPID(ctx)
		switch env.Type {
		case ipc.MsgChatResponse:
			var msg ipc.ChatResponse
			if err := env.Decode(&msg); err != nil {
				return nil, faults.Wrap(faults.ErrValidation, "router", env.Type, "decode chat response", err)
			}
			if forwarder == nil {
				return nil, faults.Wrap(faults.ErrUnexpected, "router", env.Type, "hub not configured", nil)
			}
			err := forwarder.SendChatResponse(ctx, hub.ChatResponse{
				SessionID:  msg.SessionID,
				SenderName: msg.SenderName,
				Message:    msg.Message,
				ViewerID:   msg.ViewerID,
				PID:        pid,
			})
			if err != nil {
				logging.WarnWithContext(r.logger, "chat response not forwarded", "chat_forward_failed",
					logging.Int(logging.FieldPID, pid),
					logging.String(logging.FieldSessionID, msg.SessionID),
					logging.Error(err),
					logging.String(logging.FieldImpact, "operator does not see the reply"),
				)
				return nil, err
			}
			return ipc.Ack{OK: true}, nil
		default:
			logging.WarnWithContext(r.logger, "ignoring unknown companion message", "companion_message_unknown",
				logging.Int(logging.FieldPID, pid),
				logging.String("type", env.Type),
				logging.String(logging.FieldImpact, "message dropped"),
			)
			return nil, nil
		}
	}
}
