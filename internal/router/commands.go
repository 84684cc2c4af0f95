package router

import (
	"context"
	"time"

	"tether/internal/faults"
	"tether/internal/hub"
	"tether/internal/ipc"
	"tether/internal/logging"
	"tether/internal/registry"
)

func (r *Router) requestHeartbeat(ctx context.Context, _ *hub.Call) (any, error) {
	if r.opts.Heartbeat == nil {
		return nil, nil
	}
	return nil, r.opts.Heartbeat.Send(ctx)
}

func (r *Router) uninstallAgent(ctx context.Context, call *hub.Call) (any, error) {
	var req UninstallRequest
	if err := call.Decode(&req); err != nil {
		return nil, err
	}
	r.logger.Info("uninstall requested by hub",
		logging.String("reason", req.Reason),
		logging.String(logging.FieldEventType, "uninstall_requested"),
	)
	if r.opts.Maintenance == nil {
		return nil, faults.Wrap(faults.ErrValidation, "router", call.Method, "maintenance not available", nil)
	}
	// The uninstall outlives the hub connection it may tear down.
	return nil, r.opts.Maintenance.Uninstall(context.WithoutCancel(ctx))
}

func (r *Router) updateAgent(ctx context.Context, call *hub.Call) (any, error) {
	r.logger.Info("update requested by hub",
		logging.String(logging.FieldEventType, "update_requested"),
	)
	if r.opts.Maintenance == nil {
		return nil, faults.Wrap(faults.ErrValidation, "router", call.Method, "maintenance not available", nil)
	}
	return nil, r.opts.Maintenance.Update(context.WithoutCancel(ctx))
}

func (r *Router) closeTerminalSession(_ context.Context, call *hub.Call) (any, error) {
	var req CloseTerminalRequest
	if err := call.Decode(&req); err != nil {
		return nil, err
	}
	if r.opts.Terminals == nil {
		return nil, nil
	}
	if session, ok := r.opts.Terminals.TryRemove(req.TerminalID); ok {
		session.Dispose()
	}
	return nil, nil
}

func (r *Router) getRootDrives(context.Context, *hub.Call) (any, error) {
	return r.opts.Files.RootDrives(), nil
}

func (r *Router) createDirectory(_ context.Context, call *hub.Call) (any, error) {
	var req PathRequest
	if err := call.Decode(&req); err != nil {
		return nil, err
	}
	path, err := r.opts.Files.CreateDirectory(req.Path)
	if err != nil {
		return nil, err
	}
	return PathResult{Path: path}, nil
}

func (r *Router) deleteEntry(_ context.Context, call *hub.Call) (any, error) {
	var req PathRequest
	if err := call.Decode(&req); err != nil {
		return nil, err
	}
	path, err := r.opts.Files.DeleteEntry(req.Path)
	if err != nil {
		return nil, err
	}
	return PathResult{Path: path}, nil
}

func (r *Router) getFileInfo(_ context.Context, call *hub.Call) (any, error) {
	var req PathRequest
	if err := call.Decode(&req); err != nil {
		return nil, err
	}
	return r.opts.Files.FileInfo(req.Path)
}

func (r *Router) getActiveUISessions(context.Context, *hub.Call) (any, error) {
	return CompanionSessions(r.opts.Registry), nil
}

// CompanionSessions describes every registered companion, ordered by PID.
func CompanionSessions(reg *registry.Registry) []hub.CompanionSession {
	sessions := []hub.CompanionSession{}
	if reg == nil {
		return sessions
	}
	for _, record := range reg.Servers() {
		sessions = append(sessions, hub.CompanionSession{
			PID:         record.PID,
			ConnectedAt: record.Connected.UTC().Format(time.RFC3339),
		})
	}
	return sessions
}

func (r *Router) createTerminalSession(ctx context.Context, call *hub.Call) (any, error) {
	var req TerminalSessionRequest
	if err := call.Decode(&req); err != nil {
		return nil, err
	}
	if r.opts.Terminals == nil {
		return nil, faults.Wrap(faults.ErrValidation, "router", call.Method, "terminals not available", nil)
	}
	kind, err := r.opts.Terminals.CreateSession(ctx, req.TerminalID, req.ViewerID)
	if err != nil {
		return nil, err
	}
	return TerminalSessionResult{Kind: string(kind)}, nil
}

func (r *Router) receiveTerminalInput(ctx context.Context, call *hub.Call) (any, error) {
	var req TerminalInput
	if err := call.Decode(&req); err != nil {
		return nil, err
	}
	if r.opts.Terminals == nil {
		return nil, faults.Wrap(faults.ErrNotFound, "router", call.Method, "terminal session "+req.TerminalID, nil)
	}
	return nil, r.opts.Terminals.WriteInput(ctx, req.TerminalID, req.Input, 0)
}

// target resolves the companion registered for pid.
func (r *Router) target(method string, pid int) (registry.Endpoint, error) {
	if r.opts.Registry != nil {
		if record, ok := r.opts.Registry.TryGetServer(pid); ok && record.Endpoint != nil {
			return record.Endpoint, nil
		}
	}
	return nil, faults.Wrap(faults.ErrTargetNotRunning, "router", method, "no companion for pid", nil)
}

func (r *Router) createStreamingSession(ctx context.Context, call *hub.Call) (any, error) {
	var req StreamingSessionRequest
	if err := call.Decode(&req); err != nil {
		return nil, err
	}
	endpoint, err := r.target(call.Method, req.TargetProcessID)
	if err != nil {
		return nil, err
	}
	r.logger.Info("creating streaming session",
		logging.String(logging.FieldSessionID, req.SessionID),
		logging.Int(logging.FieldPID, req.TargetProcessID),
		logging.String("viewer_id", req.ViewerID),
		logging.String(logging.FieldEventType, "streaming_session_requested"),
	)
	var ack ipc.Ack
	err = endpoint.Invoke(ctx, ipc.MsgCreateStreamingSession, ipc.StreamingSessionRequest{
		SessionID:         req.SessionID,
		ViewerConnectURI:  req.WebsocketURI,
		ViewerName:        req.ViewerName,
		NotifyUser:        req.NotifyUser,
		TargetProcessID:   req.TargetProcessID,
		RequireUserAccept: req.RequireUserAccept,
	}, &ack)
	if err != nil {
		return nil, err
	}
	return AckResult{OK: ack.OK}, nil
}

func (r *Router) sendChatMessage(ctx context.Context, call *hub.Call) (any, error) {
	var req ChatMessageRequest
	if err := call.Decode(&req); err != nil {
		return nil, err
	}
	endpoint, err := r.target(call.Method, req.TargetProcessID)
	if err != nil {
		return nil, err
	}
	err = endpoint.Notify(ctx, ipc.MsgSendChatMessage, ipc.ChatMessage{
		SessionID:  req.SessionID,
		SenderName: req.SenderName,
		Message:    req.Message,
		ViewerID:   req.ViewerID,
	})
	if err != nil {
		return nil, err
	}
	return AckResult{OK: true}, nil
}

func (r *Router) closeChatSession(ctx context.Context, call *hub.Call) (any, error) {
	var req CloseChatRequest
	if err := call.Decode(&req); err != nil {
		return nil, err
	}
	endpoint, err := r.target(call.Method, req.TargetProcessID)
	if err != nil {
		return nil, err
	}
	if err := endpoint.Notify(ctx, ipc.MsgCloseChatSession, ipc.ChatClose{SessionID: req.SessionID}); err != nil {
		return nil, err
	}
	return AckResult{OK: true}, nil
}

func (r *Router) invokeCtrlAltDel(ctx context.Context, call *hub.Call) (any, error) {
	var req TargetRequest
	if err := call.Decode(&req); err != nil {
		return nil, err
	}
	endpoint, err := r.target(call.Method, req.TargetProcessID)
	if err != nil {
		return nil, err
	}
	var ack ipc.Ack
	if err := endpoint.Invoke(ctx, ipc.MsgInvokeCtrlAltDel, ipc.Ack{}, &ack); err != nil {
		return nil, err
	}
	return AckResult{OK: ack.OK}, nil
}
