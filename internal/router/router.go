package router

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"tether/internal/clock"
	"tether/internal/failures"
	"tether/internal/faults"
	"tether/internal/filesystem"
	"tether/internal/hub"
	"tether/internal/logging"
	"tether/internal/registry"
	"tether/internal/terminal"
)

// kind classifies how a command is answered.
type kind int

const (
	kindNotification kind = iota
	kindRequest
	kindSessionTargeted
	kindStream
	kindUpload
)

func (k kind) String() string {
	switch k {
	case kindNotification:
		return "notification"
	case kindRequest:
		return "request"
	case kindSessionTargeted:
		return "session"
	case kindStream:
		return "stream"
	case kindUpload:
		return "upload"
	default:
		return "unknown"
	}
}

// deadline selects the timeout applied to a command.
type deadline int

const (
	deadlineNone deadline = iota
	deadlineInteractive
	deadlineTransfer
)

// Request handlers return the reply payload. Stream and upload handlers
// answer through the call themselves and return only the outcome.
type (
	requestFunc func(ctx context.Context, call *hub.Call) (any, error)
	streamFunc  func(ctx context.Context, call *hub.Call) error
)

type command struct {
	kind     kind
	deadline deadline
	request  requestFunc
	stream   streamFunc
}

// Heartbeater sends a device heartbeat on demand.
type Heartbeater interface {
	Send(ctx context.Context) error
}

// Maintainer removes or updates the agent.
type Maintainer interface {
	Uninstall(ctx context.Context) error
	Update(ctx context.Context) error
}

// Limits bounds streaming work.
type Limits struct {
	MaxChunkBytes      int
	InteractiveTimeout time.Duration
	TransferTimeout    time.Duration
	PreviewQueueDepth  int
	DownloadQueueDepth int
	Compress           bool
}

// Defaults applied to zero Limits fields.
const (
	DefaultMaxChunkBytes      = 4 << 20
	DefaultInteractiveTimeout = 10 * time.Second
	DefaultTransferTimeout    = 30 * time.Minute
	DefaultPreviewQueueDepth  = 4
	DefaultDownloadQueueDepth = 4

	directoryBatchSize = 100
)

// Options configures a Router.
type Options struct {
	Registry    *registry.Registry
	Terminals   *terminal.Store
	Files       *filesystem.Manager
	Heartbeat   Heartbeater
	Maintenance Maintainer
	Recorder    failures.Recorder
	Limits      Limits
	Clock       clock.Clock
	Logger      *slog.Logger
}

// Router implements hub.Dispatcher.
type Router struct {
	opts     Options
	limits   Limits
	clock    clock.Clock
	logger   *slog.Logger
	commands map[string]command
}

// New constructs a Router.
func New(opts Options) *Router {
	limits := opts.Limits
	if limits.MaxChunkBytes <= 0 {
		limits.MaxChunkBytes = DefaultMaxChunkBytes
	}
	if limits.InteractiveTimeout <= 0 {
		limits.InteractiveTimeout = DefaultInteractiveTimeout
	}
	if limits.TransferTimeout <= 0 {
		limits.TransferTimeout = DefaultTransferTimeout
	}
	if limits.PreviewQueueDepth <= 0 {
		limits.PreviewQueueDepth = DefaultPreviewQueueDepth
	}
	if limits.DownloadQueueDepth <= 0 {
		limits.DownloadQueueDepth = DefaultDownloadQueueDepth
	}
	if opts.Files == nil {
		opts.Files = filesystem.New(opts.Logger)
	}
	r := &Router{
		opts:   opts,
		limits: limits,
		clock:  clock.OrReal(opts.Clock),
		logger: logging.NewComponentLogger(opts.Logger, "router"),
	}
	r.commands = r.table()
	return r
}

func (r *Router) table() map[string]command {
	notify := func(fn requestFunc) command { return command{kind: kindNotification, request: fn} }
	request := func(fn requestFunc) command {
		return command{kind: kindRequest, deadline: deadlineInteractive, request: fn}
	}
	targeted := func(fn requestFunc) command {
		return command{kind: kindSessionTargeted, deadline: deadlineInteractive, request: fn}
	}
	return map[string]command{
		MethodRequestHeartbeat:       notify(r.requestHeartbeat),
		MethodUninstallAgent:         notify(r.uninstallAgent),
		MethodUpdateAgent:            notify(r.updateAgent),
		MethodCloseTerminalSession:   notify(r.closeTerminalSession),
		MethodGetRootDrives:          request(r.getRootDrives),
		MethodCreateDirectory:        request(r.createDirectory),
		MethodDeleteEntry:            request(r.deleteEntry),
		MethodGetFileInfo:            request(r.getFileInfo),
		MethodGetActiveUISessions:    request(r.getActiveUISessions),
		MethodCreateTerminalSession:  request(r.createTerminalSession),
		MethodReceiveTerminalInput:   request(r.receiveTerminalInput),
		MethodCreateStreamingSession: targeted(r.createStreamingSession),
		MethodSendChatMessage:        targeted(r.sendChatMessage),
		MethodCloseChatSession:       targeted(r.closeChatSession),
		MethodInvokeCtrlAltDel:       targeted(r.invokeCtrlAltDel),
		MethodDownloadFile:           {kind: kindStream, deadline: deadlineTransfer, stream: r.downloadFile},
		MethodGetDirectoryContents:   {kind: kindStream, deadline: deadlineInteractive, stream: r.getDirectoryContents},
		MethodGetSubdirectories:      {kind: kindStream, deadline: deadlineInteractive, stream: r.getSubdirectories},
		MethodGetDesktopPreview:      {kind: kindStream, deadline: deadlineInteractive, stream: r.getDesktopPreview},
		MethodUploadFile:             {kind: kindUpload, deadline: deadlineTransfer, stream: r.uploadFile},
	}
}

// Dispatch serves one hub call. It never panics and never returns an error;
// the outcome travels back to the hub on the call itself.
func (r *Router) Dispatch(ctx context.Context, call *hub.Call) {
	ctx, correlationID := logging.EnsureCorrelationID(ctx)
	logger := r.logger.With(
		logging.String(logging.FieldCommand, call.Method),
		logging.String(logging.FieldCorrelationID, correlationID),
	)

	cmd, ok := r.commands[call.Method]
	if !ok {
		logging.WarnWithContext(logger, "ignoring unknown hub command", "hub_command_unknown",
			logging.String(logging.FieldImpact, "command ignored"),
		)
		if call.Expects() {
			_ = call.Reply(ctx, nil, faults.Wrap(faults.ErrValidation, "router", call.Method, "unknown command", nil))
		}
		return
	}

	started := r.clock.Now()
	err := r.run(ctx, cmd, call)
	if err != nil {
		r.fail(ctx, logger, call, err)
		return
	}
	logger.Debug("hub command completed",
		logging.String("kind", cmd.kind.String()),
		logging.Duration("elapsed", r.clock.Now().Sub(started)),
	)
}

// run executes cmd under its deadline and recover boundary.
func (r *Router) run(ctx context.Context, cmd command, call *hub.Call) (err error) {
	replied := false
	defer func() {
		if p := recover(); p != nil {
			err = faults.Wrap(faults.ErrUnexpected, "router", call.Method, fmt.Sprintf("panic: %v", p), nil)
			r.logger.Debug("hub command panic stack", logging.String("stack", string(debug.Stack())))
			if !replied {
				r.answer(ctx, cmd, call, nil, err)
			}
		}
	}()

	switch cmd.deadline {
	case deadlineInteractive:
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.limits.InteractiveTimeout)
		defer cancel()
	case deadlineTransfer:
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.limits.TransferTimeout)
		defer cancel()
	}

	switch cmd.kind {
	case kindStream, kindUpload:
		err = cmd.stream(ctx, call)
		replied = true
		return err
	default:
		result, callErr := cmd.request(ctx, call)
		callErr = faults.FromContext("router", call.Method, callErr)
		replied = true
		r.answer(ctx, cmd, call, result, callErr)
		return callErr
	}
}

// answer sends the outcome of a request or notification. Streams that fail
// before their own handler could answer get an end frame instead.
func (r *Router) answer(ctx context.Context, cmd command, call *hub.Call, result any, err error) {
	if !call.Expects() {
		return
	}
	replyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DefaultInteractiveTimeout)
	defer cancel()
	var sendErr error
	switch cmd.kind {
	case kindStream:
		sendErr = call.End(replyCtx, err)
	default:
		sendErr = call.Reply(replyCtx, result, err)
	}
	if sendErr != nil {
		r.logger.Debug("hub reply not delivered",
			logging.String(logging.FieldCommand, call.Method),
			logging.Error(sendErr),
		)
	}
}

// fail logs err locally with full detail and persists a failure report.
func (r *Router) fail(ctx context.Context, logger *slog.Logger, call *hub.Call, err error) {
	code := faults.Code(err)
	attrs := []logging.Attr{
		logging.String("code", code),
		logging.Error(err),
		logging.String(logging.FieldImpact, "hub received: "+faults.PublicReason(err)),
	}
	switch code {
	case "canceled", "target_not_running", "not_found", "validation":
		logging.WarnWithContext(logger, "hub command failed", "hub_command_failed", attrs...)
	default:
		attrs = append(attrs, logging.String(logging.FieldErrorHint, "see `tether failures` for recent reports"))
		logging.ErrorWithContext(logger, "hub command failed", "hub_command_failed", attrs...)
	}

	if r.opts.Recorder == nil {
		return
	}
	correlationID, _ := logging.CorrelationID(ctx)
	_, recErr := r.opts.Recorder.Record(context.WithoutCancel(ctx), failures.Report{
		OccurredAt:    r.clock.Now(),
		Component:     "router",
		Operation:     call.Method,
		Code:          code,
		Reason:        err.Error(),
		CorrelationID: correlationID,
	})
	if recErr != nil {
		logging.WarnWithContext(logger, "failed to persist failure report", "failure_report_write_failed",
			logging.Error(recErr),
			logging.String(logging.FieldImpact, "failure is logged but missing from `tether failures`"),
		)
	}
}
