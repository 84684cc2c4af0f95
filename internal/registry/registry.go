package registry

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"tether/internal/ipc"
	"tether/internal/logging"
	"tether/internal/process"
)

// Endpoint is the agent side of a companion channel.
type Endpoint interface {
	Connected() bool
	Invoke(ctx context.Context, method string, params, result any) error
	Notify(ctx context.Context, method string, params any) error
	Close() error
}

// Record pairs a companion process with its channel.
type Record struct {
	PID       int
	Endpoint  Endpoint
	Process   process.Handle
	Connected time.Time

	disposer *disposer
}

// Dispose closes the channel and releases the process handle. Only the first
// call on any copy of the record has an effect.
func (r Record) Dispose() {
	if r.disposer != nil {
		r.disposer.dispose(r)
	}
}

type disposer struct {
	once    sync.Once
	stopped chan struct{}
}

func (d *disposer) dispose(r Record) {
	d.once.Do(func() {
		close(d.stopped)
		if r.Endpoint != nil {
			_ = r.Endpoint.Close()
		}
		if r.Process != nil {
			_ = r.Process.Close()
		}
	})
}

// Registry maps companion PIDs to live records. It is safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	servers map[int]Record
	logger  *slog.Logger
	now     func() time.Time
}

// New constructs an empty registry.
func New(logger *slog.Logger) *Registry {
	return &Registry{
		servers: make(map[int]Record),
		logger:  logging.NewComponentLogger(logger, "registry"),
		now:     time.Now,
	}
}

// AddServer registers the companion behind proc. A process that has already
// exited is disposed immediately and not stored. Any previous record for the
// same PID is disposed before it is replaced. The record is removed and
// disposed automatically when the process exits.
func (r *Registry) AddServer(proc process.Handle, ep Endpoint) bool {
	record := Record{
		PID:       proc.PID(),
		Endpoint:  ep,
		Process:   proc,
		Connected: r.now(),
		disposer:  &disposer{stopped: make(chan struct{})},
	}

	if proc.Exited() {
		r.logger.Info("companion exited before registration",
			logging.Int(logging.FieldPID, record.PID),
			logging.String(logging.FieldEventType, "companion_exited_early"),
		)
		record.Dispose()
		return false
	}

	r.mu.Lock()
	previous, replaced := r.servers[record.PID]
	r.servers[record.PID] = record
	r.mu.Unlock()

	if replaced {
		logging.WarnWithContext(r.logger, "replacing companion record", "companion_replaced",
			logging.Int(logging.FieldPID, record.PID),
			logging.String(logging.FieldImpact, "previous channel for this pid was closed"),
			logging.String(logging.FieldErrorHint, "companion reconnected without closing its old channel"),
		)
		previous.Dispose()
	}

	go r.watchExit(record)

	r.logger.Info("companion registered",
		logging.Int(logging.FieldPID, record.PID),
		logging.String(logging.FieldEventType, "companion_registered"),
	)
	return true
}

// watchExit removes record once its process exits. A newer record for the
// same PID is left alone.
func (r *Registry) watchExit(record Record) {
	select {
	case <-record.Process.Done():
	case <-record.disposer.stopped:
		return
	}

	r.mu.Lock()
	current, ok := r.servers[record.PID]
	owned := ok && current.disposer == record.disposer
	if owned {
		delete(r.servers, record.PID)
	}
	r.mu.Unlock()

	if owned {
		r.logger.Info("companion process exited",
			logging.Int(logging.FieldPID, record.PID),
			logging.String(logging.FieldEventType, "companion_exited"),
		)
	}
	record.Dispose()
}

// TryGetServer returns the record for pid, if any.
func (r *Registry) TryGetServer(pid int) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.servers[pid]
	return record, ok
}

// ContainsServer reports whether pid has a live record.
func (r *Registry) ContainsServer(pid int) bool {
	_, ok := r.TryGetServer(pid)
	return ok
}

// TryRemove removes and returns the record for pid without disposing it.
func (r *Registry) TryRemove(pid int) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.servers[pid]
	if ok {
		delete(r.servers, pid)
	}
	return record, ok
}

// Remove deletes the record for pid only if it is still the given record,
// then disposes it. It reports whether the record was removed.
func (r *Registry) Remove(record Record) bool {
	r.mu.Lock()
	current, ok := r.servers[record.PID]
	owned := ok && current.disposer == record.disposer
	if owned {
		delete(r.servers, record.PID)
	}
	r.mu.Unlock()
	record.Dispose()
	return owned
}

// Servers returns a snapshot of all records ordered by PID.
func (r *Registry) Servers() []Record {
	r.mu.Lock()
	out := make([]Record, 0, len(r.servers))
	for _, record := range r.servers {
		out = append(out, record)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].PID < out[j].PID })
	return out
}

// Len returns the number of live records.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.servers)
}

const shutdownNoticeTimeout = 2 * time.Second

// KillAllServers asks every companion to shut down, disposes every record,
// and clears the registry. Notification failures are logged and ignored.
func (r *Registry) KillAllServers(ctx context.Context, reason string) {
	r.mu.Lock()
	records := make([]Record, 0, len(r.servers))
	for pid, record := range r.servers {
		records = append(records, record)
		delete(r.servers, pid)
	}
	r.mu.Unlock()

	for _, record := range records {
		if record.Endpoint != nil && record.Endpoint.Connected() {
			sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownNoticeTimeout)
			err := record.Endpoint.Notify(sendCtx, ipc.MsgShutdown, ipc.ShutdownNotice{Reason: reason})
			cancel()
			if err != nil {
				logging.WarnWithContext(r.logger, "shutdown notice failed", "companion_shutdown_notice_failed",
					logging.Int(logging.FieldPID, record.PID),
					logging.Error(err),
					logging.String(logging.FieldImpact, "companion may keep running until it notices the closed channel"),
				)
			}
		}
		record.Dispose()
	}
	if len(records) > 0 {
		r.logger.Info("all companions released",
			logging.Int("count", len(records)),
			logging.String("reason", reason),
			logging.String(logging.FieldEventType, "companions_released"),
		)
	}
}
