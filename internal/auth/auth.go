package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/unicode/norm"

	"tether/internal/clock"
	"tether/internal/failures"
	"tether/internal/faults"
	"tether/internal/logging"
	"tether/internal/peercred"
	"tether/internal/signing"
)

// Credentials identifies an authenticated companion.
type Credentials struct {
	PID            int
	ExecutablePath string
}

// Failure codes recorded for rejected connections.
const (
	CodePeerCredentials = "peer_credentials"
	CodeRateLimited     = "rate_limited"
	CodePath            = "path"
	CodeSignature       = "signature"
	CodeUnexpected      = "unexpected"
)

// Failure describes why a connection was rejected. Reason is for local logs
// only and is never sent to the peer.
type Failure struct {
	Code   string
	Reason string
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Code, f.Reason)
}

func (f *Failure) Unwrap() error { return faults.ErrAuthentication }

// Options configures an Authenticator.
type Options struct {
	// ExpectedPath is the companion install location.
	ExpectedPath string
	// Development also accepts the companion file name inside DevelopmentDir.
	Development    bool
	DevelopmentDir string
	// Verifier checks the caller's signer. Nil disables the check.
	Verifier signing.Verifier
	Resolver peercred.Resolver
	Recorder failures.Recorder
	Clock    clock.Clock
	// MaxFailures per Window per executable path.
	MaxFailures int
	Window      time.Duration
	// GOOS selects path comparison rules; defaults to runtime.GOOS.
	GOOS   string
	Logger *slog.Logger
}

// Authenticator validates companion connections.
type Authenticator struct {
	opts     Options
	window   *FailureWindow
	clock    clock.Clock
	logger   *slog.Logger
	warnOnce sync.Once
}

// New constructs an Authenticator.
func New(opts Options) *Authenticator {
	if opts.Resolver == nil {
		opts.Resolver = peercred.System{}
	}
	if opts.MaxFailures <= 0 {
		opts.MaxFailures = 5
	}
	if opts.Window <= 0 {
		opts.Window = time.Minute
	}
	if opts.GOOS == "" {
		opts.GOOS = runtime.GOOS
	}
	return &Authenticator{
		opts:   opts,
		window: NewFailureWindow(opts.MaxFailures, opts.Window),
		clock:  clock.OrReal(opts.Clock),
		logger: logging.NewComponentLogger(opts.Logger, "auth"),
	}
}

// Authenticate resolves the peer behind conn and validates it.
func (a *Authenticator) Authenticate(ctx context.Context, conn net.Conn) (creds Credentials, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = a.reject(ctx, creds, CodeUnexpected, fmt.Sprintf("panic during authentication: %v", r), true)
		}
	}()

	peer, err := a.opts.Resolver.Resolve(conn)
	if err != nil {
		logging.CriticalWithContext(ctx, a.logger, "unable to resolve companion peer credentials", "auth_peer_unresolved",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "peer credential lookup is required; check platform support"),
		)
		return Credentials{}, &Failure{Code: CodePeerCredentials, Reason: err.Error()}
	}
	return a.Validate(ctx, peer)
}

// Validate applies the rate limit, path, and signer checks to resolved peer
// credentials.
func (a *Authenticator) Validate(ctx context.Context, peer peercred.Credentials) (Credentials, error) {
	creds := Credentials{PID: peer.PID, ExecutablePath: peer.ExecutablePath}
	now := a.clock.Now()

	if a.window.Limited(creds.ExecutablePath, now) {
		logging.CriticalWithContext(ctx, a.logger, "companion connection rate limited", "auth_rate_limited",
			logging.Int(logging.FieldPID, creds.PID),
			logging.String("executable_path", creds.ExecutablePath),
			logging.Int("max_failures", a.opts.MaxFailures),
			logging.Duration("window", a.opts.Window),
			logging.String(logging.FieldErrorHint, "repeated failures from this binary; inspect `tether failures`"),
		)
		return Credentials{}, &Failure{Code: CodeRateLimited, Reason: "too many recent failures for " + creds.ExecutablePath}
	}

	if !a.pathAllowed(creds.ExecutablePath) {
		reason := fmt.Sprintf("executable %q is not the trusted companion %q", creds.ExecutablePath, a.opts.ExpectedPath)
		return Credentials{}, a.reject(ctx, creds, CodePath, reason, true)
	}

	if a.opts.Verifier == nil {
		a.warnOnce.Do(func() {
			logging.WarnWithContext(a.logger, "companion signer verification disabled", "auth_signer_check_disabled",
				logging.String(logging.FieldImpact, "any binary at the trusted path is accepted"),
				logging.String(logging.FieldErrorHint, "set agent.verify_signers = true and sign binaries with `tether sign`"),
			)
		})
	} else if err := a.opts.Verifier.VerifySigner(creds.ExecutablePath); err != nil {
		return Credentials{}, a.reject(ctx, creds, CodeSignature, err.Error(), true)
	}

	a.logger.Info("companion authenticated",
		logging.Int(logging.FieldPID, creds.PID),
		logging.String("executable_path", creds.ExecutablePath),
		logging.String(logging.FieldEventType, "auth_accepted"),
	)
	return creds, nil
}

// RecordFailure registers a failure detected after authentication, such as
// a bad identity attestation.
func (a *Authenticator) RecordFailure(ctx context.Context, creds Credentials, code, reason string) {
	_ = a.reject(ctx, creds, code, reason, false)
}

// Failures reports the failures counted against path in the current window.
func (a *Authenticator) Failures(path string) int {
	return a.window.Count(path, a.clock.Now())
}

func (a *Authenticator) reject(ctx context.Context, creds Credentials, code, reason string, logIt bool) error {
	a.window.Add(creds.ExecutablePath, a.clock.Now())
	if logIt {
		logging.CriticalWithContext(ctx, a.logger, "companion connection rejected", "auth_rejected",
			logging.Int(logging.FieldPID, creds.PID),
			logging.String("executable_path", creds.ExecutablePath),
			logging.String("code", code),
			logging.String("reason", reason),
			logging.String(logging.FieldErrorHint, "verify the companion install path and signature"),
		)
	}
	if a.opts.Recorder != nil {
		correlationID, _ := logging.CorrelationID(ctx)
		_, err := a.opts.Recorder.Record(context.WithoutCancel(ctx), failures.Report{
			OccurredAt:     a.clock.Now(),
			Component:      "auth",
			Operation:      code,
			Code:           faults.Code(faults.ErrAuthentication),
			Reason:         reason,
			PID:            creds.PID,
			ExecutablePath: creds.ExecutablePath,
			CorrelationID:  correlationID,
		})
		if err != nil {
			logging.WarnWithContext(a.logger, "failed to persist failure report", "failure_report_write_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "rejection is logged but missing from `tether failures`"),
			)
		}
	}
	return &Failure{Code: code, Reason: reason}
}

func (a *Authenticator) pathAllowed(path string) bool {
	if path == "" {
		return false
	}
	if a.samePath(path, a.opts.ExpectedPath) {
		return true
	}
	if a.opts.Development && a.opts.DevelopmentDir != "" {
		name := filepath.Base(a.opts.ExpectedPath)
		candidate := filepath.Join(a.opts.DevelopmentDir, name)
		return a.samePath(path, candidate)
	}
	return false
}

func (a *Authenticator) samePath(left, right string) bool {
	switch a.opts.GOOS {
	case "windows":
		return strings.EqualFold(filepath.Clean(left), filepath.Clean(right))
	case "darwin":
		return norm.NFC.String(filepath.Clean(left)) == norm.NFC.String(filepath.Clean(right))
	default:
		return filepath.Clean(left) == filepath.Clean(right)
	}
}
