package auth_test

import (
	"context"
	"errors"
	"net"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"tether/internal/auth"
	"tether/internal/clock"
	"tether/internal/failures"
	"tether/internal/faults"
	"tether/internal/peercred"
	"tether/internal/signing"
	"tether/internal/testsupport"
)

type memoryRecorder struct {
	mu      sync.Mutex
	reports []failures.Report
}

func (m *memoryRecorder) Record(_ context.Context, report failures.Report) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports = append(m.reports, report)
	return int64(len(m.reports)), nil
}

func (m *memoryRecorder) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.reports)
}

type rejectAll struct{}

func (rejectAll) VerifySigner(string) error { return signing.ErrSignerMismatch }

type panicVerifier struct{}

func (panicVerifier) VerifySigner(string) error { panic("boom") }

type acceptAll struct{}

func (acceptAll) VerifySigner(string) error { return nil }

// switchableVerifier rejects signers until accept is set.
type switchableVerifier struct{ accept atomic.Bool }

func (v *switchableVerifier) VerifySigner(string) error {
	if v.accept.Load() {
		return nil
	}
	return signing.ErrSignerMismatch
}

const companion = "/opt/tether/tether-desktop"

func newAuthenticator(t *testing.T, fake *clock.Fake, recorder failures.Recorder, verifier signing.Verifier) *auth.Authenticator {
	t.Helper()
	return auth.New(auth.Options{
		ExpectedPath: companion,
		Verifier:     verifier,
		Recorder:     recorder,
		Clock:        fake,
		MaxFailures:  5,
		Window:       time.Minute,
		GOOS:         "linux",
	})
}

func failureCode(t *testing.T, err error) string {
	t.Helper()
	var failure *auth.Failure
	if !errors.As(err, &failure) {
		t.Fatalf("expected *auth.Failure, got %v", err)
	}
	if !errors.Is(err, faults.ErrAuthentication) {
		t.Fatalf("expected failure to wrap ErrAuthentication, got %v", err)
	}
	return failure.Code
}

func TestValidateAcceptsExpectedPath(t *testing.T) {
	fake := clock.NewFake(time.Unix(1_700_000_000, 0))
	a := newAuthenticator(t, fake, nil, acceptAll{})

	creds, err := a.Validate(context.Background(), peercred.Credentials{PID: 42, ExecutablePath: companion})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if creds.PID != 42 || creds.ExecutablePath != companion {
		t.Fatalf("unexpected credentials %+v", creds)
	}
}

func TestRateLimitAfterFiveFailures(t *testing.T) {
	fake := clock.NewFake(time.Unix(1_700_000_000, 0))
	recorder := &memoryRecorder{}
	a := newAuthenticator(t, fake, recorder, acceptAll{})
	ctx := context.Background()
	rogue := peercred.Credentials{PID: 7, ExecutablePath: "/bad/path/app"}

	for i := range 5 {
		_, err := a.Validate(ctx, rogue)
		if code := failureCode(t, err); code != auth.CodePath {
			t.Fatalf("attempt %d: expected path failure, got %q", i+1, code)
		}
		fake.Advance(time.Second)
	}

	_, err := a.Validate(ctx, rogue)
	if code := failureCode(t, err); code != auth.CodeRateLimited {
		t.Fatalf("expected rate limit on sixth attempt, got %q", code)
	}
	if recorder.count() != 5 {
		t.Fatalf("expected 5 persisted reports, got %d", recorder.count())
	}
	if got := a.Failures(rogue.ExecutablePath); got != 5 {
		t.Fatalf("rate limited attempt must not count, got %d failures", got)
	}

	fake.Advance(61 * time.Second)
	_, err = a.Validate(ctx, rogue)
	if code := failureCode(t, err); code != auth.CodePath {
		t.Fatalf("expected window to expire, got %q", code)
	}
}

func TestRateLimitAfterFiveSignerFailures(t *testing.T) {
	fake := clock.NewFake(time.Unix(1_700_000_000, 0))
	recorder := &memoryRecorder{}
	verifier := &switchableVerifier{}
	a := newAuthenticator(t, fake, recorder, verifier)
	ctx := context.Background()
	trusted := peercred.Credentials{PID: 9, ExecutablePath: companion}

	for i := range 5 {
		_, err := a.Validate(ctx, trusted)
		if code := failureCode(t, err); code != auth.CodeSignature {
			t.Fatalf("attempt %d: expected signature failure, got %q", i+1, code)
		}
		fake.Advance(time.Second)
	}
	if got := a.Failures(companion); got != 5 {
		t.Fatalf("expected signer failures recorded against %s, got %d", companion, got)
	}

	verifier.accept.Store(true)
	_, err := a.Validate(ctx, trusted)
	if code := failureCode(t, err); code != auth.CodeRateLimited {
		t.Fatalf("expected rate limit despite a valid signer, got %q", code)
	}
	if recorder.count() != 5 {
		t.Fatalf("expected 5 persisted reports, got %d", recorder.count())
	}

	fake.Advance(61 * time.Second)
	creds, err := a.Validate(ctx, trusted)
	if err != nil {
		t.Fatalf("expected success once the window passes, got %v", err)
	}
	if creds.PID != trusted.PID {
		t.Fatalf("unexpected credentials %+v", creds)
	}
}

func TestRateLimitIsPerPath(t *testing.T) {
	fake := clock.NewFake(time.Unix(1_700_000_000, 0))
	a := newAuthenticator(t, fake, nil, acceptAll{})
	ctx := context.Background()

	for range 5 {
		_, _ = a.Validate(ctx, peercred.Credentials{PID: 7, ExecutablePath: "/bad/path/app"})
	}
	if _, err := a.Validate(ctx, peercred.Credentials{PID: 8, ExecutablePath: companion}); err != nil {
		t.Fatalf("trusted path should not be limited by another path: %v", err)
	}
}

func TestEmptyPathNeverRateLimited(t *testing.T) {
	fake := clock.NewFake(time.Unix(1_700_000_000, 0))
	a := newAuthenticator(t, fake, nil, acceptAll{})
	ctx := context.Background()

	for i := range 10 {
		_, err := a.Validate(ctx, peercred.Credentials{PID: 9})
		if code := failureCode(t, err); code != auth.CodePath {
			t.Fatalf("attempt %d: expected path failure, got %q", i+1, code)
		}
	}
}

func TestSignerMismatchRecordsFailure(t *testing.T) {
	fake := clock.NewFake(time.Unix(1_700_000_000, 0))
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenFailures(t, cfg)
	a := newAuthenticator(t, fake, store, rejectAll{})
	ctx := context.Background()

	_, err := a.Validate(ctx, peercred.Credentials{PID: 11, ExecutablePath: companion})
	if code := failureCode(t, err); code != auth.CodeSignature {
		t.Fatalf("expected signature failure, got %q", code)
	}

	reports, err := store.List(ctx, failures.ListOptions{Component: "auth"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(reports) != 1 {
		t.Fatalf("expected 1 report, got %d", len(reports))
	}
	if reports[0].PID != 11 || reports[0].ExecutablePath != companion || reports[0].Operation != auth.CodeSignature {
		t.Fatalf("unexpected report %+v", reports[0])
	}
}

func TestVerifierPanicBecomesFailure(t *testing.T) {
	fake := clock.NewFake(time.Unix(1_700_000_000, 0))
	resolver := staticResolver{creds: peercred.Credentials{PID: 12, ExecutablePath: companion}}
	a := auth.New(auth.Options{
		ExpectedPath: companion,
		Verifier:     panicVerifier{},
		Resolver:     resolver,
		Clock:        fake,
		GOOS:         "linux",
	})

	_, err := a.Authenticate(context.Background(), nil)
	if code := failureCode(t, err); code != auth.CodeUnexpected {
		t.Fatalf("expected unexpected failure, got %q", code)
	}
}

type staticResolver struct {
	creds peercred.Credentials
	err   error
}

func (s staticResolver) Resolve(_ net.Conn) (peercred.Credentials, error) {
	return s.creds, s.err
}

func TestUnresolvedPeerIsRejected(t *testing.T) {
	a := auth.New(auth.Options{
		ExpectedPath: companion,
		Resolver:     staticResolver{err: peercred.ErrUnsupported},
		GOOS:         "windows",
	})
	_, err := a.Authenticate(context.Background(), nil)
	if code := failureCode(t, err); code != auth.CodePeerCredentials {
		t.Fatalf("expected peer credential failure, got %q", code)
	}
}

func TestDevelopmentDirectoryAccepted(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithDevelopmentDir())
	a := auth.New(auth.Options{
		ExpectedPath:   cfg.Agent.CompanionPath,
		Development:    cfg.Agent.Development,
		DevelopmentDir: cfg.Agent.DevelopmentDir,
		Verifier:       acceptAll{},
		GOOS:           "linux",
	})
	devBinary := filepath.Join(cfg.Agent.DevelopmentDir, filepath.Base(cfg.Agent.CompanionPath))

	if _, err := a.Validate(context.Background(), peercred.Credentials{PID: 5, ExecutablePath: devBinary}); err != nil {
		t.Fatalf("development binary rejected: %v", err)
	}
	other := filepath.Join(cfg.Agent.DevelopmentDir, "other-binary")
	if _, err := a.Validate(context.Background(), peercred.Credentials{PID: 5, ExecutablePath: other}); err == nil {
		t.Fatal("expected other binary in development dir to be rejected")
	}
}

func TestPathComparisonRules(t *testing.T) {
	cases := []struct {
		name     string
		goos     string
		expected string
		actual   string
		ok       bool
	}{
		{name: "windows case insensitive", goos: "windows", expected: `C:\Program Files\Tether\tether-desktop.exe`, actual: `c:\program files\tether\TETHER-DESKTOP.EXE`, ok: true},
		{name: "linux case sensitive", goos: "linux", expected: "/opt/tether/tether-desktop", actual: "/opt/Tether/tether-desktop", ok: false},
		{name: "darwin nfd vs nfc", goos: "darwin", expected: "/Applications/Caf\u00e9.app/tether-desktop", actual: "/Applications/Cafe\u0301.app/tether-desktop", ok: true},
		{name: "linux cleaned", goos: "linux", expected: "/opt/tether/tether-desktop", actual: "/opt/tether/./tether-desktop", ok: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := auth.New(auth.Options{ExpectedPath: tc.expected, Verifier: acceptAll{}, GOOS: tc.goos})
			_, err := a.Validate(context.Background(), peercred.Credentials{PID: 1, ExecutablePath: tc.actual})
			if tc.ok && err != nil {
				t.Fatalf("expected accept, got %v", err)
			}
			if !tc.ok && err == nil {
				t.Fatal("expected reject")
			}
		})
	}
}

func TestRecordFailureCountsTowardLimit(t *testing.T) {
	fake := clock.NewFake(time.Unix(1_700_000_000, 0))
	recorder := &memoryRecorder{}
	a := newAuthenticator(t, fake, recorder, acceptAll{})
	creds := auth.Credentials{PID: 3, ExecutablePath: companion}

	for range 5 {
		a.RecordFailure(context.Background(), creds, "attestation", "pid mismatch")
	}
	_, err := a.Validate(context.Background(), peercred.Credentials{PID: 3, ExecutablePath: companion})
	if code := failureCode(t, err); code != auth.CodeRateLimited {
		t.Fatalf("expected rate limit, got %q", code)
	}
	if recorder.count() != 5 {
		t.Fatalf("expected 5 reports, got %d", recorder.count())
	}
}
