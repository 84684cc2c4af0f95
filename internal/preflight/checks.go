package preflight

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"tether/internal/signing"
)

// CheckHub verifies that the hub answers HTTP requests. Any response below
// 500 counts as reachable; the agent authenticates on the websocket itself.
func CheckHub(ctx context.Context, serverURI string) Result {
	const name = "Hub"

	base := strings.TrimRight(strings.TrimSpace(serverURI), "/")
	if base == "" {
		return Result{Name: name, Detail: "hub.server_uri not configured"}
	}
	base = strings.Replace(base, "wss://", "https://", 1)
	base = strings.Replace(base, "ws://", "http://", 1)

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	client := &http.Client{Timeout: 5 * time.Second}
	req, err := http.NewRequestWithContext(checkCtx, http.MethodGet, base, nil)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("request failed (%v)", err)}
	}
	resp, err := client.Do(req)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("unreachable (%v)", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return Result{Name: name, Detail: fmt.Sprintf("server error (%d)", resp.StatusCode)}
	}
	return Result{Name: name, Passed: true, Detail: "Reachable"}
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := checkAccess(path); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckExecutable verifies that path is a regular, executable file.
func CheckExecutable(name, path string) Result {
	if strings.TrimSpace(path) == "" {
		return Result{Name: name, Detail: "not configured"}
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: not installed)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.Mode().IsRegular() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: not a regular file)", path)}
	}
	if !isExecutable(info) {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: not executable)", path)}
	}
	return Result{Name: name, Passed: true, Detail: path}
}

// CheckFileReadable verifies that path can be opened for reading.
func CheckFileReadable(name, path string) Result {
	file, err := os.Open(path)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", path, err)}
	}
	file.Close()
	return Result{Name: name, Passed: true, Detail: path}
}

// CheckAgentSignature reports whether the running agent and the companion
// carry signatures from the same signer.
func CheckAgentSignature(companionPath string) Result {
	const name = "Signer"

	exe, err := os.Executable()
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("resolve agent executable (%v)", err)}
	}
	verifier, err := signing.NewSameSigner(exe)
	if err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	expected, ok := verifier.Expected()
	if !ok {
		return Result{Name: name, Passed: true, Detail: "agent is unsigned; companion signer checks are skipped"}
	}
	if err := verifier.VerifySigner(companionPath); err != nil {
		if errors.Is(err, signing.ErrUnsigned) {
			return Result{Name: name, Detail: "companion is unsigned; connections will be rejected"}
		}
		return Result{Name: name, Detail: fmt.Sprintf("companion rejected (%v)", err)}
	}
	return Result{Name: name, Passed: true, Detail: expected.Fingerprint()}
}
