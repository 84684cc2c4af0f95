package preflight

import (
	"context"

	"tether/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("State directory", cfg.Paths.StateDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
		CheckDirectoryAccess("Socket directory", cfg.Paths.SocketDir),
		CheckDirectoryAccess("Lock directory", cfg.Paths.LockDir),
		CheckExecutable("Companion binary", cfg.Agent.CompanionPath),
	}

	if cfg.Agent.VerifySigners {
		results = append(results, CheckAgentSignature(cfg.Agent.CompanionPath))
	}
	if cfg.Agent.SigningKeyPath != "" {
		results = append(results, CheckFileReadable("Signing key", cfg.Agent.SigningKeyPath))
	}

	results = append(results, CheckHub(ctx, cfg.Hub.ServerURI))
	return results
}

// Failed returns only the failed results.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}
