//go:build windows

package terminal

func defaultStarter() Starter { return StartPipe }
