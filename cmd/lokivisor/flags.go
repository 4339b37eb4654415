package main

import "time"

// GlobalFlags are persistent on the root command.
type GlobalFlags struct {
	ConfigPath string
	// API connection used by every client subcommand
	APIUrl     string
	APITimeout time.Duration
	CACert     string
	SkipVerify bool
	// credentials for an API with auth enabled
	Token    string
	Username string
	Password string
}

type StatusFlags struct {
	Detailed bool   // query /debug/process instead of /status
	Output   string // text, json or yaml
	Watch    bool
	Interval time.Duration
}

// OperationFlags are shared by start, stop, kill and managed-stop.
type OperationFlags struct {
	// Wait polls the status until the operation settles; zero returns immediately.
	Wait     time.Duration
	Interval time.Duration
	Output   string
}

type HashPasswordFlags struct {
	Password string
	Cost     int
}

type ServeFlags struct {
	ConfigPath        string
	Start             bool          // start the process once the server is up
	ManagedStopOnExit bool          // managed stop a running process before exiting
	ShutdownTimeout   time.Duration // bound for draining HTTP and waiting on a managed stop
}
