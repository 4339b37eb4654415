package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/loykin/lokivisor/internal/auth"
	"github.com/loykin/lokivisor/pkg/client"
)

type command struct {
	global *GlobalFlags
	out    io.Writer
}

// newClient connects to the supervisor named by the global flags.
func (c *command) newClient(ctx context.Context) (*client.Client, error) {
	cfg := client.Config{
		BaseURL:  c.global.APIUrl,
		Timeout:  c.global.APITimeout,
		Token:    c.global.Token,
		Username: c.global.Username,
		Password: c.global.Password,
	}
	if c.global.CACert != "" || c.global.SkipVerify {
		cfg.TLS = &client.TLSClientConfig{CACert: c.global.CACert, SkipVerify: c.global.SkipVerify}
	}
	cl, err := client.New(cfg)
	if err != nil {
		return nil, err
	}
	if !cl.IsReachable(ctx) {
		return nil, fmt.Errorf("supervisor not reachable at %s - start it first with 'lokivisor serve'", apiURLOrDefault(c.global.APIUrl))
	}
	return cl, nil
}

func (c *command) Start(ctx context.Context, f OperationFlags) error {
	return c.operation(ctx, f, "running", (*client.Client).Start)
}

func (c *command) Stop(ctx context.Context, f OperationFlags) error {
	return c.operation(ctx, f, "stopped", (*client.Client).Stop)
}

func (c *command) Kill(ctx context.Context, f OperationFlags) error {
	return c.operation(ctx, f, "stopped", (*client.Client).Kill)
}

func (c *command) ManagedStop(ctx context.Context, f OperationFlags) error {
	return c.operation(ctx, f, "stopped", (*client.Client).ManagedStop)
}

// operation runs op and, when f.Wait is set, polls until the status reaches want.
func (c *command) operation(ctx context.Context, f OperationFlags, want string,
	op func(*client.Client, context.Context) (client.OperationResponse, error)) error {
	cl, err := c.newClient(ctx)
	if err != nil {
		return err
	}
	resp, err := op(cl, ctx)
	if err != nil {
		var apiErr *client.APIError
		if errors.As(err, &apiErr) && apiErr.Conflict() {
			return fmt.Errorf("rejected: %s", apiErr.Message)
		}
		return err
	}
	if f.Wait <= 0 {
		return printValue(c.out, f.Output, resp, resp.Status)
	}

	st, err := waitForStatus(ctx, cl, want, f.Wait, f.Interval)
	if err != nil {
		return err
	}
	return printValue(c.out, f.Output, st, st.Status)
}

// Status prints the status once, or repeatedly with --watch.
func (c *command) Status(ctx context.Context, f StatusFlags) error {
	cl, err := c.newClient(ctx)
	if err != nil {
		return err
	}
	if !f.Watch {
		return c.printStatus(ctx, cl, f)
	}

	interval := f.Interval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := c.printStatus(ctx, cl, f); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (c *command) printStatus(ctx context.Context, cl *client.Client, f StatusFlags) error {
	if f.Detailed {
		info, err := cl.Describe(ctx)
		if err != nil {
			return err
		}
		return printValue(c.out, f.Output, info, describeText(info))
	}
	st, err := cl.Status(ctx)
	if err != nil {
		return err
	}
	return printValue(c.out, f.Output, st, st.Status)
}

// Login prints a bearer token for the global username and password.
func (c *command) Login(ctx context.Context) error {
	cl, err := c.newClient(ctx)
	if err != nil {
		return err
	}
	tok, err := cl.Login(ctx)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(c.out, tok.Value)
	return err
}

// HashPassword prints the bcrypt hash of f.Password, or of the first line of in.
func (c *command) HashPassword(in io.Reader, f HashPasswordFlags) error {
	password := f.Password
	if password == "" {
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		password = strings.TrimRight(line, "\r\n")
	}
	hash, err := auth.HashPassword(password, f.Cost)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(c.out, hash)
	return err
}

// waitForStatus polls until the status equals want or timeout elapses.
func waitForStatus(ctx context.Context, cl *client.Client, want string, timeout, interval time.Duration) (client.StatusResponse, error) {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var last client.StatusResponse
	for {
		st, err := cl.Status(ctx)
		if err == nil {
			last = st
			if st.Status == want {
				return st, nil
			}
		}
		select {
		case <-ctx.Done():
			return last, fmt.Errorf("timed out after %s waiting for status %s (last: %s)", timeout, want, orUnknown(last.Status))
		case <-time.After(interval):
		}
	}
}

func apiURLOrDefault(u string) string {
	if u == "" {
		return defaultAPIUrl
	}
	return u
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
