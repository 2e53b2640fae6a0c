// Package executor runs the external crawl program for one sub-task.
package executor

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strings"

	"go.uber.org/zap"
)

const stderrTail = 512

// Command shells out to a crawl binary, e.g. "scrapy crawl <spider> -a k=v".
type Command struct {
	Binary string
	Args   []string
	Dir    string
	logger *zap.Logger
}

// New constructs a Command.
func New(binary string, baseArgs []string, dir string, logger *zap.Logger) *Command {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Command{Binary: binary, Args: baseArgs, Dir: dir, logger: logger}
}

// BuildArgs returns the argument vector for spider with keyword args in key order.
func (c *Command) BuildArgs(spider string, args map[string]string) []string {
	out := make([]string, 0, len(c.Args)+1+2*len(args))
	out = append(out, c.Args...)
	out = append(out, spider)
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, "-a", k+"="+args[k])
	}
	return out
}

// Execute runs the command and waits for it. A non-zero exit is an error
// carrying the tail of stderr.
func (c *Command) Execute(ctx context.Context, spider string, args map[string]string) error {
	if spider == "" {
		return fmt.Errorf("execute: spider name is required")
	}
	argv := c.BuildArgs(spider, args)
	cmd := exec.CommandContext(ctx, c.Binary, argv...)
	cmd.Dir = c.Dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	c.logger.Debug("running crawl", zap.String("binary", c.Binary), zap.Strings("args", argv))
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("run %s %s: %w: %s", c.Binary, spider, err, tail(stderr.String()))
	}
	return nil
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > stderrTail {
		s = s[len(s)-stderrTail:]
	}
	return s
}
