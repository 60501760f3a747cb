// Package convert renders saved record pages to PDF with wkhtmltopdf.
package convert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"go.uber.org/zap"

	"github.com/JakeFAU/orderscraper/internal/artifact"
)

// Default converter invocation.
const DefaultBinary = "wkhtmltopdf"

// DefaultArgs are passed before the source and destination paths.
var DefaultArgs = []string{"--no-images", "--disable-javascript"}

// Config controls the converter subprocess.
type Config struct {
	Binary      string
	Args        []string
	ValidatePDF bool
	Timeout     time.Duration
}

type pageCounter func(path string) (int, error)

// Converter shells out to an HTML-to-PDF tool and optionally checks the result.
type Converter struct {
	binary    string
	args      []string
	validate  bool
	timeout   time.Duration
	pageCount pageCounter
	logger    *zap.Logger
}

// New builds a Converter.
func New(cfg Config, logger *zap.Logger) *Converter {
	if logger == nil {
		logger = zap.NewNop()
	}
	binary := strings.TrimSpace(cfg.Binary)
	if binary == "" {
		binary = DefaultBinary
	}
	args := cfg.Args
	if args == nil {
		args = DefaultArgs
	}
	return &Converter{
		binary:    binary,
		args:      append([]string(nil), args...),
		validate:  cfg.ValidatePDF,
		timeout:   cfg.Timeout,
		pageCount: api.PageCountFile,
		logger:    logger,
	}
}

// LookPath reports whether the converter binary can be found.
func (c *Converter) LookPath() (string, error) {
	p, err := exec.LookPath(c.binary)
	if err != nil {
		return "", fmt.Errorf("converter %s not found: %w", c.binary, err)
	}
	return p, nil
}

// Convert renders src into dst. A failed run leaves no dst behind.
func (c *Converter) Convert(ctx context.Context, src, dst string) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	args := append(append([]string(nil), c.args...), src, dst)
	cmd := exec.CommandContext(ctx, c.binary, args...) // #nosec G204 -- binary and flags come from config
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		_ = artifact.Remove(dst)
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("%s exited %d: %s", c.binary, exitErr.ExitCode(), strings.TrimSpace(stderr.String()))
		}
		return fmt.Errorf("run %s: %w", c.binary, err)
	}
	c.logger.Debug("converted document",
		zap.String("src", src),
		zap.String("dst", dst),
		zap.Duration("duration", time.Since(start)))

	if !c.validate {
		return nil
	}
	pages, err := c.pageCount(dst)
	if err != nil {
		_ = artifact.Remove(dst)
		return fmt.Errorf("validate %s: %w", dst, err)
	}
	if pages < 1 {
		_ = artifact.Remove(dst)
		return fmt.Errorf("validate %s: document has no pages", dst)
	}
	return nil
}
