package sysreport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/pbnjay/memory"
	"github.com/rs/zerolog"

	"github.com/vigilsec/vigil/pkg/log"
)

// DefaultBinary is the external graph generator consulted for
// performance reports.
const DefaultBinary = "gvmcg"

// FallbackName is the report type served when the generator is
// missing or failing.
const FallbackName = "fallback"

// Type is one report type the generator can render.
type Type struct {
	Name  string `json:"name"`
	Title string `json:"title"`
}

// Report is one rendered performance report. Format is "png" with
// base64 content when the generator produced a graph, "txt" with
// plain text when the fallback kicked in.
type Report struct {
	Name    string `json:"name"`
	Title   string `json:"title"`
	Format  string `json:"format"`
	Content string `json:"content"`
}

// Reporter shells out to the graph generator for system performance
// data. Every method degrades to a plain-text fallback when the
// generator is unavailable, so callers always have something to show.
type Reporter struct {
	binary  string
	timeout time.Duration
	logger  zerolog.Logger
}

// New creates a reporter using the default generator binary.
func New() *Reporter {
	return &Reporter{
		binary:  DefaultBinary,
		timeout: 30 * time.Second,
		logger:  log.WithComponent("sysreport"),
	}
}

// WithBinary overrides the generator binary path.
func (r *Reporter) WithBinary(path string) *Reporter {
	r.binary = path
	return r
}

// WithTimeout overrides the per-invocation timeout.
func (r *Reporter) WithTimeout(timeout time.Duration) *Reporter {
	r.timeout = timeout
	return r
}

// Types lists the report types the generator knows about. The
// generator prints one per line as "<name> <title>". An unavailable
// generator yields the single fallback type.
func (r *Reporter) Types(ctx context.Context) ([]Type, error) {
	out, err := r.run(ctx, "0", "titles")
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		r.logger.Debug().Err(err).Msg("graph generator unavailable, offering fallback report only")
		return []Type{{Name: FallbackName, Title: "Fallback Report"}}, nil
	}

	var types []Type
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		name, title, found := strings.Cut(line, " ")
		if !found {
			title = name
		}
		types = append(types, Type{Name: name, Title: strings.TrimSpace(title)})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to parse report titles: %w", err)
	}
	return types, nil
}

// Graph renders the named report covering [start, end]. A zero end
// asks the generator for its default window. The graph bytes are
// returned base64 encoded; generator failure degrades to the textual
// fallback report.
func (r *Reporter) Graph(ctx context.Context, name string, start, end time.Time) (*Report, error) {
	if name == FallbackName {
		return r.fallback(name), nil
	}

	args := []string{strconv.FormatInt(start.Unix(), 10)}
	if !end.IsZero() {
		args = append(args, strconv.FormatInt(end.Unix(), 10))
	}
	args = append(args, name)

	out, err := r.run(ctx, args...)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		r.logger.Warn().Err(err).Str("report", name).Msg("graph generator failed, falling back to text report")
		return r.fallback(name), nil
	}

	return &Report{
		Name:    name,
		Title:   name,
		Format:  "png",
		Content: base64.StdEncoding.EncodeToString(out),
	}, nil
}

// run executes the generator and returns its stdout. Stderr goes into
// the error so failures carry the generator's own complaint.
func (r *Reporter) run(ctx context.Context, args ...string) ([]byte, error) {
	execCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, r.binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if stderr.Len() > 0 {
			return nil, fmt.Errorf("%s %s: %w: %s", r.binary, strings.Join(args, " "), err,
				strings.TrimSpace(stderr.String()))
		}
		return nil, fmt.Errorf("%s %s: %w", r.binary, strings.Join(args, " "), err)
	}
	return stdout.Bytes(), nil
}

// fallback builds a plain-text snapshot from what the host itself can
// tell us, so the performance surface still answers without the
// generator installed.
func (r *Reporter) fallback(name string) *Report {
	var b strings.Builder
	b.WriteString("Basic system report. Install the graph generator for full performance graphs.\n\n")

	if hostname, err := os.Hostname(); err == nil {
		fmt.Fprintf(&b, "Host:             %s\n", hostname)
	}
	if load, err := os.ReadFile("/proc/loadavg"); err == nil {
		fields := strings.Fields(string(load))
		if len(fields) >= 3 {
			fmt.Fprintf(&b, "Load average:     %s %s %s (1/5/15 min)\n", fields[0], fields[1], fields[2])
		}
	}
	fmt.Fprintf(&b, "Memory total:     %d MiB\n", memory.TotalMemory()/(1024*1024))
	fmt.Fprintf(&b, "Memory free:      %d MiB\n", memory.FreeMemory()/(1024*1024))
	fmt.Fprintf(&b, "Generated:        %s\n", time.Now().UTC().Format(time.RFC3339))

	return &Report{
		Name:    name,
		Title:   "Fallback Report",
		Format:  "txt",
		Content: b.String(),
	}
}
