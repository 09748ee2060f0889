package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ArtifactStore uploads a finished artifact and returns its download URL
type ArtifactStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// RegisterBuiltins installs the bundled work functions. The report type is
// only available when artifacts is non-nil.
func RegisterBuiltins(r *Registry, artifacts ArtifactStore) {
	r.Register("echo", Echo)
	r.Register("uppercase", Uppercase)
	r.Register("slow", Slow)
	r.Register("fail", Fail)
	r.Register("text_generation", TextGeneration)
	if artifacts != nil {
		r.Register("report", Report(artifacts))
	}
}

func stringField(input map[string]any, key string) string {
	if v, ok := input[key].(string); ok {
		return v
	}
	return ""
}

func durationField(input map[string]any, key string, def time.Duration) time.Duration {
	switch v := input[key].(type) {
	case float64:
		return time.Duration(v * float64(time.Second))
	case int:
		return time.Duration(v) * time.Second
	case string:
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// sleep waits for d or until ctx is done
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Echo returns its input unchanged
func Echo(_ context.Context, input map[string]any) (*Result, error) {
	out := make(map[string]any, len(input))
	for k, v := range input {
		out[k] = v
	}
	if len(out) == 0 {
		out["echo"] = ""
	}
	return &Result{OutputData: out}, nil
}

// Uppercase upper-cases input.text
func Uppercase(_ context.Context, input map[string]any) (*Result, error) {
	return &Result{OutputData: map[string]any{
		"text": strings.ToUpper(stringField(input, "text")),
	}}, nil
}

// Slow sleeps for input.seconds (default 2s), observing cancellation
func Slow(ctx context.Context, input map[string]any) (*Result, error) {
	d := durationField(input, "seconds", 2*time.Second)
	if err := sleep(ctx, d); err != nil {
		return nil, err
	}
	return &Result{OutputData: map[string]any{"slept": d.String()}}, nil
}

// Fail always fails with input.message or a fixed message
func Fail(_ context.Context, input map[string]any) (*Result, error) {
	msg := stringField(input, "message")
	if msg == "" {
		msg = "simulated job failure"
	}
	return nil, errors.New(msg)
}

// TextGeneration is a stand-in generator: it waits input.latency (default
// 500ms) and produces deterministic text from input.prompt.
func TextGeneration(ctx context.Context, input map[string]any) (*Result, error) {
	prompt := strings.TrimSpace(stringField(input, "prompt"))
	if prompt == "" {
		return nil, errors.New("prompt is required")
	}
	if err := sleep(ctx, durationField(input, "latency", 500*time.Millisecond)); err != nil {
		return nil, err
	}

	text := fmt.Sprintf("Generated response for: %s", prompt)
	return &Result{OutputData: map[string]any{
		"text":   text,
		"tokens": len(strings.Fields(text)),
		"model":  "fake-generator",
	}}, nil
}

// Report renders input.title and input.lines as a text document and stores
// it as an artifact
func Report(store ArtifactStore) WorkFunc {
	return func(ctx context.Context, input map[string]any) (*Result, error) {
		title := stringField(input, "title")
		if title == "" {
			title = "Report"
		}

		var b strings.Builder
		b.WriteString(title)
		b.WriteString("\n")
		b.WriteString(strings.Repeat("=", len(title)))
		b.WriteString("\n")
		if lines, ok := input["lines"].([]any); ok {
			for _, l := range lines {
				fmt.Fprintf(&b, "- %v\n", l)
			}
		}

		key := fmt.Sprintf("reports/%d.txt", time.Now().UnixNano())
		url, err := store.Put(ctx, key, []byte(b.String()), "text/plain")
		if err != nil {
			return nil, fmt.Errorf("failed to store report: %w", err)
		}
		return &Result{ArtifactURL: url}, nil
	}
}
