package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNew(t *testing.T) {
	log := New()
	if log.GetLevel() == zerolog.Disabled {
		t.Error("Expected logger to be enabled")
	}
}

func TestNewWithWriter(t *testing.T) {
	buf := &bytes.Buffer{}
	log := NewWithWriter(buf)

	log.Info().Int64("batch_id", 42).Msg("Batch populated")

	output := buf.String()
	if !strings.Contains(output, "Batch populated") {
		t.Errorf("Expected output to contain message, got: %s", output)
	}
	if !strings.Contains(output, `"batch_id":42`) {
		t.Errorf("Expected output to contain batch_id field, got: %s", output)
	}
}

func TestNewWithConfig_JSON(t *testing.T) {
	buf := &bytes.Buffer{}
	log := newWithConfig(buf, "warn", "json")

	log.Info().Msg("dropped")
	log.Warn().Str("code", "interrupted").Msg("kept")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("Expected one line at warn level, got %d: %s", len(lines), buf.String())
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("Expected JSON output, got %q: %v", lines[0], err)
	}
	if entry["level"] != "warn" || entry["code"] != "interrupted" {
		t.Errorf("Unexpected entry: %v", entry)
	}
}

func TestNewWithConfig_Console(t *testing.T) {
	buf := &bytes.Buffer{}
	log := newWithConfig(buf, "DEBUG", "console")

	log.Debug().Msg("populate step")

	output := buf.String()
	if !strings.Contains(output, "populate step") {
		t.Errorf("Expected debug output, got: %s", output)
	}
	if strings.HasPrefix(strings.TrimSpace(output), "{") {
		t.Errorf("Expected console output, got JSON: %s", output)
	}
}

func TestNewWithConfig_UnknownLevel(t *testing.T) {
	log := newWithConfig(&bytes.Buffer{}, "chatty", "json")
	if log.GetLevel() != zerolog.InfoLevel {
		t.Errorf("Expected info level, got %s", log.GetLevel())
	}
}

func TestFromContext(t *testing.T) {
	buf := &bytes.Buffer{}
	ctx := WithContext(context.Background(), NewWithWriter(buf))

	log := FromContext(ctx)
	log.Info().Msg("test")

	if buf.Len() == 0 {
		t.Error("Expected log output from retrieved logger")
	}
}

func TestFromContext_DefaultLogger(t *testing.T) {
	log := FromContext(context.Background())

	if log.GetLevel() == zerolog.Disabled {
		t.Error("Expected default logger to be enabled")
	}
}

func TestWithFields(t *testing.T) {
	buf := &bytes.Buffer{}
	log := WithFields(NewWithWriter(buf), map[string]interface{}{
		"source_type": "ofx",
		"rows":        3,
	})

	log.Info().Msg("test message")

	output := buf.String()
	if !strings.Contains(output, `"source_type":"ofx"`) {
		t.Errorf("Expected output to contain source_type field, got: %s", output)
	}
	if !strings.Contains(output, `"rows":3`) {
		t.Errorf("Expected output to contain rows field, got: %s", output)
	}
}
