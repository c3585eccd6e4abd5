package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observe(t *testing.T, cats map[string]bool) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	SetLogger(zap.New(core), cats)
	t.Cleanup(func() { SetLogger(nil, nil) })
	return logs
}

func TestCategoryLoggersWriteNamedEntries(t *testing.T) {
	logs := observe(t, nil)

	Patterns("analyzed %d interactions", 3)
	BehaviorWarn("strategy %s rejected", "timeout_adjustment")

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].LoggerName != "patterns" || entries[0].Message != "analyzed 3 interactions" {
		t.Errorf("unexpected first entry: %s %q", entries[0].LoggerName, entries[0].Message)
	}
	if entries[1].Level != zapcore.WarnLevel {
		t.Errorf("expected warn level, got %v", entries[1].Level)
	}
}

func TestDisabledCategoryIsSilent(t *testing.T) {
	logs := observe(t, map[string]bool{"knowledge": false})

	Knowledge("should not appear")
	Validation("should appear")

	if logs.FilterLoggerName("knowledge").Len() != 0 {
		t.Error("disabled category produced output")
	}
	if logs.FilterLoggerName("validation").Len() != 1 {
		t.Error("enabled category produced no output")
	}
}

func TestUninitializedLoggerIsNoop(t *testing.T) {
	SetLogger(nil, nil)
	// Must not panic.
	Get(CategoryStore).Error("nothing %d", 1)
	StartTimer(CategoryStore, "noop").Stop()
}

func TestWithAttachesFields(t *testing.T) {
	logs := observe(t, nil)

	Get(CategoryPipeline).With(map[string]interface{}{"cycle": 7}).Info("cycle done")

	entries := logs.FilterField(zap.Int("cycle", 7)).All()
	if len(entries) != 1 {
		t.Fatalf("expected one entry with cycle field, got %d", len(entries))
	}
}

func TestAuditEvents(t *testing.T) {
	logs := observe(t, nil)

	Audit(CategoryKnowledge).KnowledgeAccess("k1", "U2", false)
	Audit(CategoryValidation).SafetyVerdict("pattern", "p1", true, nil)

	audit := logs.FilterLoggerName("audit").All()
	if len(audit) != 2 {
		t.Fatalf("got %d audit entries, want 2", len(audit))
	}
	if got := audit[0].ContextMap()["event"]; got != string(AuditKnowledgeDenied) {
		t.Errorf("event = %v, want %s", got, AuditKnowledgeDenied)
	}
	if got := audit[1].ContextMap()["event"]; got != string(AuditSafetyAllow) {
		t.Errorf("event = %v, want %s", got, AuditSafetyAllow)
	}
}

func TestTimerThreshold(t *testing.T) {
	logs := observe(t, nil)

	timer := StartTimer(CategoryStore, "slow op")
	time.Sleep(2 * time.Millisecond)
	timer.StopWithThreshold(time.Nanosecond)

	if logs.FilterLevelExact(zapcore.WarnLevel).Len() != 1 {
		t.Error("expected threshold warning")
	}
}

func TestInitializeWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "learn.log")
	if err := Initialize(Options{Level: "debug", Format: "json", File: path}); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	t.Cleanup(func() { SetLogger(nil, nil) })

	Store("opened %s", "db")
	Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "opened db") {
		t.Errorf("log file missing entry: %s", data)
	}
}

func TestInitializeRejectsBadLevel(t *testing.T) {
	if err := Initialize(Options{Level: "loud"}); err == nil {
		t.Error("expected error for unknown level")
	}
}
