// Package logging provides categorized, config-driven logging for the learning
// pipeline. Every subsystem logs through its own category so a deployment can
// silence or isolate one stage (e.g. only "validation") without touching code.
// Output is produced by a shared zap core; until Initialize is called every
// logger is a no-op.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/system
type Category string

const (
	CategoryBoot       Category = "boot"       // Startup, wiring
	CategoryConfig     Category = "config"     // Config load, hot reload
	CategoryStore      Category = "store"      // Repository operations
	CategoryPatterns   Category = "patterns"   // Pattern recognition
	CategoryBehavior   Category = "behavior"   // Behavior adaptation
	CategoryValidation Category = "validation" // Safety/bias/privacy validation
	CategoryABTest     Category = "abtest"     // Experiment lifecycle
	CategoryKnowledge  Category = "knowledge"  // Knowledge base
	CategoryPipeline   Category = "pipeline"   // Learning cycle orchestration
	CategoryMetrics    Category = "metrics"    // Metrics exposition
)

// Options mirrors the relevant parts of config.LoggingConfig
// to avoid circular imports
type Options struct {
	Level      string          // debug, info, warn, error
	Format     string          // json, console
	File       string          // empty = stderr
	Categories map[string]bool // missing category = enabled
}

// Logger writes printf-style messages for one category.
type Logger struct {
	category Category
	sugar    *zap.SugaredLogger
}

var (
	mu         sync.RWMutex
	base       = zap.NewNop()
	categories map[string]bool
	loggers    = make(map[Category]*Logger)
	sinkFile   *os.File
)

// Initialize builds the shared zap core from opts. Safe to call again; the
// previous core is replaced and cached loggers are rebuilt lazily.
func Initialize(opts Options) error {
	level := zap.NewAtomicLevel()
	if opts.Level != "" {
		if err := level.UnmarshalText([]byte(opts.Level)); err != nil {
			return fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var enc zapcore.Encoder
	switch strings.ToLower(opts.Format) {
	case "", "json":
		enc = zapcore.NewJSONEncoder(encCfg)
	case "console", "text":
		enc = zapcore.NewConsoleEncoder(encCfg)
	default:
		return fmt.Errorf("unknown log format %q", opts.Format)
	}

	var ws zapcore.WriteSyncer = zapcore.Lock(os.Stderr)
	var file *os.File
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		file = f
		ws = zapcore.AddSync(f)
	}

	install(zap.New(zapcore.NewCore(enc, ws, level)), opts.Categories, file)
	Boot("Logging initialized (level=%s format=%s file=%q)", level.String(), opts.Format, opts.File)
	return nil
}

// SetLogger installs an already-built zap logger (e.g. the CLI's, or an
// observer core in tests). A nil logger restores the no-op default.
func SetLogger(l *zap.Logger, cats map[string]bool) {
	if l == nil {
		l = zap.NewNop()
	}
	install(l, cats, nil)
}

func install(l *zap.Logger, cats map[string]bool, file *os.File) {
	mu.Lock()
	defer mu.Unlock()
	_ = base.Sync()
	if sinkFile != nil {
		sinkFile.Close()
	}
	base = l
	sinkFile = file
	categories = cats
	loggers = make(map[Category]*Logger)
}

// Sync flushes buffered entries. Call at shutdown.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	_ = base.Sync()
}

// IsCategoryEnabled returns whether a specific category is enabled
func IsCategoryEnabled(category Category) bool {
	mu.RLock()
	defer mu.RUnlock()
	if categories == nil {
		return true
	}
	enabled, exists := categories[string(category)]
	if !exists {
		return true
	}
	return enabled
}

// Get returns (or creates) a logger for the given category.
// Returns a no-op logger if the category is disabled.
func Get(category Category) *Logger {
	if !IsCategoryEnabled(category) {
		return &Logger{category: category, sugar: zap.NewNop().Sugar()}
	}

	mu.RLock()
	if l, ok := loggers[category]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}
	l := &Logger{
		category: category,
		sugar:    base.Named(string(category)).Sugar(),
	}
	loggers[category] = l
	return l
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) { l.sugar.Debugf(format, args...) }

// Info logs an informational message
func (l *Logger) Info(format string, args ...interface{}) { l.sugar.Infof(format, args...) }

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) { l.sugar.Warnf(format, args...) }

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) { l.sugar.Errorf(format, args...) }

// With returns a logger that attaches the given fields to every entry.
func (l *Logger) With(fields map[string]interface{}) *Logger {
	kv := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		kv = append(kv, k, v)
	}
	return &Logger{category: l.category, sugar: l.sugar.With(kv...)}
}

// =============================================================================
// CONVENIENCE FUNCTIONS - Quick logging without getting a logger first
// =============================================================================

func Boot(format string, args ...interface{})      { Get(CategoryBoot).Info(format, args...) }
func BootDebug(format string, args ...interface{}) { Get(CategoryBoot).Debug(format, args...) }
func BootError(format string, args ...interface{}) { Get(CategoryBoot).Error(format, args...) }

func Config(format string, args ...interface{})      { Get(CategoryConfig).Info(format, args...) }
func ConfigWarn(format string, args ...interface{})  { Get(CategoryConfig).Warn(format, args...) }
func ConfigError(format string, args ...interface{}) { Get(CategoryConfig).Error(format, args...) }

func Store(format string, args ...interface{})      { Get(CategoryStore).Info(format, args...) }
func StoreDebug(format string, args ...interface{}) { Get(CategoryStore).Debug(format, args...) }
func StoreError(format string, args ...interface{}) { Get(CategoryStore).Error(format, args...) }

func Patterns(format string, args ...interface{})      { Get(CategoryPatterns).Info(format, args...) }
func PatternsDebug(format string, args ...interface{}) { Get(CategoryPatterns).Debug(format, args...) }
func PatternsWarn(format string, args ...interface{})  { Get(CategoryPatterns).Warn(format, args...) }
func PatternsError(format string, args ...interface{}) { Get(CategoryPatterns).Error(format, args...) }

func Behavior(format string, args ...interface{})      { Get(CategoryBehavior).Info(format, args...) }
func BehaviorDebug(format string, args ...interface{}) { Get(CategoryBehavior).Debug(format, args...) }
func BehaviorWarn(format string, args ...interface{})  { Get(CategoryBehavior).Warn(format, args...) }
func BehaviorError(format string, args ...interface{}) { Get(CategoryBehavior).Error(format, args...) }

func Validation(format string, args ...interface{})      { Get(CategoryValidation).Info(format, args...) }
func ValidationDebug(format string, args ...interface{}) { Get(CategoryValidation).Debug(format, args...) }
func ValidationWarn(format string, args ...interface{})  { Get(CategoryValidation).Warn(format, args...) }

func ABTest(format string, args ...interface{})      { Get(CategoryABTest).Info(format, args...) }
func ABTestDebug(format string, args ...interface{}) { Get(CategoryABTest).Debug(format, args...) }
func ABTestWarn(format string, args ...interface{})  { Get(CategoryABTest).Warn(format, args...) }

func Knowledge(format string, args ...interface{})      { Get(CategoryKnowledge).Info(format, args...) }
func KnowledgeDebug(format string, args ...interface{}) { Get(CategoryKnowledge).Debug(format, args...) }
func KnowledgeWarn(format string, args ...interface{})  { Get(CategoryKnowledge).Warn(format, args...) }
func KnowledgeError(format string, args ...interface{}) { Get(CategoryKnowledge).Error(format, args...) }

func Pipeline(format string, args ...interface{})      { Get(CategoryPipeline).Info(format, args...) }
func PipelineDebug(format string, args ...interface{}) { Get(CategoryPipeline).Debug(format, args...) }
func PipelineError(format string, args ...interface{}) { Get(CategoryPipeline).Error(format, args...) }

// =============================================================================
// TIMING HELPERS - For performance logging
// =============================================================================

// Timer helps measure operation duration
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation
func StartTimer(category Category, operation string) *Timer {
	return &Timer{
		category: category,
		op:       operation,
		start:    time.Now(),
	}
}

// Stop ends the timer and logs the duration
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithThreshold logs warning if duration exceeds threshold
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(t.category).Warn("%s took %v (threshold: %v)", t.op, elapsed, threshold)
	} else {
		Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	}
	return elapsed
}
