package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DavinciDreams/Megawatts-sub008/internal/types"
)

// resetFlags restores every flag to its default; cobra keeps parsed values
// between Execute calls in one process.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

type env struct {
	t   *testing.T
	dir string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	for _, k := range []string{"MEGAWATTS_DB", "MEGAWATTS_DB_DRIVER", "MEGAWATTS_LOG_LEVEL", "MEGAWATTS_MIN_CONFIDENCE", "MEGAWATTS_METRICS_ADDR"} {
		t.Setenv(k, "")
	}
	return &env{t: t, dir: t.TempDir()}
}

// run executes the CLI against the env's config and pure-Go SQLite database.
func (e *env) run(args ...string) (string, error) {
	e.t.Helper()
	resetFlags(rootCmd)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	full := append([]string{
		"--config", filepath.Join(e.dir, "learn.yaml"),
		"--db", filepath.Join(e.dir, "learning.db"),
		"--driver", "sqlite",
	}, args...)
	rootCmd.SetArgs(full)
	err := rootCmd.Execute()
	return out.String(), err
}

func (e *env) mustRun(args ...string) string {
	e.t.Helper()
	out, err := e.run(args...)
	require.NoError(e.t, err, out)
	return out
}

func (e *env) writeFile(name, content string) string {
	e.t.Helper()
	path := filepath.Join(e.dir, name)
	require.NoError(e.t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func (e *env) interactions(n int) string {
	e.t.Helper()
	start := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)
	var b strings.Builder
	enc := json.NewEncoder(&b)
	for i := 0; i < n; i++ {
		require.NoError(e.t, enc.Encode(types.Interaction{
			Type:      "message",
			Content:   fmt.Sprintf("!cmd%d", i),
			UserID:    "U1",
			Timestamp: start.Add(time.Duration(i) * time.Minute),
			Outcome:   types.OutcomeNeutral,
		}))
		b.WriteString("\n")
	}
	return e.writeFile("interactions.jsonl", b.String())
}

func TestConfigInitAndShow(t *testing.T) {
	e := newEnv(t)

	out := e.mustRun("config", "init")
	assert.Contains(t, out, "learn.yaml")

	_, err := e.run("config", "init")
	assert.Error(t, err)

	out = e.mustRun("config", "show")
	assert.Contains(t, out, "min_confidence_threshold: 0.7")
	assert.Contains(t, out, "driver: sqlite\n")
}

func TestAnalyzePrintsPatterns(t *testing.T) {
	e := newEnv(t)
	input := e.interactions(10)

	out := e.mustRun("analyze", "--input", input)
	assert.Contains(t, out, "Analyzed 10 interactions: 2 patterns")
	assert.Contains(t, out, "frequent_command_usage")
	assert.Contains(t, out, "peak_activity_hours")
}

func TestAdaptThenReviewBehaviors(t *testing.T) {
	e := newEnv(t)
	input := e.interactions(10)
	signals := e.writeFile("signals.json", `[{"source":"conversation","values":{"average_engagement":0.75}}]`)

	out := e.mustRun("adapt", "--input", input, "--metrics", signals)
	assert.Contains(t, out, "Patterns: 2 accepted, 0 rejected")
	assert.Contains(t, out, "Behaviors: 3 adapted, 0 deactivated")

	out = e.mustRun("behavior", "list")
	assert.Contains(t, out, "behavior_response_length_optimization")
	assert.Contains(t, out, "behavior_personalization_level")

	out = e.mustRun("behavior", "apply", "behavior_response_length_optimization")
	var applied map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &applied))
	assert.EqualValues(t, 800, applied["max_response_length"])

	out = e.mustRun("behavior", "outcome", "behavior_response_length_optimization", "failure")
	assert.Contains(t, out, "(1/2 successful)")

	out = e.mustRun("behavior", "deactivate", "behavior_tone_adaptation")
	assert.Contains(t, out, "Deactivated behavior_tone_adaptation")
	_, err := e.run("behavior", "apply", "behavior_tone_adaptation")
	assert.ErrorIs(t, err, types.ErrBehaviorInactive)

	out = e.mustRun("status", "--json")
	var s struct {
		Behaviors       int `json:"behaviors"`
		ActiveBehaviors int `json:"active_behaviors"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &s))
	assert.Equal(t, 3, s.Behaviors)
	assert.Equal(t, 2, s.ActiveBehaviors)
}

func TestKnowledgeLifecycle(t *testing.T) {
	e := newEnv(t)

	out := e.mustRun("--json", "knowledge", "add",
		"--title", "Prefer threads",
		"--content", "Long answers read better in a thread",
		"--privacy", "guild_only", "--guild", "G1")
	var added struct {
		Knowledge types.Knowledge `json:"knowledge"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &added))
	id := added.Knowledge.ID
	require.NotEmpty(t, id)
	assert.Equal(t, types.ValidationValidated, added.Knowledge.ValidationStatus)

	out = e.mustRun("knowledge", "search", "threads", "--as-guild", "G1")
	assert.Contains(t, out, id)

	out = e.mustRun("knowledge", "search", "threads", "--as-guild", "G2")
	assert.Contains(t, out, "No knowledge entries found.")

	_, err := e.run("knowledge", "get", id, "--as-guild", "G2")
	assert.ErrorIs(t, err, types.ErrAccessDenied)

	out = e.mustRun("knowledge", "get", id, "--as-guild", "G1")
	assert.Contains(t, out, "Long answers read better in a thread")

	out = e.mustRun("knowledge", "add", "--title", "Weak hunch", "--content", "Maybe emoji help", "--confidence", "0.2")
	assert.Contains(t, out, "rejected")

	out = e.mustRun("knowledge", "prune", "--below-confidence", "0.5")
	assert.Contains(t, out, "Forgot 1 entries")

	out = e.mustRun("knowledge", "forget", id)
	assert.Contains(t, out, "Forgot "+id)
	_, err = e.run("knowledge", "get", id)
	assert.True(t, types.IsNotFound(err))

	_, err = e.run("knowledge", "prune")
	assert.ErrorIs(t, err, types.ErrInvalid)
}

func TestABTestScenario(t *testing.T) {
	e := newEnv(t)
	scenario := e.writeFile("scenario.yaml", `
experiment:
  name: reply length
  hypothesis: longer replies keep users engaged
  success_criteria: [conversion_rate]
  variants:
    - id: A
      name: current
      allocation_percentage: 50
      is_control: true
    - id: B
      name: longer
      allocation_percentage: 50
participants: 60
conversion_rates:
  A: 0
  B: 1
seed: 7
complete: true
`)

	out := e.mustRun("abtest", "run", "--scenario", scenario)
	assert.Contains(t, out, "completed")
	assert.Contains(t, out, "Winner: B (significant: true)")

	_, err := e.run("abtest", "run", "--scenario", filepath.Join(e.dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestServeFlushesOnEOF(t *testing.T) {
	e := newEnv(t)
	input := e.interactions(10)

	out := e.mustRun("serve", "--input", input)
	assert.Contains(t, out, "cycle: 2 patterns accepted, 3 behaviors adapted, 0 deactivated")

	out = e.mustRun("status")
	assert.Contains(t, out, "patterns:  2 (2 active)")
}

func TestServeWithMetricsEndpoint(t *testing.T) {
	e := newEnv(t)
	t.Setenv("MEGAWATTS_METRICS_ADDR", "127.0.0.1:0")
	input := e.interactions(10)

	out := e.mustRun("serve", "--input", input)
	assert.Contains(t, out, "cycle: 2 patterns accepted")
}

func TestServeFailsWhenMetricsPortTaken(t *testing.T) {
	e := newEnv(t)
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer taken.Close()
	t.Setenv("MEGAWATTS_METRICS_ADDR", taken.Addr().String())
	input := e.interactions(10)

	out, err := e.run("serve", "--input", input)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "metrics server on "+taken.Addr().String())
	assert.NotContains(t, out, "cycle:")
}

func TestStreamInteractionsStopsOnCancel(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan types.Interaction)

	done := make(chan error, 1)
	go func() { done <- streamInteractions(ctx, r, ch) }()

	go func() { _, _ = io.WriteString(w, `{"type":"message","content":"hi"}`+"\n") }()
	select {
	case got := <-ch:
		assert.Equal(t, "hi", got.Content)
	case <-time.After(5 * time.Second):
		t.Fatal("no interaction decoded")
	}

	// The reader is now blocked on the pipe with nothing left to read.
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("streamInteractions did not return after cancel")
	}
}

func TestStreamInteractionsSkipsMalformedLines(t *testing.T) {
	in := strings.NewReader("not json\n\n{\"type\":\"command\",\"content\":\"!help\"}\n")
	ch := make(chan types.Interaction, 4)

	require.NoError(t, streamInteractions(context.Background(), in, ch))
	close(ch)
	var got []types.Interaction
	for i := range ch {
		got = append(got, i)
	}
	require.Len(t, got, 1)
	assert.Equal(t, "!help", got[0].Content)
}

func TestDecodeInteractions(t *testing.T) {
	in := strings.NewReader(`{"type":"message","content":"hi","outcome":"success"}

{"type":"command","content":"!help"}
`)
	got, err := decodeInteractions(in)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, types.OutcomeSuccess, got[0].Outcome)
	assert.Equal(t, "!help", got[1].Content)

	_, err = decodeInteractions(strings.NewReader("{\"type\":\"message\"}\nnot json\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}
