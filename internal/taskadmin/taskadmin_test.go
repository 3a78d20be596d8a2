package taskadmin

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/loomtrack/engine/internal/analysis"
	"github.com/loomtrack/engine/internal/kernel"
	"github.com/loomtrack/engine/internal/mood"
	"github.com/loomtrack/engine/internal/store"
	"github.com/loomtrack/engine/internal/tasks"
)

// writeTinyWAV writes a minimal mono 16-bit PCM WAV file, enough for
// kernel.Heuristic to decode without error.
func writeTinyWAV(t *testing.T, path string) {
	t.Helper()
	const sampleRate = 8000
	samples := make([]int16, sampleRate/4) // 0.25s of silence-adjacent noise
	for i := range samples {
		samples[i] = int16((i % 100) * 100)
	}

	dataSize := len(samples) * 2
	buf := make([]byte, 0, 44+dataSize)
	buf = append(buf, []byte("RIFF")...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(36+dataSize))
	buf = append(buf, []byte("WAVEfmt ")...)
	buf = binary.LittleEndian.AppendUint32(buf, 16)
	buf = binary.LittleEndian.AppendUint16(buf, 1) // PCM
	buf = binary.LittleEndian.AppendUint16(buf, 1) // mono
	buf = binary.LittleEndian.AppendUint32(buf, sampleRate)
	buf = binary.LittleEndian.AppendUint32(buf, sampleRate*2)
	buf = binary.LittleEndian.AppendUint16(buf, 2)
	buf = binary.LittleEndian.AppendUint16(buf, 16)
	buf = append(buf, []byte("data")...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(dataSize))
	for _, s := range samples {
		buf = binary.LittleEndian.AppendUint16(buf, uint16(s))
	}

	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatal(err)
	}
}

func reqWith(id string) *structpb.Struct {
	st, _ := structpb.NewStruct(map[string]any{"task_id": id})
	return st
}

func TestGetTaskReturnsSnapshot(t *testing.T) {
	reg := tasks.NewRegistry()
	id := reg.Create(10)
	if err := reg.Start(id); err != nil {
		t.Fatalf("Start: %v", err)
	}
	reg.Update(id, tasks.Delta{Processed: 3, CurrentFile: "/a.wav"})

	s := NewServer(reg, nil, analysis.Options{})
	resp, err := s.GetTask(context.Background(), reqWith(id))
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if resp.Fields["task_id"].GetStringValue() != id {
		t.Fatalf("expected task_id %q, got %q", id, resp.Fields["task_id"].GetStringValue())
	}
	if resp.Fields["processed"].GetNumberValue() != 3 {
		t.Fatalf("expected processed=3, got %v", resp.Fields["processed"].GetNumberValue())
	}
	if resp.Fields["current_file"].GetStringValue() != "/a.wav" {
		t.Fatalf("expected current_file /a.wav, got %q", resp.Fields["current_file"].GetStringValue())
	}
}

func TestGetTaskMissingIDReturnsInvalidArgument(t *testing.T) {
	s := NewServer(tasks.NewRegistry(), nil, analysis.Options{})
	st, _ := structpb.NewStruct(map[string]any{})
	_, err := s.GetTask(context.Background(), st)
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
}

func TestGetTaskNotFoundReturnsNotFound(t *testing.T) {
	s := NewServer(tasks.NewRegistry(), nil, analysis.Options{})
	_, err := s.GetTask(context.Background(), reqWith("does-not-exist"))
	if status.Code(err) != codes.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestCancelTaskCancelsRunningTask(t *testing.T) {
	reg := tasks.NewRegistry()
	id := reg.Create(5)
	if err := reg.Start(id); err != nil {
		t.Fatalf("Start: %v", err)
	}

	s := NewServer(reg, nil, analysis.Options{})
	resp, err := s.CancelTask(context.Background(), reqWith(id))
	if err != nil {
		t.Fatalf("CancelTask: %v", err)
	}
	if !resp.Fields["cancelled"].GetBoolValue() {
		t.Fatal("expected cancelled=true in response")
	}

	task, ok := reg.Get(id)
	if !ok {
		t.Fatal("expected task to still exist after cancellation")
	}
	if task.State != tasks.StateCancelled {
		t.Fatalf("expected state cancelled, got %v", task.State)
	}
}

func TestCancelTaskOnNonRunningTaskFails(t *testing.T) {
	reg := tasks.NewRegistry()
	id := reg.Create(5) // created, never started

	s := NewServer(reg, nil, analysis.Options{})
	_, err := s.CancelTask(context.Background(), reqWith(id))
	if status.Code(err) != codes.FailedPrecondition {
		t.Fatalf("expected FailedPrecondition, got %v", err)
	}
}

func TestInterceptorAllowsWhenDisabled(t *testing.T) {
	interceptor := Interceptor(Config{Enabled: false})
	called := false
	_, err := interceptor(context.Background(), reqWith("x"), nil, func(ctx context.Context, req any) (any, error) {
		called = true
		return nil, nil
	})
	if err != nil {
		t.Fatalf("expected no error when disabled, got %v", err)
	}
	if !called {
		t.Fatal("expected handler to be invoked when auth disabled")
	}
}

func TestInterceptorRejectsMissingToken(t *testing.T) {
	interceptor := Interceptor(Config{Enabled: true, Token: "secret"})
	_, err := interceptor(context.Background(), reqWith("x"), nil, func(ctx context.Context, req any) (any, error) {
		return nil, nil
	})
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected Unauthenticated, got %v", err)
	}
}

func TestInterceptorRejectsWrongToken(t *testing.T) {
	interceptor := Interceptor(Config{Enabled: true, Token: "secret"})
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer wrong"))
	_, err := interceptor(ctx, reqWith("x"), nil, func(ctx context.Context, req any) (any, error) {
		return nil, nil
	})
	if status.Code(err) != codes.PermissionDenied {
		t.Fatalf("expected PermissionDenied, got %v", err)
	}
}

func TestStartBatchLaunchesAnalysisEngine(t *testing.T) {
	dir := t.TempDir()
	writeTinyWAV(t, filepath.Join(dir, "track.wav"))

	s, err := store.Open(filepath.Join(dir, "test.db"), nil)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	registry := tasks.NewRegistry()
	engine := analysis.NewEngine(s, kernel.NewHeuristic(), mood.NewClassifier(), registry)
	server := NewServer(registry, engine, analysis.Options{})

	req, err := structpb.NewStruct(map[string]any{"roots": []any{dir}})
	if err != nil {
		t.Fatalf("NewStruct: %v", err)
	}
	resp, err := server.StartBatch(context.Background(), req)
	if err != nil {
		t.Fatalf("StartBatch: %v", err)
	}
	taskID := resp.Fields["task_id"].GetStringValue()
	if taskID == "" {
		t.Fatal("expected a non-empty task_id")
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		task, ok := registry.Get(taskID)
		if ok && task.State != tasks.StateRunning && task.State != tasks.StatePending {
			if task.State != tasks.StateCompleted {
				t.Fatalf("expected completed, got %s (errors=%v)", task.State, task.Errors)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("task never reached a terminal state")
}

func TestInterceptorAllowsCorrectToken(t *testing.T) {
	interceptor := Interceptor(Config{Enabled: true, Token: "secret"})
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer secret"))
	called := false
	_, err := interceptor(ctx, reqWith("x"), nil, func(ctx context.Context, req any) (any, error) {
		called = true
		return nil, nil
	})
	if err != nil {
		t.Fatalf("expected no error with correct token, got %v", err)
	}
	if !called {
		t.Fatal("expected handler to be invoked with correct token")
	}
}
