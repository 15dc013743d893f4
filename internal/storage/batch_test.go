package storage

import (
	"context"
	"errors"
	"testing"
)

func TestRunBatch_FailedOperationDoesNotAbortTheRest(t *testing.T) {
	ops := []Operation[string]{
		SetOp("a", "1"),
		SetOp("broken", "2"),
		DeleteOp[string]("c"),
	}

	applyErr := errors.New("write refused")
	var applied []string
	result, err := runBatch(context.Background(), ops, func(_ context.Context, op Operation[string]) error {
		if op.Key == "broken" {
			return applyErr
		}
		applied = append(applied, op.Key)
		return nil
	})
	if err != nil {
		t.Fatalf("runBatch failed: %v", err)
	}

	if result.Success {
		t.Error("A batch with a failed operation must not report success")
	}
	if result.Applied != len(ops)-1 {
		t.Errorf("Expected %d applied operations, got %d", len(ops)-1, result.Applied)
	}
	if len(result.Errors) != 1 {
		t.Fatalf("Expected 1 captured error, got %d", len(result.Errors))
	}
	opErr := result.Errors[0]
	if opErr.Index != 1 || opErr.Key != "broken" {
		t.Errorf("Error captured for the wrong operation: %+v", opErr)
	}
	if !errors.Is(opErr.Err, applyErr) {
		t.Errorf("Captured error lost its cause: %v", opErr.Err)
	}

	// The operation after the failure still ran.
	if len(applied) != 2 || applied[1] != "c" {
		t.Errorf("Expected execution to continue past the failure, applied %v", applied)
	}
}

func TestRunBatch_InvalidOperationAppliesNothing(t *testing.T) {
	ops := []Operation[string]{
		SetOp("good", "1"),
		SetOp("", "2"),
	}

	calls := 0
	_, err := runBatch(context.Background(), ops, func(_ context.Context, op Operation[string]) error {
		calls++
		return nil
	})
	if !IsCode(err, CodeInvalidKey) {
		t.Errorf("Expected invalid_key, got %v", err)
	}
	if calls != 0 {
		t.Errorf("Validation failure must apply zero operations, applied %d", calls)
	}
}
