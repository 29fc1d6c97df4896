// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package workspace

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

// TestBarrier_Await_AllConfirmed tests release once every target is
// confirmed, including across URI escaping differences.
func TestBarrier_Await_AllConfirmed(t *testing.T) {
	events := make(chan string, 4)
	targets := []string{
		"file:///work/a.go",
		"file:///work/my%20dir/b.go",
	}

	events <- "file:///work/a.go"
	// Server answers with the unescaped form; normalization must match it.
	events <- "file:///work/my dir/b.go"

	b := NewBarrier(targets, events)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := b.Await(ctx, 2*time.Second); err != nil {
		t.Fatalf("Await failed: %v", err)
	}
}

// TestBarrier_Await_Timeout tests the timeout error and its content.
func TestBarrier_Await_Timeout(t *testing.T) {
	events := make(chan string, 4)
	targets := []string{
		"file:///work/a.go",
		"file:///work/b.go",
	}

	events <- "file:///work/a.go"

	b := NewBarrier(targets, events)

	err := b.Await(context.Background(), 300*time.Millisecond)
	if !errors.Is(err, ErrParseTimeout) {
		t.Fatalf("Await error = %v, want ErrParseTimeout", err)
	}
	if !strings.Contains(err.Error(), "/work/b.go") {
		t.Errorf("error should name the unconfirmed file, got %q", err.Error())
	}
	if strings.Contains(err.Error(), "/work/a.go") {
		t.Errorf("error should not name the confirmed file, got %q", err.Error())
	}
}

// TestBarrier_Await_LateConfirmation tests that confirmations arriving
// after Await starts still release the barrier.
func TestBarrier_Await_LateConfirmation(t *testing.T) {
	events := make(chan string, 4)
	targets := []string{"file:///work/a.go"}

	b := NewBarrier(targets, events)

	go func() {
		time.Sleep(300 * time.Millisecond)
		events <- "file:///work/a.go"
	}()

	if err := b.Await(context.Background(), 5*time.Second); err != nil {
		t.Fatalf("Await failed: %v", err)
	}
}

// TestBarrier_Await_ContextCancelled tests cancellation during the wait.
func TestBarrier_Await_ContextCancelled(t *testing.T) {
	events := make(chan string)
	b := NewBarrier([]string{"file:///work/a.go"}, events)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	err := b.Await(ctx, time.Minute)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Await error = %v, want context.Canceled", err)
	}
}

// TestBarrier_Await_NoTargets tests the empty workspace case.
func TestBarrier_Await_NoTargets(t *testing.T) {
	events := make(chan string)
	b := NewBarrier(nil, events)

	if err := b.Await(context.Background(), time.Second); err != nil {
		t.Fatalf("Await failed: %v", err)
	}
}

// TestBarrier_Await_ExtraConfirmations tests that confirmations for
// files outside the target set are harmless.
func TestBarrier_Await_ExtraConfirmations(t *testing.T) {
	events := make(chan string, 4)
	targets := []string{"file:///work/a.go"}

	events <- "file:///work/unrelated.go"
	events <- "file:///work/a.go"

	b := NewBarrier(targets, events)

	if err := b.Await(context.Background(), 2*time.Second); err != nil {
		t.Fatalf("Await failed: %v", err)
	}
}
