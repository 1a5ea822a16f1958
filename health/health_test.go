package health

import (
	"context"
	"errors"
	"testing"
)

func TestCheckerHealthyBeforeThreshold(t *testing.T) {
	c := NewChecker(3)
	c.Update(errors.New("boom"))
	c.Update(errors.New("boom"))

	if err := c.Check(context.Background()); err != nil {
		t.Fatalf("expected healthy below threshold, got %v", err)
	}
	if got := c.Failures(); got != 2 {
		t.Fatalf("Failures() = %d, want 2", got)
	}
}

func TestCheckerUnhealthyAtThreshold(t *testing.T) {
	c := NewChecker(3)
	for i := 0; i < 3; i++ {
		c.Update(errors.New("boom"))
	}

	if err := c.Check(context.Background()); err == nil {
		t.Fatal("expected unhealthy at threshold, got nil")
	}
}

func TestCheckerResetsOnSuccess(t *testing.T) {
	c := NewChecker(2)
	c.Update(errors.New("boom"))
	c.Update(errors.New("boom"))
	if err := c.Check(context.Background()); err == nil {
		t.Fatal("expected unhealthy before reset")
	}

	c.Update(nil)
	if err := c.Check(context.Background()); err != nil {
		t.Fatalf("expected healthy after success, got %v", err)
	}
	if got := c.Failures(); got != 0 {
		t.Fatalf("Failures() = %d, want 0 after reset", got)
	}
}

func TestCheckerDisabledAtZeroThreshold(t *testing.T) {
	c := NewChecker(0)
	for i := 0; i < 10; i++ {
		c.Update(errors.New("boom"))
	}
	if err := c.Check(context.Background()); err != nil {
		t.Fatalf("expected disabled checker to always be healthy, got %v", err)
	}
}
