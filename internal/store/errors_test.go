package store

import (
	"errors"
	"fmt"
	"testing"
)

func TestSentinelErrors_Distinct(t *testing.T) {
	wrapped := fmt.Errorf("save customer c1: %w", ErrStaleVersion)

	if !errors.Is(wrapped, ErrStaleVersion) {
		t.Error("wrapped stale version not matched")
	}
	if errors.Is(wrapped, ErrNotFound) {
		t.Error("stale version matched ErrNotFound")
	}
}
