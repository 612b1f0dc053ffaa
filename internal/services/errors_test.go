package services_test

import (
	"errors"
	"strings"
	"testing"

	"omzet/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrExternalTool, "h265_encoder", "command", "exit 3", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"h265_encoder", "command", "exit 3"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestKindMapping(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{services.Wrap(services.ErrConfiguration, "probe", "", "exit 2", nil), "configuration"},
		{services.Wrap(services.ErrTimeout, "task", "", "", nil), "timeout"},
		{services.Wrap(services.ErrStageIO, "scratch", "promote", "", errors.New("io")), "stage_io"},
		{services.Wrap(services.ErrInterrupted, "pipeline", "", "", nil), "interrupted"},
		{errors.New("plain"), "transient"},
	}
	for _, tc := range cases {
		if got := services.Kind(tc.err); got != tc.want {
			t.Fatalf("Kind(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}
