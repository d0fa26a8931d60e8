package corebus

import (
	"errors"
	"io"
	"testing"
)

func TestStructuredError(t *testing.T) {
	err := NewError("core_bus.call", Invalid, "invalid queue depth")

	if err.Op != "core_bus.call" {
		t.Errorf("Expected Op=core_bus.call, got %s", err.Op)
	}
	if err.Code != Invalid {
		t.Errorf("Expected Code=Invalid, got %s", err.Code)
	}

	expected := "corebus: invalid queue depth (op=core_bus.call)"
	if err.Error() != expected {
		t.Errorf("Expected error message %q, got %q", expected, err.Error())
	}
}

func TestRPCError(t *testing.T) {
	err := NewRPCError("core_bus.call", "aws.greengrass.PublishToIoTCore", "publish", 7, Remote, "remote handler failed")

	if err.Interface != "aws.greengrass.PublishToIoTCore" {
		t.Errorf("Expected Interface set, got %s", err.Interface)
	}
	if err.Handle != 7 {
		t.Errorf("Expected Handle=7, got %d", err.Handle)
	}
	if err.Code != Remote {
		t.Errorf("Expected Code=Remote, got %s", err.Code)
	}
}

func TestWrapError(t *testing.T) {
	inner := io.ErrUnexpectedEOF
	err := WrapError("wire.read_frame", inner)

	if err.Code != Failure {
		t.Errorf("Expected Code=Failure, got %s", err.Code)
	}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Error("Expected wrapped error to satisfy errors.Is for the inner error")
	}
}

func TestWrapErrorPreservesStructuredCode(t *testing.T) {
	inner := NewError("arena.alloc", Nomem, "out of memory")
	err := WrapError("arena.claim_obj", inner)

	if err.Code != Nomem {
		t.Errorf("Expected wrapped code to carry through as Nomem, got %s", err.Code)
	}
}

func TestWrapErrorNil(t *testing.T) {
	if WrapError("op", nil) != nil {
		t.Error("WrapError(op, nil) should return nil")
	}
}

func TestIsCode(t *testing.T) {
	err := NewError("core_bus.call", NoConn, "connection closed")

	if !IsCode(err, NoConn) {
		t.Error("IsCode should return true for matching code")
	}
	if IsCode(err, Invalid) {
		t.Error("IsCode should return false for non-matching code")
	}
	if IsCode(nil, NoConn) {
		t.Error("IsCode should return false for nil error")
	}
}

func TestCodeString(t *testing.T) {
	cases := map[Code]string{
		Ok:          "ok",
		Failure:     "failure",
		Nomem:       "nomem",
		NoEntry:     "noentry",
		Invalid:     "invalid",
		Parse:       "parse",
		Unsupported: "unsupported",
		Range:       "range",
		NoConn:      "noconn",
		Remote:      "remote",
		Retry:       "retry",
		Expected:    "expected",
		NoData:      "nodata",
		Fatal:       "fatal",
	}
	for code, want := range cases {
		if got := code.String(); got != want {
			t.Errorf("Code(%d).String() = %q, want %q", code, got, want)
		}
	}
}

func TestErrorUnwrapNilInner(t *testing.T) {
	err := NewError("op", Failure, "no inner error")
	if err.Unwrap() != nil {
		t.Error("Unwrap should return nil when Inner is unset")
	}
}

func TestErrorIs(t *testing.T) {
	a := NewError("op_a", NoConn, "closed")
	b := NewError("op_b", NoConn, "also closed")
	c := NewError("op_c", Invalid, "different code")

	if !errors.Is(a, b) {
		t.Error("errors with the same Code should satisfy errors.Is")
	}
	if errors.Is(a, c) {
		t.Error("errors with different Codes should not satisfy errors.Is")
	}
}
