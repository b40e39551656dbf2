package logfields

import (
	"log/slog"
	"time"
)

// Canonical log field name constants to avoid drift across packages.
const (
	KeyProject    = "project"
	KeyNamespace  = "namespace"
	KeyImage      = "image"
	KeyRemote     = "remote_image"
	KeyRunID      = "run_id"
	KeyPhase      = "phase"
	KeyPod        = "pod"
	KeyCommand    = "command"
	KeyExitCode   = "exit_code"
	KeyDurationMS = "duration_ms"
	KeyPath       = "path"
	KeyOp         = "op"
	KeyReason     = "reason"
	KeyError      = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func Project(name string) slog.Attr    { return slog.String(KeyProject, name) }
func Namespace(ns string) slog.Attr    { return slog.String(KeyNamespace, ns) }
func Image(ref string) slog.Attr       { return slog.String(KeyImage, ref) }
func RemoteImage(ref string) slog.Attr { return slog.String(KeyRemote, ref) }
func RunID(id string) slog.Attr        { return slog.String(KeyRunID, id) }
func Phase(p string) slog.Attr         { return slog.String(KeyPhase, p) }
func Pod(name string) slog.Attr        { return slog.String(KeyPod, name) }
func Command(argv0 string) slog.Attr   { return slog.String(KeyCommand, argv0) }
func ExitCode(code int) slog.Attr      { return slog.Int(KeyExitCode, code) }
func Path(p string) slog.Attr          { return slog.String(KeyPath, p) }
func Op(op string) slog.Attr           { return slog.String(KeyOp, op) }
func Reason(r string) slog.Attr        { return slog.String(KeyReason, r) }

// Duration renders d in milliseconds under the canonical duration key.
func Duration(d time.Duration) slog.Attr {
	return slog.Float64(KeyDurationMS, float64(d)/float64(time.Millisecond))
}

func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
