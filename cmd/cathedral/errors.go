package main

import (
	"github.com/cathedral-fabric/fabric/internal/kernel/kerr"
)

// exitCodeErr carries the process exit code a command wants, per spec §6:
// 0 success, 1 user error, 2 verification failure (hash chain, replay
// mismatch, certificate invalid), 3 denied by policy/capability.
type exitCodeErr struct {
	code int
	err  error
}

func (e *exitCodeErr) Error() string { return e.err.Error() }
func (e *exitCodeErr) Unwrap() error { return e.err }

func userErr(err error) error   { return &exitCodeErr{code: 1, err: err} }
func verifyErr(err error) error { return &exitCodeErr{code: 2, err: err} }
func deniedErr(err error) error { return &exitCodeErr{code: 3, err: err} }

// classify maps a kerr.Kind to the spec §6 exit code its failure implies;
// anything unrecognized (or not a *kerr.Error at all) is a plain user
// error.
func classify(err error) error {
	if err == nil {
		return nil
	}
	ke, ok := err.(*kerr.Error)
	if !ok {
		return userErr(err)
	}
	switch ke.Kind {
	case kerr.PolicyDenied, kerr.CapabilityDenied:
		return deniedErr(err)
	case kerr.StateHashMismatch, kerr.ReplayDiverged, kerr.BundleCorrupted,
		kerr.BundleValidationFailed, kerr.BrokenLink, kerr.ReorderedEvent,
		kerr.MissingHash, kerr.InvalidHash, kerr.SnapshotCorrupted, kerr.BlobCorrupted:
		return verifyErr(err)
	default:
		return userErr(err)
	}
}

func exitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	var ece *exitCodeErr
	if e, ok := err.(*exitCodeErr); ok {
		ece = e
	}
	if ece != nil {
		return ece.code
	}
	return 1
}

// FormatError prints err in the teacher CLI's "Error: <message>" style.
func FormatError(w interface{ Write([]byte) (int, error) }, err error, useColor bool) {
	if err == nil {
		return
	}
	msg := Colorize("Error: ", ColorRed, useColor) + err.Error() + "\n"
	_, _ = w.Write([]byte(msg))
}
