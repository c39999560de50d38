// Package dxerr defines the error codes surfaced by dx-docker. Every failure that
// reaches the command line carries one of these codes and a message naming the
// reference or path that failed.
package dxerr

import (
	"fmt"

	errs "github.com/jmgilman/go/errors"
)

const (
	MalformedReference         errs.ErrorCode = "MALFORMED_REFERENCE"
	UnsupportedDigestAlgorithm errs.ErrorCode = "UNSUPPORTED_DIGEST_ALGORITHM"
	RegistryUnreachable        errs.ErrorCode = "REGISTRY_UNREACHABLE"
	ImageNotFound              errs.ErrorCode = "IMAGE_NOT_FOUND"
	ManifestInvalid            errs.ErrorCode = "MANIFEST_INVALID"
	ConversionFailed           errs.ErrorCode = "CONVERSION_FAILED"
	LaunchFailed               errs.ErrorCode = "LAUNCH_FAILED"
	DestinationInvalid         errs.ErrorCode = "DESTINATION_INVALID"
	UploadFailed               errs.ErrorCode = "UPLOAD_FAILED"
)

// New returns a coded error with a formatted message.
func New(code errs.ErrorCode, format string, args ...any) error {
	return errs.Newf(code, format, args...)
}

// Wrap returns a coded error wrapping 'err', or nil if 'err' is nil.
func Wrap(err error, code errs.ErrorCode, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return errs.Wrap(err, code, fmt.Sprintf(format, args...))
}

// Code returns the code of the outermost coded error in the chain, or the
// empty string if there is none.
func Code(err error) errs.ErrorCode {
	if err == nil {
		return ""
	}
	code := errs.GetCode(err)
	if code == errs.CodeUnknown {
		return ""
	}
	return code
}

// Is reports whether any error in the chain of 'err' carries 'code'.
func Is(err error, code errs.ErrorCode) bool {
	for err != nil {
		var pe errs.PlatformError
		if !errs.As(err, &pe) {
			return false
		}
		if pe.Code() == code {
			return true
		}
		err = pe.Unwrap()
	}
	return false
}

// Message returns the message of the outermost coded error without the code
// prefix, or err.Error() for an uncoded error.
func Message(err error) string {
	var pe errs.PlatformError
	if errs.As(err, &pe) {
		if cause := pe.Unwrap(); cause != nil {
			return fmt.Sprintf("%s: %s", pe.Message(), Message(cause))
		}
		return pe.Message()
	}
	return err.Error()
}
