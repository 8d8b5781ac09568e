package vma

import "github.com/bgrewell/vma-kit/internal/vmaerr"

// Error types returned by Extract, re-exported from internal/vmaerr so
// both the core components and external callers share one definition.
type (
	IoError       = vmaerr.IoError
	FormatError   = vmaerr.FormatError
	ChecksumError = vmaerr.ChecksumError
	ConflictError = vmaerr.ConflictError
	ResourceError = vmaerr.ResourceError
)

// ExitCode maps an error returned by Extract to the process exit code a
// CLI collaborator should use: 0 success, 1 usage, 2 checksum mismatch, 3
// format/parse error, 4 I/O error.
func ExitCode(err error) int {
	return vmaerr.ExitCode(err)
}
