package codec

import (
	"errors"
	"fmt"
	"strings"
)

// ErrArchiveInvalid marks an archive that holds no usable database.
// It is the only hard decode failure; use errors.Is to detect it.
var ErrArchiveInvalid = errors.New("archive invalid")

// ArchiveError describes why an archive could not be decoded.
type ArchiveError struct {
	Reason  string
	Entries []string
	Err     error
}

func (e *ArchiveError) Error() string {
	var b strings.Builder
	b.WriteString(ErrArchiveInvalid.Error())
	b.WriteString(": ")
	b.WriteString(e.Reason)
	if len(e.Entries) > 0 {
		fmt.Fprintf(&b, " (entries: %s)", strings.Join(e.Entries, ", "))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Is reports ArchiveError as ErrArchiveInvalid.
func (e *ArchiveError) Is(target error) bool {
	return target == ErrArchiveInvalid
}

func (e *ArchiveError) Unwrap() error {
	return e.Err
}
