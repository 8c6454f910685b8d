// Package attach stores report attachments. The engine only ever sees opaque
// refs; the submission rows carry lists of them.
package attach

import (
	"context"
	"errors"
	"io"
)

// ErrNotExist is returned when a ref does not resolve to a stored file.
var ErrNotExist = errors.New("attachment does not exist")

// Store is the attachment backend. Put returns a ref that is stable for the
// life of the file; Delete of an unknown ref returns ErrNotExist.
type Store interface {
	Put(ctx context.Context, name string, r io.Reader) (string, error)
	Open(ctx context.Context, ref string) (io.ReadCloser, error)
	Delete(ctx context.Context, ref string) error
}
