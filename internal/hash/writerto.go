package hash

import (
	"encoding/binary"
	"io"
)

// WriterToWithDomain represents a type writing itself, and knowing its domain.
//
// Providing a domain string lets us distinguish the output of different types
// implementing this same interface.
type WriterToWithDomain interface {
	io.WriterTo

	// Domain returns a context string, which should be unique for each implementor
	Domain() string
}

// writeWithDomain writes out `(<domain><len><data>)`. The object is buffered
// first so that its length can be framed.
func writeWithDomain(w io.Writer, object WriterToWithDomain) error {
	var buf lengthBuffer
	if _, err := object.WriteTo(&buf); err != nil {
		return err
	}
	var length [8]byte
	binary.BigEndian.PutUint64(length[:], uint64(len(buf)))

	for _, part := range [][]byte{[]byte("("), []byte(object.Domain()), length[:], buf, []byte(")")} {
		if _, err := w.Write(part); err != nil {
			return err
		}
	}
	return nil
}

type lengthBuffer []byte

func (b *lengthBuffer) Write(p []byte) (int, error) {
	*b = append(*b, p...)
	return len(p), nil
}

// BytesWithDomain is a useful wrapper to annotate some chunk of data with a domain.
type BytesWithDomain struct {
	TheDomain string
	Bytes     []byte
}

// WriteTo implements io.WriterTo.
func (b BytesWithDomain) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(b.Bytes)
	return int64(n), err
}

// Domain implements WriterToWithDomain.
func (b BytesWithDomain) Domain() string {
	return b.TheDomain
}
