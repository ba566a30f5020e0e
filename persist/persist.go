// Package persist frames every snapshot blob this index writes
// (vectors, tree, graph, deletions, metadata) with the same fixed
// little-endian header and checksummed footer, so stream and folder
// persistence forms share identical bytes. Grounded on the teacher's
// storage/serialization.go header/footer split, simplified from its
// streaming HMAC to a whole-buffer BLAKE3 checksum since our blobs are
// built and consumed entirely in memory rather than streamed
// incrementally.
package persist

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/annidx/annidx/resources"
	"github.com/annidx/annidx/versioning"
	"github.com/zeebo/blake3"
)

const (
	HeaderSize = 24
	FooterSize = 8
)

var magic = [8]byte{'_', 'A', 'N', 'N', 'I', 'D', 'X', '_'}

// Header is the fixed 24-byte preamble of every blob: 8-byte magic,
// then resource kind, format version, element count and dimension (0
// where not applicable) as little-endian uint32s.
type Header struct {
	Resource  resources.Type
	Version   versioning.Version
	Count     uint32
	Dimension uint32
}

func (h Header) encode() []byte {
	buf := make([]byte, HeaderSize)
	copy(buf[0:8], magic[:])
	binary.LittleEndian.PutUint32(buf[8:12], uint32(h.Resource))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(h.Version))
	binary.LittleEndian.PutUint32(buf[16:20], h.Count)
	binary.LittleEndian.PutUint32(buf[20:24], h.Dimension)
	return buf
}

func decodeHeader(buf []byte, want resources.Type) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("persist: truncated header")
	}
	if string(buf[0:8]) != string(magic[:]) {
		return Header{}, fmt.Errorf("persist: bad magic")
	}
	resource := resources.Type(binary.LittleEndian.Uint32(buf[8:12]))
	if resource != want {
		return Header{}, fmt.Errorf("persist: expected resource %s, got %s", want, resource)
	}
	return Header{
		Resource:  resource,
		Version:   versioning.Version(binary.LittleEndian.Uint32(buf[12:16])),
		Count:     binary.LittleEndian.Uint32(buf[16:20]),
		Dimension: binary.LittleEndian.Uint32(buf[20:24]),
	}, nil
}

// Write frames body with a header for the given resource kind and a
// trailing 8-byte BLAKE3 checksum of header+body, and writes the
// result to w.
func Write(w io.Writer, resource resources.Type, count, dimension uint32, body []byte) error {
	h := Header{
		Resource:  resource,
		Version:   versioning.GetCurrentVersion(resource),
		Count:     count,
		Dimension: dimension,
	}
	header := h.encode()

	hasher := blake3.New()
	hasher.Write(header)
	hasher.Write(body)
	sum := hasher.Sum(nil)[:FooterSize]

	if _, err := w.Write(header); err != nil {
		return err
	}
	if _, err := w.Write(body); err != nil {
		return err
	}
	_, err := w.Write(sum)
	return err
}

// Read reads and validates a blob written by Write, returning its
// header and body with the checksum stripped.
func Read(r io.Reader, resource resources.Type) (Header, []byte, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Header{}, nil, err
	}
	if len(data) < HeaderSize+FooterSize {
		return Header{}, nil, fmt.Errorf("persist: blob too short")
	}

	header := data[:HeaderSize]
	body := data[HeaderSize : len(data)-FooterSize]
	footer := data[len(data)-FooterSize:]

	hasher := blake3.New()
	hasher.Write(header)
	hasher.Write(body)
	sum := hasher.Sum(nil)[:FooterSize]
	for i := range sum {
		if sum[i] != footer[i] {
			return Header{}, nil, fmt.Errorf("persist: checksum mismatch")
		}
	}

	h, err := decodeHeader(header, resource)
	if err != nil {
		return Header{}, nil, err
	}
	return h, body, nil
}
