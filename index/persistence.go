package index

import (
	"io"
	"os"
	"path/filepath"

	"github.com/annidx/annidx/bkt"
	"github.com/annidx/annidx/deletionset"
	"github.com/annidx/annidx/distance"
	"github.com/annidx/annidx/graph"
	"github.com/annidx/annidx/persist"
	"github.com/annidx/annidx/resources"
	"github.com/annidx/annidx/vectorset"
	"github.com/annidx/annidx/versioning"
	"github.com/annidx/annidx/workspace"
	"github.com/vmihailenco/msgpack/v5"
)

func init() {
	versioning.Register(resources.RT_METADATA, versioning.FromString("1.0.0"))
	versioning.Register(resources.RT_METADATA_INDEX, versioning.FromString("1.0.0"))
}

// Save writes every component blob (vectors, tree, graph, deletions,
// metadata) into dir, one file per component named after the
// corresponding DataPointsFilename/BKTFilename/GraphFilename/
// DeleteDataPointsFilename/MetadataFile/MetadataIndexFile parameters.
// Held locks mirror the coordinator's normal acquisition order so a
// concurrent Add or Delete never observes a torn snapshot.
func (c *Coordinator[T]) Save(dir string) ErrorCode {
	if !c.ready {
		return EmptyIndex
	}

	c.addMu.Lock()
	defer c.addMu.Unlock()
	c.delMu.Lock()
	defer c.delMu.Unlock()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return FailedCreateFile
	}

	if err := writeBlob(filepath.Join(dir, c.cfg.DataPointsFilename), c.vectors.Save); err != nil {
		return FailedCreateFile
	}
	if err := writeBlob(filepath.Join(dir, c.cfg.BKTFilename), c.forest.Save); err != nil {
		return FailedCreateFile
	}
	if err := writeBlob(filepath.Join(dir, c.cfg.GraphFilename), c.graphData.Save); err != nil {
		return FailedCreateFile
	}
	if err := writeBlob(filepath.Join(dir, c.cfg.DeleteDataPointsFilename), c.deletions.Save); err != nil {
		return FailedCreateFile
	}
	if len(c.metadata) == 0 {
		return Success
	}
	flat, entries := c.collectMetadata()
	if err := writeBlob(filepath.Join(dir, c.cfg.MetadataFile), func(w io.Writer) error {
		return persist.Write(w, resources.RT_METADATA, uint32(len(entries)), 0, flat)
	}); err != nil {
		return FailedCreateFile
	}
	if err := writeBlob(filepath.Join(dir, c.cfg.MetadataIndexFile), func(w io.Writer) error {
		body, err := msgpack.Marshal(entries)
		if err != nil {
			return err
		}
		return persist.Write(w, resources.RT_METADATA_INDEX, uint32(len(entries)), 0, body)
	}); err != nil {
		return FailedCreateFile
	}
	return Success
}

func writeBlob(path string, save func(w io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return save(f)
}

// readBlob opens path and decodes it with load, distinguishing the two
// failure classes spec.md §7 separates: the file could not be opened
// at all (Fail — nothing to parse), or it opened but failed to decode
// (FailedParseValue — a truncated/corrupt/checksum-mismatched blob).
func readBlob[V any](path string, load func(r io.Reader) (V, error)) (V, ErrorCode) {
	var zero V
	f, err := os.Open(path)
	if err != nil {
		return zero, Fail
	}
	defer f.Close()
	v, err := load(f)
	if err != nil {
		return zero, FailedParseValue
	}
	return v, Success
}

// metaIndexEntry locates one vector's metadata inside the flat meta
// blob, mirroring how objects/packfile separates a flat data blob from
// an offset/length index array rather than interleaving ids with
// values in one stream.
type metaIndexEntry struct {
	ID     int32
	Offset uint32
	Length uint32
}

// collectMetadata flattens c.metadata into a single byte blob plus a
// parallel index of (id, offset, length) entries, in ascending id
// order for a deterministic on-disk layout.
func (c *Coordinator[T]) collectMetadata() (flat []byte, entries []metaIndexEntry) {
	ids := make([]int32, 0, len(c.metadata))
	for id := range c.metadata {
		ids = append(ids, id)
	}
	sortInt32s(ids)

	entries = make([]metaIndexEntry, 0, len(ids))
	for _, id := range ids {
		v := c.metadata[id]
		entries = append(entries, metaIndexEntry{ID: id, Offset: uint32(len(flat)), Length: uint32(len(v))})
		flat = append(flat, v...)
	}
	return flat, entries
}

func sortInt32s(ids []int32) {
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j] < ids[j-1]; j-- {
			ids[j], ids[j-1] = ids[j-1], ids[j]
		}
	}
}

// Load reads back an index previously written by Save into a new
// Coordinator using cfg for its tunable parameters.
func Load[T distance.Numeric](dir string, cfg Config) (*Coordinator[T], ErrorCode) {
	c := New[T](cfg)

	vectors, code := readBlob(filepath.Join(dir, cfg.DataPointsFilename), vectorset.Load[T])
	if code != Success {
		return nil, code
	}
	forest, code := readBlob(filepath.Join(dir, cfg.BKTFilename), bkt.Load)
	if code != Success {
		return nil, code
	}
	graphData, code := readBlob(filepath.Join(dir, cfg.GraphFilename), graph.Load)
	if code != Success {
		return nil, code
	}
	deletions, code := readBlob(filepath.Join(dir, cfg.DeleteDataPointsFilename), deletionset.Load)
	if code != Success {
		return nil, code
	}

	c.vectors = vectors
	c.forest = forest
	c.graphData = graphData
	c.deletions = deletions
	c.dim = vectors.Dim()
	c.distF64 = distance.SelectF64(cfg.DistCalcMethod, distance.Base[T]())
	c.pool = workspace.NewPool(cfg.NumberOfThreads, vectors.Len(), 16)

	if code := c.loadMetadata(filepath.Join(dir, cfg.MetadataFile), filepath.Join(dir, cfg.MetadataIndexFile)); code != Success {
		return nil, code
	}

	c.ready = true
	return c, Success
}

// loadMetadata reads the flat metadata blob and its offset index back
// into c.metadata/c.metaToVec. Neither file is required to exist —
// mirrors the original's `nullptr != m_pMetadata` guard, since an
// index built without any metadata never writes them (see Save).
func (c *Coordinator[T]) loadMetadata(metaPath, indexPath string) ErrorCode {
	flat, flatCode := readOptionalBlob(metaPath, resources.RT_METADATA)
	if flatCode == Fail {
		return Success
	}
	if flatCode != Success {
		return flatCode
	}
	indexBody, indexCode := readOptionalBlob(indexPath, resources.RT_METADATA_INDEX)
	if indexCode == Fail {
		return Success
	}
	if indexCode != Success {
		return indexCode
	}

	var entries []metaIndexEntry
	if err := msgpack.Unmarshal(indexBody, &entries); err != nil {
		return FailedParseValue
	}
	for _, e := range entries {
		if uint64(e.Offset)+uint64(e.Length) > uint64(len(flat)) {
			return FailedParseValue
		}
		v := append([]byte(nil), flat[e.Offset:e.Offset+e.Length]...)
		c.metadata[e.ID] = v
		c.metaToVec[string(v)] = e.ID
	}
	return Success
}

// readOptionalBlob behaves like readBlob, except a missing file is
// reported as Fail so callers can treat "file absent" as "nothing to
// load" rather than a hard parse error.
func readOptionalBlob(path string, resource resources.Type) ([]byte, ErrorCode) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Fail
	}
	defer f.Close()
	_, body, err := persist.Read(f, resource)
	if err != nil {
		return nil, FailedParseValue
	}
	return body, Success
}

// GetMetadata returns the metadata bytes stored for id at Add time,
// or nil if none was stored.
func (c *Coordinator[T]) GetMetadata(id int32) []byte {
	c.delMu.RLock()
	defer c.delMu.RUnlock()
	return c.metadata[id]
}
