// Package index orchestrates the whole hybrid engine: it owns the
// vector set, deletion set, BKT forest, neighbor graph, workspace
// pool, and parameter table, and serializes growth against concurrent
// search the way repository/repository.go in the teacher serializes
// writes against concurrent reads of a backing store.
package index

import (
	"math/rand"
	"sync"

	"github.com/annidx/annidx/bkt"
	"github.com/annidx/annidx/deletionset"
	"github.com/annidx/annidx/distance"
	"github.com/annidx/annidx/graph"
	"github.com/annidx/annidx/logging"
	"github.com/annidx/annidx/params"
	"github.com/annidx/annidx/vectorset"
	"github.com/annidx/annidx/workspace"
	"github.com/google/uuid"
)

// Coordinator owns every component of one in-memory index instance
// over element type T. Lock discipline (spec.md §5), acquired in this
// order and never reversed: addMu, then delMu, then the forest's own
// lock (owned by *bkt.Forest, acquired deep inside Search/rebuild).
type Coordinator[T distance.Numeric] struct {
	ID uuid.UUID

	addMu sync.Mutex
	delMu sync.RWMutex

	vectors   *vectorset.Set[T]
	deletions *deletionset.Set
	forest    *bkt.Forest
	graphData *graph.Graph
	pool      *workspace.Pool

	Log *logging.Logger

	ready bool
	dim   int

	cfg Config

	distF64 distance.FuncF64

	insertedSinceRebuild int
	rebuildQueued        chan struct{}
	rebuildWG            sync.WaitGroup

	metadata  map[int32][]byte
	metaToVec map[string]int32

	Params *params.Table
}

// Config holds every SetParameter-tunable knob (spec.md §6), with
// defaults matching typical SPTAG BKT index configuration.
type Config struct {
	DistCalcMethod   distance.Method
	NumberOfThreads  int
	BKTNumber        int
	BKTKmeansK       int
	BKTLeafSize      int
	Samples          int
	NeighborhoodSize int
	CEF              int
	AddCEF           int

	MaxCheckForRefineGraph int
	MaxCheck               int
	InitialDynamicPivots   int
	OtherDynamicPivots     int
	ContinuousLimit        int

	AddCountForRebuild int

	DataPointsFilename       string
	BKTFilename              string
	GraphFilename            string
	DeleteDataPointsFilename string
	MetadataFile             string
	MetadataIndexFile        string
}

// DefaultConfig returns the coordinator's out-of-the-box parameter
// values.
func DefaultConfig() Config {
	return Config{
		DistCalcMethod:           distance.L2,
		NumberOfThreads:          4,
		BKTNumber:                1,
		BKTKmeansK:               32,
		BKTLeafSize:              8,
		Samples:                  1000,
		NeighborhoodSize:         32,
		CEF:                      80,
		AddCEF:                   500,
		MaxCheckForRefineGraph:   8192,
		MaxCheck:                 8192,
		InitialDynamicPivots:     16,
		OtherDynamicPivots:       4,
		ContinuousLimit:          64,
		AddCountForRebuild:       1000,
		DataPointsFilename:       "vectors",
		BKTFilename:              "tree",
		GraphFilename:            "graph",
		DeleteDataPointsFilename: "deletions",
		MetadataFile:             "meta",
		MetadataIndexFile:        "meta_index",
	}
}

// New creates an unbuilt Coordinator. Call Build or Load before
// Search/Add.
func New[T distance.Numeric](cfg Config) *Coordinator[T] {
	c := &Coordinator[T]{
		ID:            uuid.New(),
		cfg:           cfg,
		Log:           logging.NewLogger(nil, nil),
		rebuildQueued: make(chan struct{}, 1),
		metadata:      make(map[int32][]byte),
		metaToVec:     make(map[string]int32),
	}
	c.bindParams()
	c.startRebuildWorker()
	return c
}

func (c *Coordinator[T]) bindParams() {
	c.Params = params.NewTable(
		params.Descriptor{Name: "DistCalcMethod",
			Get: func() string { return c.cfg.DistCalcMethod.String() },
			Set: func(v string) error {
				m, err := distance.ParseMethod(v)
				if err != nil {
					return err
				}
				c.cfg.DistCalcMethod = m
				return nil
			}},
		params.Descriptor{Name: "NumberOfThreads", Get: params.IntGetter(&c.cfg.NumberOfThreads), Set: params.IntSetter(&c.cfg.NumberOfThreads)},
		params.Descriptor{Name: "BKTNumber", Get: params.IntGetter(&c.cfg.BKTNumber), Set: params.IntSetter(&c.cfg.BKTNumber)},
		params.Descriptor{Name: "BKTKmeansK", Get: params.IntGetter(&c.cfg.BKTKmeansK), Set: params.IntSetter(&c.cfg.BKTKmeansK)},
		params.Descriptor{Name: "BKTLeafSize", Get: params.IntGetter(&c.cfg.BKTLeafSize), Set: params.IntSetter(&c.cfg.BKTLeafSize)},
		params.Descriptor{Name: "Samples", Get: params.IntGetter(&c.cfg.Samples), Set: params.IntSetter(&c.cfg.Samples)},
		params.Descriptor{Name: "NeighborhoodSize", Get: params.IntGetter(&c.cfg.NeighborhoodSize), Set: params.IntSetter(&c.cfg.NeighborhoodSize)},
		params.Descriptor{Name: "CEF", Get: params.IntGetter(&c.cfg.CEF), Set: params.IntSetter(&c.cfg.CEF)},
		params.Descriptor{Name: "AddCEF", Get: params.IntGetter(&c.cfg.AddCEF), Set: params.IntSetter(&c.cfg.AddCEF)},
		params.Descriptor{Name: "MaxCheckForRefineGraph", Get: params.IntGetter(&c.cfg.MaxCheckForRefineGraph), Set: params.IntSetter(&c.cfg.MaxCheckForRefineGraph)},
		params.Descriptor{Name: "MaxCheck", Get: params.IntGetter(&c.cfg.MaxCheck), Set: params.IntSetter(&c.cfg.MaxCheck)},
		params.Descriptor{Name: "NumberOfInitialDynamicPivots", Get: params.IntGetter(&c.cfg.InitialDynamicPivots), Set: params.IntSetter(&c.cfg.InitialDynamicPivots)},
		params.Descriptor{Name: "NumberOfOtherDynamicPivots", Get: params.IntGetter(&c.cfg.OtherDynamicPivots), Set: params.IntSetter(&c.cfg.OtherDynamicPivots)},
		params.Descriptor{Name: "ContinuousLimit", Get: params.IntGetter(&c.cfg.ContinuousLimit), Set: params.IntSetter(&c.cfg.ContinuousLimit)},
		params.Descriptor{Name: "AddCountForRebuild", Get: params.IntGetter(&c.cfg.AddCountForRebuild), Set: params.IntSetter(&c.cfg.AddCountForRebuild)},
		params.Descriptor{Name: "DataPointsFilename", Get: params.StringGetter(&c.cfg.DataPointsFilename), Set: params.StringSetter(&c.cfg.DataPointsFilename)},
		params.Descriptor{Name: "BKTFilename", Get: params.StringGetter(&c.cfg.BKTFilename), Set: params.StringSetter(&c.cfg.BKTFilename)},
		params.Descriptor{Name: "GraphFilename", Get: params.StringGetter(&c.cfg.GraphFilename), Set: params.StringSetter(&c.cfg.GraphFilename)},
		params.Descriptor{Name: "DeleteDataPointsFilename", Get: params.StringGetter(&c.cfg.DeleteDataPointsFilename), Set: params.StringSetter(&c.cfg.DeleteDataPointsFilename)},
		params.Descriptor{Name: "MetadataFile", Get: params.StringGetter(&c.cfg.MetadataFile), Set: params.StringSetter(&c.cfg.MetadataFile)},
		params.Descriptor{Name: "MetadataIndexFile", Get: params.StringGetter(&c.cfg.MetadataIndexFile), Set: params.StringSetter(&c.cfg.MetadataIndexFile)},
	)
}

// SetParameter applies a string-keyed configuration value. Unknown
// keys are ignored (spec.md §6).
func (c *Coordinator[T]) SetParameter(name, value string) ErrorCode {
	if err := c.Params.Set(name, value); err != nil {
		return FailedParseValue
	}
	return Success
}

// GetParameter returns the current value of name, or "" if unset or
// unknown.
func (c *Coordinator[T]) GetParameter(name string) string {
	return c.Params.Get(name)
}

func (c *Coordinator[T]) vectorF64(id int32) []float64 {
	row := c.vectors.Get(int(id))
	out := make([]float64, len(row))
	for i, v := range row {
		out[i] = float64(v)
	}
	return out
}

func (c *Coordinator[T]) pairDist(a, b int32) float64 {
	return c.distF64(c.vectorF64(a), c.vectorF64(b))
}

func (c *Coordinator[T]) isLive(id int32) bool {
	return !c.deletions.Contains(id)
}

func (c *Coordinator[T]) bktOps() bkt.Ops {
	return bkt.Ops{Vector: c.vectorF64, Dist: c.distF64}
}

func (c *Coordinator[T]) bktOptions() bkt.Options {
	return bkt.Options{
		NumTrees:         c.cfg.BKTNumber,
		BranchFactor:     c.cfg.BKTKmeansK,
		LeafSize:         c.cfg.BKTLeafSize,
		MaxKmeansIters:   16,
		BalanceTolerance: 0.35,
	}
}

// Build initializes the index from a fresh batch of n vectors of
// dimension d. Fails with EmptyData if n or d is zero.
func (c *Coordinator[T]) Build(data []T, n, d int) ErrorCode {
	if n == 0 || d == 0 {
		return EmptyData
	}

	c.addMu.Lock()
	defer c.addMu.Unlock()
	c.delMu.Lock()
	defer c.delMu.Unlock()

	c.dim = d
	c.distF64 = distance.SelectF64(c.cfg.DistCalcMethod, distance.Base[T]())

	c.vectors = vectorset.New[T](d)
	if _, err := c.vectors.Append(data); err != nil {
		return Fail
	}
	if c.cfg.DistCalcMethod == distance.Cosine {
		c.vectors.Normalize(0, n, distance.Base[T]())
	}
	c.deletions = deletionset.New()

	ids := make([]int32, n)
	for i := range ids {
		ids[i] = int32(i)
	}

	rng := rand.New(rand.NewSource(1))
	c.forest = bkt.Build(ids, c.bktOptions(), c.bktOps(), rng)
	c.graphData = graph.BuildGraph(ids, c.forest, c.pairDist, rng, c.cfg.NeighborhoodSize, c.cfg.CEF, c.isLive)

	c.pool = workspace.NewPool(c.cfg.NumberOfThreads, n, 16)
	c.ready = true
	c.insertedSinceRebuild = 0

	c.Log.Info("build: %d vectors, dim %d", n, d)
	return Success
}
