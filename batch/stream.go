// Package batch packs the sentences of a corpus into fixed-shape minibatches.
//
// A Stream reads chunks of sentences from a corpus.Cursor, schedules up to Slots sentences
// at a time (optionally only sentences of equal length), and lays them out time-major:
// column j of a minibatch holds slot j % slots at step j / slots. Each cell carries a
// BoundaryFlag (sentence begin, middle or padding) and each step a PackingFlag summary.
//
// The usual loop, for each epoch:
//
//	if err := stream.StartEpoch(mbSize, epoch, epochSamples); err != nil { ... }
//	for {
//		more, err := stream.GetMinibatch(matrices)
//		if err != nil { ... }
//		if !more {
//			break
//		}
//		// ... train on matrices ...
//		if _, err := stream.DataEnd(batch.EndDataSentence); err != nil { ... }
//	}
//
// A MultiStream feeds several named streams in lockstep.
package batch

import (
	"fmt"
	"slices"

	"github.com/gomlx/seqbatch/corpus"
	"github.com/gomlx/seqbatch/vocab"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// unset marks a slot whose sentence end was not reached.
const unset = -1

// Options configures a Stream.
type Options struct {
	// FeaturesName is the name of the feature buffer filled by GetMinibatch.
	FeaturesName string

	// InputLabelName and OutputLabelName name the label streams. The output label buffer is
	// filled by GetMinibatch, if present.
	InputLabelName, OutputLabelName string

	// WordContext lists the token offsets concatenated into each feature column. Defaults to [0].
	WordContext []int

	// Slots is the number of sentences packed in parallel. Defaults to 1.
	Slots int

	// Randomize shuffles each chunk read from the corpus.
	Randomize bool

	// EqualLength packs only sentences of the same length together.
	EqualLength bool

	// DataMultiPass rewinds the chunk when it is exhausted before the epoch sample target.
	DataMultiPass bool

	// IgnoreSentenceBeginTag leaves the first step of sentences flagged as SentenceMiddle.
	IgnoreSentenceBeginTag bool

	// ChunkSize is the number of sentences read from the cursor at a time. Defaults to 50000.
	ChunkSize int

	// TraceLevel > 0 logs the stream progress at the default klog level, instead of V(1).
	TraceLevel int
}

// DefaultChunkSize is the default Options.ChunkSize.
const DefaultChunkSize = 50000

// Stream assembles the minibatches of one corpus. It is not safe for concurrent use.
type Stream struct {
	opts        Options
	in, out     *vocab.LabelInfo
	cursor      corpus.Cursor
	emitter     labelEmitter
	centerIndex int

	// Epoch loop.
	mbSize             int
	epochSize          int
	epoch              int
	startedAtEpochZero bool
	seed               int64

	// Scheduling state over the current chunk.
	chunk                 *corpus.Chunk
	processed             []bool
	toProcess             []int
	lastProcessedSentence int
	lastPosInSentence     int
	maxSentenceLength     int
	sentenceLength        []int
	sentenceBeginAt       []int
	sentenceEndAt         []int
	totalSentences        int
	totalSamples          int
	numRead               int

	// Packed data of the scheduled set, in column order.
	featureData  []int
	contexts     [][]int
	labelIDs     []int
	boundary     *Dense
	packingFlags []PackingFlag

	// Saved buffers for proposals, see InitProposals.
	saved map[string]*Dense
}

// New creates a stream reading from cursor, with in and out the feature and label vocabularies.
// The stream owns the cursor: Close closes it.
func New(cursor corpus.Cursor, in, out *vocab.LabelInfo, opts Options) (*Stream, error) {
	if cursor == nil {
		return nil, errors.New("stream requires a corpus cursor")
	}
	if in == nil || out == nil {
		return nil, errors.New("stream requires both the input and output label information")
	}
	if opts.FeaturesName == "" {
		return nil, errors.New("stream requires a features name")
	}
	if len(opts.WordContext) == 0 {
		opts.WordContext = []int{0}
	}
	if opts.Slots <= 0 {
		opts.Slots = 1
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	emitter, err := newLabelEmitter(out)
	if err != nil {
		return nil, errors.WithMessagef(err, "output label %q", opts.OutputLabelName)
	}
	s := &Stream{
		opts:     opts,
		in:       in,
		out:      out,
		cursor:   cursor,
		emitter:  emitter,
		boundary: NewDense(0, 0),
		saved:    make(map[string]*Dense),
	}
	if idx := slices.Index(opts.WordContext, 0); idx >= 0 {
		s.centerIndex = idx
	}
	s.Reset()
	return s, nil
}

// Options returns the stream options, with defaults filled in.
func (s *Stream) Options() Options {
	return s.opts
}

// Input returns the feature vocabulary.
func (s *Stream) Input() *vocab.LabelInfo { return s.in }

// Output returns the label vocabulary.
func (s *Stream) Output() *vocab.LabelInfo { return s.out }

// StartEpoch starts reading an epoch: mbSize is the maximum number of steps per minibatch and
// epochSamples the target number of samples of the epoch (0 for no limit). The corpus is rewound.
func (s *Stream) StartEpoch(mbSize, epoch, epochSamples int) error {
	if mbSize <= 0 {
		return errors.Errorf("invalid minibatch size %d", mbSize)
	}
	if epochSamples < 0 {
		return errors.Errorf("invalid epoch size %d", epochSamples)
	}
	s.mbSize = mbSize
	s.epochSize = epochSamples
	s.epoch = epoch
	if epoch == 0 {
		s.startedAtEpochZero = true
	}
	s.totalSentences = 0
	s.totalSamples = 0
	s.Reset()
	if err := s.cursor.Reset(); err != nil {
		return errors.WithMessagef(err, "starting epoch %d", epoch)
	}
	s.tracef("epoch %d, minibatch size %d, epoch size %d", epoch, mbSize, epochSamples)
	return nil
}

func (s *Stream) tracef(format string, args ...any) {
	if s.opts.TraceLevel > 0 {
		klog.InfoDepth(1, fmt.Sprintf("stream %q: ", s.opts.FeaturesName)+fmt.Sprintf(format, args...))
	} else if klog.V(1).Enabled() {
		klog.V(1).InfoDepth(1, fmt.Sprintf("stream %q: ", s.opts.FeaturesName)+fmt.Sprintf(format, args...))
	}
}

// Reset drops the buffered chunk and all scheduling state.
func (s *Stream) Reset() {
	s.chunk = nil
	s.processed = nil
	s.toProcess = s.toProcess[:0]
	s.lastProcessedSentence = 0
	s.lastPosInSentence = 0
	s.maxSentenceLength = 0
	s.sentenceLength = s.sentenceLength[:0]
	s.sentenceBeginAt = s.sentenceBeginAt[:0]
	s.sentenceEndAt = s.sentenceEndAt[:0]
	s.numRead = 0
	s.clearPacked()
}

func (s *Stream) clearPacked() {
	s.featureData = s.featureData[:0]
	s.contexts = s.contexts[:0]
	s.labelIDs = s.labelIDs[:0]
}

// SetRandomSeed sets the seed used to shuffle the next chunk. It is incremented after each shuffle.
func (s *Stream) SetRandomSeed(seed int64) {
	s.seed = seed
}

// RandomSeed returns the seed that will shuffle the next chunk.
func (s *Stream) RandomSeed() int64 {
	return s.seed
}

// CanReadFor returns whether the stream serves the named buffer.
func (s *Stream) CanReadFor(name string) bool {
	return name != "" && (name == s.opts.FeaturesName || name == s.opts.InputLabelName || name == s.opts.OutputLabelName)
}

// NumParallelSequences returns the number of slots of the current minibatch, or the
// configured number of slots if nothing was scheduled yet.
func (s *Stream) NumParallelSequences() int {
	if len(s.sentenceBeginAt) == 0 {
		return s.opts.Slots
	}
	return len(s.sentenceBeginAt)
}

// SetNumParallelSequences changes the number of slots for the next scheduled sentences.
func (s *Stream) SetNumParallelSequences(n int) error {
	if n <= 0 {
		return errors.Errorf("invalid number of parallel sequences %d", n)
	}
	s.opts.Slots = n
	return nil
}

// SentenceSegBatch returns copies of the boundary matrix [slots × steps] and of the per-step
// packing flags of the current minibatch.
func (s *Stream) SentenceSegBatch() (*Dense, []PackingFlag) {
	return CopyOf(s.boundary), slices.Clone(s.packingFlags)
}

// SentenceEndIDFromOutputLabel returns the id of the end of sentence marker in the output
// vocabulary, or -1 if it is not there.
func (s *Stream) SentenceEndIDFromOutputLabel() int {
	if id, found := s.out.Lookup(s.out.EndSequence); found && s.out.EndSequence != "" {
		return id
	}
	return -1
}

// Stats are counters of the current epoch.
type Stats struct {
	Epoch     int
	Sentences int
	Samples   int
	Read      int
}

// Stats returns the counters of the current epoch.
func (s *Stream) Stats() Stats {
	return Stats{Epoch: s.epoch, Sentences: s.totalSentences, Samples: s.totalSamples, Read: s.numRead}
}

// Close writes the configured label mapping files and closes the cursor.
func (s *Stream) Close() error {
	for _, info := range []*vocab.LabelInfo{s.in, s.out} {
		if _, err := vocab.WriteLabelFile(info, s.startedAtEpochZero); err != nil {
			klog.Warningf("stream %q: %+v", s.opts.FeaturesName, err)
		}
	}
	return errors.WithMessagef(s.cursor.Close(), "closing stream %q", s.opts.FeaturesName)
}
