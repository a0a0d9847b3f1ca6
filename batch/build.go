package batch

import (
	"github.com/gomlx/seqbatch/config"
	"github.com/gomlx/seqbatch/corpus"
	"github.com/gomlx/seqbatch/vocab"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// FromConfig builds a stream from its configuration. Vocabularies are loaded through cache,
// which may be nil.
func FromConfig(cfg *config.Stream, cache *vocab.Cache) (*Stream, error) {
	var wordMap map[string]string
	if cfg.WordMap != "" {
		var err error
		wordMap, err = vocab.LoadWordMap(cfg.WordMap)
		if err != nil {
			return nil, err
		}
	}
	in, err := labelInfoFromConfig(&cfg.InputLabel, cfg.Unknown, wordMap, cache)
	if err != nil {
		return nil, errors.WithMessagef(err, "input label %q", cfg.InputLabel.Name)
	}
	out, err := labelInfoFromConfig(&cfg.OutputLabel, cfg.Unknown, wordMap, cache)
	if err != nil {
		return nil, errors.WithMessagef(err, "output label %q", cfg.OutputLabel.Name)
	}

	cursor, err := cursorFromConfig(cfg, in, out)
	if err != nil {
		return nil, err
	}
	randomize, err := cfg.RandomizeEnabled()
	if err != nil {
		_ = cursor.Close()
		return nil, err
	}
	equalLength := true
	if cfg.EqualLength != nil {
		equalLength = *cfg.EqualLength
	}
	s, err := New(cursor, in, out, Options{
		FeaturesName:           cfg.Features,
		InputLabelName:         cfg.InputLabel.Name,
		OutputLabelName:        cfg.OutputLabel.Name,
		WordContext:            cfg.WordContext,
		Slots:                  cfg.Slots,
		Randomize:              randomize,
		EqualLength:            equalLength,
		DataMultiPass:          cfg.DataMultiPass,
		IgnoreSentenceBeginTag: cfg.IgnoreSentenceBeginTag,
		ChunkSize:              cfg.Corpus.ChunkSize,
		TraceLevel:             cfg.TraceLevel,
	})
	if err != nil {
		_ = cursor.Close()
		return nil, err
	}
	s.tracef("reading %s corpus %s", cfg.Corpus.Format, cfg.Corpus.Path)
	return s, nil
}

func labelInfoFromConfig(cfg *config.Label, unknown string, wordMap map[string]string, cache *vocab.Cache) (*vocab.LabelInfo, error) {
	mode, err := vocab.ParseMode(cfg.Mode)
	if err != nil {
		return nil, err
	}
	if cfg.Token == "" {
		return nil, errors.New("no vocabulary file (token) configured")
	}
	v, err := cache.Load(cfg.Token, mode == vocab.Class)
	if err != nil {
		return nil, err
	}
	info := vocab.NewLabelInfo(v, vocab.Options{
		Mode:             mode,
		BeginSequence:    cfg.BeginSequence,
		EndSequence:      cfg.EndSequence,
		Unknown:          unknown,
		IsProposal:       cfg.IsProposal,
		LabelMappingFile: cfg.LabelMappingFile,
	})
	if cfg.UseWordMap {
		if err := info.ApplyWordMap(wordMap); err != nil {
			return nil, err
		}
	}
	if mode == vocab.Class {
		vocab.ComputeIntervals(info)
	}
	return info, nil
}

func cursorFromConfig(cfg *config.Stream, in, out *vocab.LabelInfo) (corpus.Cursor, error) {
	markers := corpus.Markers{
		InBegin:  cfg.InputLabel.BeginSequence,
		InEnd:    cfg.InputLabel.EndSequence,
		OutBegin: cfg.OutputLabel.BeginSequence,
		OutEnd:   cfg.OutputLabel.EndSequence,
	}
	switch cfg.Corpus.Format {
	case "", "text":
		return corpus.NewTextCursor(cfg.Corpus.Path, corpus.TextOptions{Markers: markers, In: in, Out: out})
	case "raw":
		segmenter, err := corpus.NewSegmenter(cfg.Corpus.Segmenter, cfg.Corpus.SentencePieceModel)
		if err != nil {
			return nil, err
		}
		return corpus.NewRawTextCursor(cfg.Corpus.Path, corpus.RawOptions{Markers: markers, In: in, Out: out, Segmenter: segmenter})
	case "parquet":
		return corpus.NewParquetCursor(cfg.Corpus.Path, corpus.ParquetOptions{Markers: markers, In: in, Out: out})
	default:
		return nil, errors.Errorf("unknown corpus format %q", cfg.Corpus.Format)
	}
}

// MultiFromConfig builds a MultiStream with one stream per configured stream, in order,
// sharing one vocabulary cache. The seed of the configuration is set on all streams.
func MultiFromConfig(cfg *config.Config) (*MultiStream, error) {
	cache, err := vocab.NewCache(vocab.DefaultCacheSize)
	if err != nil {
		return nil, err
	}
	ms := NewMultiStream()
	for i := range cfg.Streams {
		streamCfg := &cfg.Streams[i]
		s, err := FromConfig(streamCfg, cache)
		if err == nil {
			err = ms.Add(streamCfg.Name, s)
		}
		if err != nil {
			if closeErr := ms.Close(); closeErr != nil {
				klog.Errorf("closing streams: %+v", closeErr)
			}
			return nil, errors.WithMessagef(err, "stream %q", streamCfg.Name)
		}
	}
	ms.SetRandomSeed(cfg.Seed)
	klog.V(1).Infof("built %d streams, %d vocabularies loaded", ms.Len(), cache.Len())
	return ms, nil
}
