// seqbatch reads the corpora of a reader configuration, and assembles minibatches for
// a number of epochs. It prints a per-stream summary and optionally dumps every minibatch
// to safetensors files.
//
// Usage:
//
//	seqbatch -config reader.yaml -epochs 2 -mbsize 256 [-dump /tmp/minibatches]
package main

import (
	"flag"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/seqbatch/batch"
	"github.com/gomlx/seqbatch/config"
	"github.com/gomlx/seqbatch/dump"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		klog.Errorf("%+v", err)
		klog.Flush()
		os.Exit(1)
	}
	klog.Flush()
}

type flags struct {
	config    string
	epochs    int
	mbSize    int
	epochSize int
	dumpDir   string
}

func parseFlags(args []string) (*flags, error) {
	fs := flag.NewFlagSet("seqbatch", flag.ContinueOnError)
	klog.InitFlags(fs)
	f := &flags{}
	fs.StringVar(&f.config, "config", "", "Reader configuration file (YAML, or JSON if it ends in .json).")
	fs.IntVar(&f.epochs, "epochs", 1, "Number of epochs to read.")
	fs.IntVar(&f.mbSize, "mbsize", 256, "Minibatch size, in samples.")
	fs.IntVar(&f.epochSize, "epoch_size", 0, "Sentences per epoch. 0 reads each corpus once per epoch.")
	fs.StringVar(&f.dumpDir, "dump", "", "If set, every minibatch is saved to this directory.")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if f.config == "" {
		return nil, errors.New("-config is required")
	}
	if f.epochs <= 0 || f.mbSize <= 0 || f.epochSize < 0 {
		return nil, errors.Errorf("invalid -epochs=%d, -mbsize=%d or -epoch_size=%d", f.epochs, f.mbSize, f.epochSize)
	}
	return f, nil
}

func run(args []string, out io.Writer) error {
	f, err := parseFlags(args)
	if err != nil {
		return err
	}
	cfg, err := config.Load(f.config)
	if err != nil {
		return err
	}
	ms, err := batch.MultiFromConfig(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := ms.Close(); err != nil {
			klog.Warningf("closing reader: %+v", err)
		}
	}()

	summary := newSummary()
	for epoch := range f.epochs {
		count, err := runEpoch(ms, epoch, f)
		if err != nil {
			return errors.WithMessagef(err, "epoch %d", epoch)
		}
		klog.Infof("epoch %d: %d minibatches", epoch, count)
		summary.add(ms, count)
	}
	_, err = fmt.Fprintln(out, summary.render())
	return err
}

func newBuffers(ms *batch.MultiStream) map[string]batch.Matrix {
	buffers := make(map[string]batch.Matrix)
	for _, name := range ms.Names() {
		opts := ms.Stream(name).Options()
		buffers[opts.FeaturesName] = batch.NewDense(0, 0)
		if opts.OutputLabelName != "" {
			buffers[opts.OutputLabelName] = batch.NewDense(0, 0)
		}
	}
	return buffers
}

func runEpoch(ms *batch.MultiStream, epoch int, f *flags) (count int, err error) {
	if err := ms.StartEpoch(f.mbSize, epoch, f.epochSize); err != nil {
		return 0, err
	}
	buffers := newBuffers(ms)
	for {
		more, err := ms.GetMinibatch(buffers)
		if err != nil {
			return count, err
		}
		if !more {
			break
		}
		if f.dumpDir != "" {
			if err := dumpMinibatch(ms, buffers, filepath.Join(f.dumpDir, fmt.Sprintf("epoch%03d-mb%06d.safetensors", epoch, count)),
				map[string]string{"epoch": strconv.Itoa(epoch), "minibatch": strconv.Itoa(count)}); err != nil {
				return count, err
			}
		}
		count++
		if ended, err := ms.DataEnd(batch.EndDataSentence); err == nil && ended {
			klog.V(1).Infof("epoch %d: minibatch %d ends at a sentence boundary", epoch, count)
		}
	}
	if ended, err := ms.DataEnd(batch.EndDataEpoch); err != nil {
		return count, err
	} else if !ended {
		klog.Warningf("epoch %d: not every stream reached the end of the epoch", epoch)
	}
	return count, nil
}

func dumpMinibatch(ms *batch.MultiStream, buffers map[string]batch.Matrix, path string, metadata map[string]string) error {
	all := make(map[string]*tensors.Tensor)
	for _, name := range ms.Names() {
		ts, err := ms.Stream(name).Tensors(buffers)
		if err != nil {
			return errors.WithMessagef(err, "stream %q", name)
		}
		maps.Copy(all, ts)
	}
	return dump.Write(path, all, metadata)
}

type summaryRow struct {
	epoch, stream string
	minibatches   int
	stats         batch.Stats
}

type summary struct {
	rows []summaryRow
}

func newSummary() *summary { return &summary{} }

func (s *summary) add(ms *batch.MultiStream, minibatches int) {
	for _, name := range ms.Names() {
		stats := ms.Stream(name).Stats()
		s.rows = append(s.rows, summaryRow{
			epoch:       strconv.Itoa(stats.Epoch),
			stream:      name,
			minibatches: minibatches,
			stats:       stats,
		})
	}
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	numberStyle = cellStyle.Align(lipgloss.Right)
)

func (s *summary) render() string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("Epoch", "Stream", "Minibatches", "Sentences", "Samples", "Read").
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case col >= 2:
				return numberStyle
			default:
				return cellStyle
			}
		})
	for _, r := range s.rows {
		t.Row(r.epoch, r.stream, strconv.Itoa(r.minibatches),
			strconv.Itoa(r.stats.Sentences), strconv.Itoa(r.stats.Samples), strconv.Itoa(r.stats.Read))
	}
	return t.String()
}
