package vocab

import (
	"bufio"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/gomlx/seqbatch/internal/files"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// DefaultDirCreationPerm is used when creating the directory of a label file.
var DefaultDirCreationPerm = os.FileMode(0755)

// WriteLabelFile writes the id->token list of info to info.LabelMappingFile, one token per
// line in id order. Label files are only written for loops started at epoch zero: if
// startedAtEpochZero is false, or there is nothing to write, a warning is logged and
// (false, nil) is returned.
//
// The file is written to a temporary file and atomically moved into place, while holding
// a lock on LabelMappingFile+".lock", so several processes sharing the destination don't
// interleave their writes. Once written, LabelMappingFile is cleared.
func WriteLabelFile(info *LabelInfo, startedAtEpochZero bool) (written bool, err error) {
	filePath := info.LabelMappingFile
	if filePath == "" {
		return false, nil
	}
	if len(info.IDToToken) == 0 || !startedAtEpochZero {
		klog.Warningf("file %s NOT written to disk, label files only written when starting at epoch zero", filePath)
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(filePath), DefaultDirCreationPerm); err != nil {
		return false, errors.Wrapf(err, "failed to create directory for label file %q", filePath)
	}

	lockPath := filePath + ".lock"
	var mainErr error
	errLock := execOnFileLock(lockPath, func() {
		tmpPath := filePath + "." + uuid.NewString() + ".tmp"
		mainErr = writeTokens(tmpPath, info.IDToToken)
		if mainErr != nil {
			if err := os.Remove(tmpPath); err != nil && files.Exists(tmpPath) {
				klog.Warningf("failed removing temporary label file %q: %v", tmpPath, err)
			}
			return
		}
		if err := os.Rename(tmpPath, filePath); err != nil {
			mainErr = errors.Wrapf(err, "failed to move label file %q to %q", tmpPath, filePath)
			return
		}
		if err := os.Remove(lockPath); err != nil {
			klog.Warningf("error removing lock file %q: %+v", lockPath, err)
		}
	})
	if mainErr != nil {
		return false, mainErr
	}
	if errLock != nil {
		return false, errors.WithMessagef(errLock, "while locking %q to write label file", lockPath)
	}
	info.LabelMappingFile = ""
	return true, nil
}

func writeTokens(path string, idToToken map[int]string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating label file %q", path)
	}
	w := bufio.NewWriter(f)
	for id := range len(idToToken) {
		if _, err := w.WriteString(idToToken[id] + "\n"); err != nil {
			_ = f.Close()
			return errors.Wrapf(err, "writing label file %q", path)
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "writing label file %q", path)
	}
	return errors.Wrapf(f.Close(), "closing label file %q", path)
}

// execOnFileLock locks lockPath (creating it if needed) and executes fn.
// If lockPath is already locked, it polls every 100 to 200 milliseconds until it acquires it.
func execOnFileLock(lockPath string, fn func()) (err error) {
	fileLock := flock.New(lockPath)
	for {
		locked, err := fileLock.TryLock()
		if err != nil {
			return errors.Wrapf(err, "while trying to lock %q", lockPath)
		}
		if locked {
			break
		}
		time.Sleep(time.Millisecond * time.Duration(100+rand.Intn(100)))
	}

	defer func() {
		unlockErr := fileLock.Unlock()
		if unlockErr != nil {
			if err == nil {
				err = errors.Wrapf(unlockErr, "unlocking file %q", lockPath)
			} else {
				klog.Errorf("error unlocking file %q: %v", lockPath, unlockErr)
			}
		}
	}()

	fn()
	return
}
