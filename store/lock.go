package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/mvs-org/metaverse-go/chain"
)

const lockFileName = "process_lock"

// processLock enforces single-process exclusion over a store directory with
// an O_EXCL lock file carrying the owner pid.
type processLock struct {
	path string
}

func acquireProcessLock(dir string) (*processLock, error) {
	path := filepath.Join(dir, lockFileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		if os.IsExist(err) {
			return nil, chain.Errorf(chain.ErrStoreCorrupted,
				"store at %s is locked by another process (remove %s if stale)", dir, path)
		}
		return nil, fmt.Errorf("acquire process lock: %w", err)
	}
	_, werr := f.WriteString(strconv.Itoa(os.Getpid()) + "\n")
	cerr := f.Close()
	if werr != nil || cerr != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("write process lock: %w", werr)
	}
	return &processLock{path: path}, nil
}

func (l *processLock) release() {
	if l == nil || l.path == "" {
		return
	}
	_ = os.Remove(l.path)
	l.path = ""
}
