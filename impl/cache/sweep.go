package cache

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/aceeric/dxdocker/impl/serialize"

	log "github.com/sirupsen/logrus"
)

const lockSuffix = ".lock"

// sweepStale removes temp files under 'root' whose owning process no longer
// exists. Temp files are named '<name>.<pid>.<uuid>.partial'. If 'key' is not
// empty only the temp files of that key are considered.
func sweepStale(root, key string) {
	dirents, err := os.ReadDir(root)
	if err != nil {
		log.Warnf("unable to scan %s for stale temp files: %s", root, err)
		return
	}
	for _, dirent := range dirents {
		name := dirent.Name()
		if dirent.IsDir() || !strings.HasSuffix(name, serialize.PartialSuffix) {
			continue
		}
		if key != "" && !strings.HasPrefix(name, key+".") {
			continue
		}
		pid, ok := pidFromTemp(name)
		if !ok {
			log.Debugf("not a temp file name: %s", name)
			continue
		}
		if pid == os.Getpid() || isAlive(pid) {
			continue
		}
		log.Infof("removing stale temp file %s left by process %d", name, pid)
		if err := os.Remove(filepath.Join(root, name)); err != nil && !os.IsNotExist(err) {
			log.Warnf("unable to remove stale temp file %s: %s", name, err)
		}
	}
}

// pidFromTemp extracts the pid from a temp file name. Keys can contain dots so
// the name is parsed from the right.
func pidFromTemp(name string) (int, bool) {
	parts := strings.Split(strings.TrimSuffix(name, serialize.PartialSuffix), ".")
	if len(parts) < 3 {
		return 0, false
	}
	pid, err := strconv.Atoi(parts[len(parts)-2])
	if err != nil {
		return 0, false
	}
	return pid, true
}
