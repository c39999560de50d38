// Package preload reads image list files for the pull command. An image list
// has one image reference per line. Blank lines and lines starting with '#'
// are ignored.
package preload

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/aceeric/dxdocker/impl/dxerr"
	"github.com/aceeric/dxdocker/impl/pullrequest"

	log "github.com/sirupsen/logrus"
)

// ReadRefs returns the references in the passed image list file in file order. Every
// reference must parse, otherwise nothing is returned and the error names the line.
func ReadRefs(imageListFile string) ([]string, error) {
	log.Infof("loading image references from file: %s", imageListFile)
	f, err := os.Open(imageListFile)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	refs := []string{}
	lineNum := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if len(line) == 0 || strings.HasPrefix(line, "#") {
			continue
		}
		if _, err := pullrequest.Parse(line); err != nil {
			return nil, dxerr.Wrap(err, dxerr.MalformedReference, "%s line %d", imageListFile, lineNum)
		}
		refs = append(refs, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading %s: %w", imageListFile, err)
	}
	log.Infof("read %d image references from %s", len(refs), imageListFile)
	return refs, nil
}
