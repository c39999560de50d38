package subcmd

import (
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/aceeric/dxdocker/impl/cache"
	"github.com/aceeric/dxdocker/impl/config"
)

// ListCache lists the image cache to 'out', optionally filtered by the configured
// pattern(s).
func ListCache(out io.Writer) error {
	listCfg := config.GetListConfig()
	store, err := cache.Open(config.GetCacheDir())
	if err != nil {
		return fmt.Errorf("error listing the cache: %w", err)
	}
	match := func(cache.Entry) bool { return true }
	if listCfg.Expr != "" {
		if match, err = patternMatcher(listCfg.Expr); err != nil {
			return err
		}
	}
	entries := []cache.Entry{}
	for entry := range store.List() {
		if match(entry) {
			entries = append(entries, entry)
		}
	}
	if _, err := io.Copy(out, cache.NewEntryReader(entries, listCfg.Header)); err != nil {
		return fmt.Errorf("error listing the cache: %w", err)
	}
	return nil
}

// patternMatcher matches entries whose reference matches any of the passed
// comma-separated regular expressions. E.g.: 'ubuntu:14.04' or 'ubuntu,samtools'.
func patternMatcher(pattern string) (func(cache.Entry) bool, error) {
	srchs := []*regexp.Regexp{}
	for _, ref := range strings.Split(pattern, ",") {
		if exp, err := regexp.Compile(ref); err == nil {
			srchs = append(srchs, exp)
		} else {
			return nil, fmt.Errorf("regex did not compile: %q", ref)
		}
	}
	return func(entry cache.Entry) bool {
		for _, srch := range srchs {
			if srch.MatchString(entry.Reference) {
				return true
			}
		}
		return false
	}, nil
}
