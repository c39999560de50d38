package subcmd

import (
	"fmt"
	"io"
	"time"

	"github.com/aceeric/dxdocker/impl/cache"
	"github.com/aceeric/dxdocker/impl/config"
)

// magic numbers from 'format.go' in package 'time'
const dateFormat = "2006-01-02T15:04:05"

// Clear removes images from the cache. It supports clear by date, by go regex, or
// everything. Clear by date selects entries fetched earlier than a date/time formatted
// like: '2025-02-28T12:59:59'. Clear by regex accepts a comma-separated list of patterns
// and selects entries whose references match any of the patterns. E.g.: 'samtools'
// or 'ubuntu:14.04' or 'ubuntu,samtools'. Each selected reference is printed to 'out'.
//
// Entries being fetched by this or another process are never removed.
func Clear(out io.Writer) error {
	var match func(cache.Entry) bool
	var err error

	clearCfg := config.GetClearConfig()
	switch clearCfg.Type {
	case "pattern":
		match, err = patternMatcher(clearCfg.Expr)
	case "date":
		match, err = dateMatcher(clearCfg.Expr)
	case "":
		match = func(cache.Entry) bool { return true }
	default:
		return fmt.Errorf("unsupported clear type: %q", clearCfg.Type)
	}
	if err != nil {
		return err
	}
	store, err := cache.Open(config.GetCacheDir())
	if err != nil {
		return fmt.Errorf("error opening the image cache: %w", err)
	}
	matches, err := store.Prune(match, clearCfg.DryRun)
	dryRunMsg := ""
	if clearCfg.DryRun {
		dryRunMsg = " (dry run)"
	}
	fmt.Fprintf(out, "Clear images%s:\n", dryRunMsg)
	for _, entry := range matches {
		fmt.Fprintln(out, entry.Reference)
	}
	return err
}

// dateMatcher matches entries fetched before the passed date/time in the format
// 'YYYY-MM-DDTHH:MM:SS'.
func dateMatcher(date string) (func(cache.Entry) bool, error) {
	cutoffDate, err := time.ParseInLocation(dateFormat, date, time.Local)
	if err != nil {
		return nil, err
	}
	return func(entry cache.Entry) bool {
		return entry.FetchedAt.Before(cutoffDate)
	}, nil
}
