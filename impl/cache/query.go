package cache

import (
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"
)

const dateFormat = "2006-01-02T15:04:05"

var re = regexp.MustCompile(`.*sha256:([a-f0-9]{64}).*`)

// EntryReader renders cache entries as lines of text, sorted by reference,
// with digests shortened so that they don't clutter the listing.
type EntryReader struct {
	entries []Entry
	header  bool
	idx     int
	buf     []byte
}

// NewEntryReader returns a reader over the passed entries. If 'header' is
// true the first line is a column header.
func NewEntryReader(entries []Entry, header bool) *EntryReader {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Reference < entries[j].Reference
	})
	return &EntryReader{
		entries: entries,
		header:  header,
	}
}

func (er *EntryReader) Read(b []byte) (n int, err error) {
	for len(er.buf) == 0 {
		if er.idx >= len(er.entries) {
			return 0, io.EOF
		}
		entry := er.entries[er.idx]
		hdr := ""
		if er.idx == 0 && er.header {
			hdr = "REFERENCE KEY STATE SIZE FETCHED DIGEST\n"
		}
		ref := entry.Reference
		if dgst := re.FindStringSubmatch(ref); len(dgst) == 2 {
			ref = strings.Replace(ref, dgst[1], dgst[1][:10], 1)
		}
		er.buf = []byte(fmt.Sprintf("%s%s %s %s %d %s %s\n", hdr, ref, entry.Key, entry.State,
			entry.SizeBytes, entry.FetchedAt.Local().Format(dateFormat), orNone(entry.Digest)))
		er.idx++
	}
	n = copy(b, er.buf)
	er.buf = er.buf[n:]
	return n, nil
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
