package migration

import (
	"crypto/md5"
	"encoding/hex"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// maxSafeID is the largest id the target accepts (int32).
const maxSafeID = 1<<31 - 1

var (
	// attachmentRefPattern matches an attachment reference, optionally preceded
	// by the public team URL that carries the workspace hash.
	attachmentRefPattern = regexp.MustCompile(`(?i)(https://[^/\s)]+/public/team/([a-f0-9]{32,64}))?(/attachment/)([a-f0-9]{32,64})/`)
	attachmentHashPattern = regexp.MustCompile(`(?i)/attachment/([a-f0-9]{32,64})/`)
	markdownImagePattern  = regexp.MustCompile(`(?i)!\[[^\]]*\]\((https://[^\)]+/attachment/([a-f0-9]{32,64})/[^\)]+)\)`)
	workspaceHashPattern  = regexp.MustCompile(`(?i)/public/team/([a-f0-9]{32,64})/`)
)

// hashLookup resolves a source attachment hash to a target hash.
type hashLookup func(hash string) (string, bool)

// rewriteAttachments replaces source attachment hashes embedded in text with
// their target hashes. When the reference is a full public URL the workspace
// hash is replaced too, if known. Unmapped references are left unchanged.
func rewriteAttachments(text string, lookup hashLookup, workspaceHash string) string {
	if text == "" || !strings.Contains(strings.ToLower(text), "/attachment/") {
		return text
	}
	return attachmentRefPattern.ReplaceAllStringFunc(text, func(match string) string {
		sub := attachmentRefPattern.FindStringSubmatch(match)
		target, ok := lookup(strings.ToLower(sub[4]))
		if !ok {
			return match
		}
		var b strings.Builder
		if sub[1] != "" {
			prefix := sub[1][:len(sub[1])-len(sub[2])]
			b.WriteString(prefix)
			if workspaceHash != "" {
				b.WriteString(workspaceHash)
			} else {
				b.WriteString(sub[2])
			}
		}
		b.WriteString(sub[3])
		b.WriteString(target)
		b.WriteString("/")
		return b.String()
	})
}

// extractAttachmentHashes returns the lowercased hashes referenced in text.
func extractAttachmentHashes(text string) []string {
	var out []string
	for _, m := range attachmentHashPattern.FindAllStringSubmatch(text, -1) {
		out = append(out, strings.ToLower(m[1]))
	}
	return out
}

// extractAttachmentURLs maps hash to full URL for markdown image links in text.
func extractAttachmentURLs(text string) map[string]string {
	out := map[string]string{}
	for _, m := range markdownImagePattern.FindAllStringSubmatch(text, -1) {
		out[strings.ToLower(m[2])] = m[1]
	}
	return out
}

// workspaceHashFromURL extracts the team hash from a public attachment URL.
func workspaceHashFromURL(u string) string {
	if m := workspaceHashPattern.FindStringSubmatch(u); m != nil {
		return m[1]
	}
	return ""
}

// attachmentHash extracts the hash from an attachment list item: a bare
// hash string or an object with "hash" or "url".
func attachmentHash(item interface{}) string {
	switch v := item.(type) {
	case string:
		return v
	case map[string]interface{}:
		if h := stringField(v, "hash"); h != "" {
			return h
		}
		if m := attachmentHashPattern.FindStringSubmatch(stringField(v, "url")); m != nil {
			return m[1]
		}
	}
	return ""
}

// preservedID keeps ids that fit in int32 and folds larger ones with md5.
func preservedID(id int) int {
	if id <= maxSafeID {
		return id
	}
	sum := md5.Sum([]byte(strconv.Itoa(id)))
	n, _ := strconv.ParseUint(hex.EncodeToString(sum[:])[:8], 16, 64)
	return int(n % maxSafeID)
}

// formatTime reformats an API timestamp with layout. Unparseable values are
// returned as given; empty values yield "".
func formatTime(v interface{}, layout string) string {
	s, ok := v.(string)
	if !ok || s == "" {
		return ""
	}
	for _, in := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(in, s); err == nil {
			return t.Format(layout)
		}
	}
	return s
}

const (
	dateLayout     = "2006-01-02"
	dateTimeLayout = "2006-01-02 15:04:05"
)
