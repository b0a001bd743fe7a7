package gcp

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

const (
	ObjectKeyPrefix      = "uploads/"
	maxSanitizedNameLen  = 120
	objectKeyRandomBytes = 4
)

// BuildObjectKey returns uploads/<date>/<unix nanos>-<random>-<name>. The
// random part keeps two same-named uploads in the same instant apart.
func BuildObjectKey(now time.Time, fileName string) string {
	now = now.UTC()
	buf := make([]byte, objectKeyRandomBytes)
	_, _ = rand.Read(buf)
	return fmt.Sprintf("%s%s/%d-%s-%s",
		ObjectKeyPrefix,
		now.Format("2006-01-02"),
		now.UnixNano(),
		hex.EncodeToString(buf),
		SanitizeFileName(fileName),
	)
}

// SanitizeFileName replaces every rune outside [A-Za-z0-9.] with '_'.
func SanitizeFileName(name string) string {
	name = strings.TrimSpace(name)
	var b strings.Builder
	b.Grow(len(name))
	n := 0
	for _, r := range name {
		if n >= maxSanitizedNameLen {
			break
		}
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
		n++
	}
	out := b.String()
	if strings.Trim(out, "._") == "" {
		return "file"
	}
	return out
}
