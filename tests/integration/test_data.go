package integration

import (
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"
	"time"
)

const testPassword = "TestPassword123!"

var userSeq atomic.Int64

// TestEmail generates a unique address per call
func TestEmail(suffix string) string {
	return fmt.Sprintf("test-%d-%d-%s@example.com", time.Now().Unix(), userSeq.Add(1), suffix)
}

// TokenFromUnlockLink extracts the token query parameter from the unlock
// link embedded in an email text body
func TokenFromUnlockLink(body string) string {
	idx := strings.Index(body, "/unlock-request?")
	if idx < 0 {
		return ""
	}
	link := body[idx:]
	if end := strings.IndexAny(link, " \n\r\t\""); end >= 0 {
		link = link[:end]
	}
	u, err := url.Parse(link)
	if err != nil {
		return ""
	}
	return u.Query().Get("token")
}

// Reason returns an unlock justification of n words
func Reason(n int) string {
	words := make([]string, n)
	for i := range words {
		words[i] = "word"
	}
	return strings.Join(words, " ")
}
