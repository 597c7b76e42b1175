// Package format renders posts into destination-ready payloads.
package format

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"threadfeed/internal/domain"
)

const (
	// Fixed contract values: bodies above these lengths are cut and the
	// suffix appended.
	plainTextLimit       = 1900
	cardDescriptionLimit = 1999
	truncationSuffix     = "... (post is too long)"

	boardsBaseURL = "https://boards.4chan.org"
	authorIconURL = "https://i.imgur.com/qwj5bL2.png"

	timestampLayout = "01/02/06 (Mon) 15:04:05"
)

// Rewrite rule order matters: crossThreadRe runs before crossBoardRe so
// that the bare-board rule's not-followed-by-a-digit guard skips references
// the thread rule already turned into links. Swapping them would let the
// bare rule match the literal ">>>/b/123" text inside a produced link.
var (
	sameThreadRe  = regexp.MustCompile(`>>(\d+)`)
	crossThreadRe = regexp.MustCompile(`>>>(/[a-z0-9]+/)(\d+)`)
	crossBoardRe  = regexp.MustCompile(`>>>(/[a-z0-9]+/)`)
)

// Render converts one post into a payload. When embed is true the result is
// a rich card colored with the caller-supplied accent color; otherwise a
// plain text body. Thread-internal quotes and cross-board references are
// rewritten into absolute links in both forms.
func Render(post domain.Post, embed bool, color int) domain.Payload {
	threadURL := threadURLOf(post.URL)
	content := rewriteReferences(post.Comment, threadURL)

	if !embed {
		return domain.Payload{Text: truncate(content, plainTextLimit)}
	}

	author := strings.TrimSpace(fmt.Sprintf("%s %s %s", post.AuthorName, post.AuthorHash, post.Tripcode))
	description := fmt.Sprintf("No. [%d](%s)\r\r%s",
		post.Number, post.URL, truncate(content, cardDescriptionLimit))

	return domain.Payload{
		Card: &domain.RichCard{
			AuthorName:    author,
			AuthorIconURL: authorIconURL,
			Description:   description,
			Color:         color,
			Timestamp:     post.Timestamp,
			ThumbnailURL:  post.ThumbnailURL,
			FooterText:    "Posted " + post.Timestamp.Format(timestampLayout),
		},
	}
}

// ArchivalNotice renders the one-shot notice emitted when a watched thread
// transitions to the archived state. Always plain text.
func ArchivalNotice(feedName string) domain.Payload {
	return domain.Payload{
		Text: fmt.Sprintf("The thread watched by feed %q has been archived. No further posts will arrive.", feedName),
	}
}

// rewriteReferences applies the rule pipeline in its fixed order.
func rewriteReferences(content, threadURL string) string {
	content = sameThreadRe.ReplaceAllString(content, "[>>${1}]("+threadURL+"#p${1})")
	content = crossThreadRe.ReplaceAllString(content, "[>>>${1}${2}]("+boardsBaseURL+"${1}thread/${2})")
	return rewriteBareBoards(content)
}

// rewriteBareBoards links board-only references. The digit guard has to be
// zero-width (a digit after the board means a thread reference the previous
// rule already handled), so matches are checked and spliced by hand instead
// of consuming the following character in the pattern.
func rewriteBareBoards(content string) string {
	matches := crossBoardRe.FindAllStringSubmatchIndex(content, -1)
	if matches == nil {
		return content
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		end := m[1]
		if end < len(content) && content[end] >= '0' && content[end] <= '9' {
			continue
		}
		board := content[m[2]:m[3]]
		b.WriteString(content[last:m[0]])
		b.WriteString("[>>>" + board + "](" + boardsBaseURL + board + ")")
		last = end
	}
	b.WriteString(content[last:])
	return b.String()
}

// threadURLOf strips the #pNNN fragment from a post permalink.
func threadURLOf(postURL string) string {
	if i := strings.IndexByte(postURL, '#'); i >= 0 {
		return postURL[:i]
	}
	return postURL
}

// truncate cuts s to limit characters, not bytes, so multibyte content is
// never split mid-rune.
func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit]) + truncationSuffix
}
