package domain

import (
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Title is the logical work shared by every physical copy with the same
// name and author. Copies reference it by ID; stock is aggregated per title.
type Title struct {
	ID        int32     `json:"id"`
	Name      string    `json:"name"`
	Author    string    `json:"author"`
	Key       string    `json:"-"`
	CreatedOn time.Time `json:"created_on"`
}

// TitleKey builds the identity key used to find-or-create a Title from free
// text. Case, Unicode composition and repeated whitespace do not create a
// new work.
func TitleKey(name, author string) string {
	return normalizeKeyPart(name) + "\x1f" + normalizeKeyPart(author)
}

func normalizeKeyPart(s string) string {
	s = norm.NFKC.String(s)
	s = cases.Fold().String(s)
	return strings.Join(strings.Fields(s), " ")
}
