package format

import (
	"strings"
	"time"

	"twspacedl/internal/models"
)

// DefaultTemplate is the filename template used when the caller supplies none.
const DefaultTemplate = "[%(creator_name)s]%(title)s-%(id)s"

// Info keeps track of what fields are available for file name formatting.
type Info struct {
	ID                string
	URL               string
	Title             string
	CreatorName       string
	CreatorScreenName string
	StartDate         string
}

// FromMetadata builds formatting info from a resolved space snapshot.
// Missing display fields stay empty; the template still formats.
func FromMetadata(meta *models.SpaceMetadata) Info {
	info := Info{
		ID:                meta.ID,
		Title:             meta.Title,
		CreatorName:       meta.CreatorName,
		CreatorScreenName: meta.CreatorScreenName,
	}
	if meta.ID != "" {
		info.URL = "https://twitter.com/spaces/" + meta.ID
	}
	if meta.StartedAt > 0 {
		info.StartDate = time.UnixMilli(meta.StartedAt).Format("2006-01-02")
	}
	return info
}

// Format expands %(field)s placeholders in tmpl. Unknown placeholders are
// left as-is so a typo is visible in the produced name instead of vanishing.
func (i Info) Format(tmpl string) string {
	if tmpl == "" {
		tmpl = DefaultTemplate
	}
	r := strings.NewReplacer(
		"%(id)s", i.ID,
		"%(url)s", i.URL,
		"%(title)s", i.Title,
		"%(creator_name)s", i.CreatorName,
		"%(creator_screen_name)s", i.CreatorScreenName,
		"%(start_date)s", i.StartDate,
	)
	return Sanitize(r.Replace(tmpl))
}

// Sanitize replaces characters that are unsafe in file names with "_".
func Sanitize(filename string) string {
	const badChars = `<>:"/\|?*`
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(badChars, r) {
			return '_'
		}
		return r
	}, filename)
}
