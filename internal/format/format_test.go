package format

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"twspacedl/internal/models"
)

func testMetadata() *models.SpaceMetadata {
	return &models.SpaceMetadata{
		ID:                "1vOxwdZVLoEGB",
		MediaKey:          "28_1234",
		State:             models.StateEnded,
		Title:             "Late night radio",
		CreatorName:       "Some Host",
		CreatorScreenName: "somehost",
		StartedAt:         1638316800000, // 2021-12-01 UTC
	}
}

func TestFormatDefaultTemplate(t *testing.T) {
	name := FromMetadata(testMetadata()).Format("")
	assert.Equal(t, "[Some Host]Late night radio-1vOxwdZVLoEGB", name)
}

func TestFormatAllFields(t *testing.T) {
	info := FromMetadata(testMetadata())
	name := info.Format("%(creator_screen_name)s %(start_date)s %(id)s")
	// The start date renders in local time; derive the expectation the same
	// way so the test holds in any timezone.
	wantDate := time.UnixMilli(testMetadata().StartedAt).Format("2006-01-02")
	assert.Equal(t, "somehost "+wantDate+" 1vOxwdZVLoEGB", name)
}

func TestFormatMissingFieldsDegradeToEmpty(t *testing.T) {
	info := FromMetadata(&models.SpaceMetadata{ID: "abc", MediaKey: "28_1"})
	assert.Equal(t, "[]-abc", info.Format(""))
}

func TestFormatUnknownPlaceholderIsVisible(t *testing.T) {
	info := FromMetadata(testMetadata())
	assert.Contains(t, info.Format("%(nope)s-%(id)s"), "%(nope)s")
}

func TestSanitizeReplacesHostileCharacters(t *testing.T) {
	assert.Equal(t, "a_b_c_d_e_f_g_h_i_", Sanitize(`a<b>c:d"e/f\g|h?i*`))
}

func TestFormatSanitizesExpandedFields(t *testing.T) {
	meta := testMetadata()
	meta.Title = "ask/me: anything?"
	name := FromMetadata(meta).Format("%(title)s")
	assert.Equal(t, "ask_me_ anything_", name)
}
