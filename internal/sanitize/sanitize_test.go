package sanitize

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilename(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"clean", "report.pdf", "report.pdf"},
		{"spaces", "my report.pdf", "my_report.pdf"},
		{"traversal", "../../etc/passwd", "___etc_passwd"},
		{"slashes", "a/b\\c.txt", "a_b_c.txt"},
		{"leading dot", ".hidden", "hidden"},
		{"unicode", "résumé.pdf", "r_sum_.pdf"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Filename(tt.in))
		})
	}
}

func TestFilenameNeverUnsafe(t *testing.T) {
	inputs := []string{
		"../../../x", "..\\..\\x", "a..b..c", "....", "a/b/c", "con..", "..a..",
		"normal-file_1.2.tar.gz", strings.Repeat("x", 300) + ".pdf",
	}
	for _, in := range inputs {
		out := Filename(in)
		assert.NotContains(t, out, "..", "input %q", in)
		assert.NotContains(t, out, "/", "input %q", in)
		assert.NotContains(t, out, "\\", "input %q", in)
		assert.LessOrEqual(t, len(out), 255, "input %q", in)
		assert.NotEmpty(t, out)
	}
}

func TestFilenameEmptyGetsGenerated(t *testing.T) {
	out := Filename("")
	assert.True(t, strings.HasPrefix(out, "file_"))

	out = Filename("...")
	assert.True(t, strings.HasPrefix(out, "file_") || out != "")
}

func TestFilenameIdempotent(t *testing.T) {
	inputs := []string{"report.pdf", "my report (final).docx", "../../x.txt"}
	for _, in := range inputs {
		once := Filename(in)
		assert.Equal(t, once, Filename(once))
	}
}

func TestPathComponent(t *testing.T) {
	assert.Equal(t, "abc123@mail.example.com", PathComponent("abc123@mail.example.com"))
	assert.Equal(t, "a_b", PathComponent("a/b"))
	assert.Equal(t, "unknown", PathComponent(""))

	out := PathComponent("../..")
	assert.NotContains(t, out, "..")

	long := PathComponent(strings.Repeat("m", 400))
	assert.LessOrEqual(t, len(long), 255)
}

func TestUniqueName(t *testing.T) {
	assert.Equal(t, "report.pdf", UniqueName("report.pdf", 0))
	assert.Equal(t, "report-1.pdf", UniqueName("report.pdf", 1))
	assert.Equal(t, "archive.tar-2.gz", UniqueName("archive.tar.gz", 2))
	assert.Equal(t, "noext-3", UniqueName("noext", 3))
	assert.Equal(t, ".hidden-1", UniqueName(".hidden", 1))
}
