package ver

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVersionFormat(t *testing.T) {
	t.Parallel()

	v := Version{
		Version:   "v1.2.0",
		GoVersion: "go1.25.4",
		Revision:  "0123456789abcdef",
		BuildTime: "2024-05-01T12:00:00Z",
		Dirty:     true,
	}

	assert.Equal(t, "v1.2.0+0123456-dirty", v.Short())
	assert.Contains(t, v.Format(), "Commit: 0123456\n")
	assert.Contains(t, v.Format(), "Build Time: Wed May  1 12:00:00 2024\n")
	assert.NotEmpty(t, Load().GoVersion)
}
