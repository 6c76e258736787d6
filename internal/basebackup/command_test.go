package basebackup

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEscapeLabel(t *testing.T) {
	assert.Equal(t, "'plain'", escapeLabel("plain"))
	assert.Equal(t, "'it''s escaped'", escapeLabel("it's escaped"))
}

func TestBuildCommandFlagOrder(t *testing.T) {
	cmd := buildCommand(Options{
		Label:      "mybackup",
		Progress:   true,
		Fast:       true,
		NoWait:     true,
		IncludeWAL: true,
	})
	assert.Equal(t, "BASE_BACKUP LABEL 'mybackup' PROGRESS FAST NOWAIT WAL", cmd)
}

func TestBuildCommandNoFlags(t *testing.T) {
	cmd := buildCommand(Options{Label: "x"})
	assert.Equal(t, "BASE_BACKUP LABEL 'x'", cmd)
}
