package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeEntityKey(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "acme.com", NormalizeEntityKey("Acme.com "))
	assert.Equal(t, "acme.com", NormalizeEntityKey("  ACME.COM"))
	assert.Equal(t, NormalizeEntityKey("Acme.com"), NormalizeEntityKey("acme.com "))
}

func TestFoldCompanyName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, FoldCompanyName("Acme  Widgets Inc"), FoldCompanyName("ACME widgets INC"))
	assert.Equal(t, FoldCompanyName("Straße AG"), FoldCompanyName("STRASSE ag"))
}
