package prompts

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAll(t *testing.T) {
	t.Parallel()
	for _, name := range []string{TechnicalAnalyst, NewsAnalyst, SentimentAnalyst, PortfolioManager, RiskManager} {
		system, user, err := Load(name)
		require.NoError(t, err, name)
		assert.NotEmpty(t, system)
		assert.Contains(t, user, "{output_format}", name)
		// FString templates must not carry literal JSON.
		for _, s := range []string{system, user} {
			assert.False(t, strings.Contains(s, "{\n") || strings.Contains(s, "\"Ticker\""), name)
		}
	}

	_, _, err := Load("missing")
	assert.Error(t, err)
}
