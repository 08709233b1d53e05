package all

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"syncgate/internal/connector"
)

func TestBuiltinsAreRegistered(t *testing.T) {
	f := NewFactory(connector.Deps{})
	infos := f.AvailableConnectors()
	require.Len(t, infos, 3)
	ids := []string{infos[0].ID, infos[1].ID, infos[2].ID}
	assert.Equal(t, []string{"csv", "erp-rest", "shopify"}, ids)
	for _, info := range infos {
		c, err := f.CreateConnector(info.ID)
		require.NoError(t, err)
		assert.Equal(t, info.ID, c.Info().ID)
	}
	assert.False(t, infos[0].Webhooks)
	assert.True(t, infos[1].Webhooks)
	assert.True(t, infos[2].Webhooks)
}

func TestRegisterTwiceFails(t *testing.T) {
	f := NewFactory(connector.Deps{})
	assert.Error(t, Register(f))
}
