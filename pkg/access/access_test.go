package access_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/qaops/testoor/pkg/access"
	"github.com/qaops/testoor/pkg/config"
)

func TestPolicy_Allowed(t *testing.T) {
	p := access.NewPolicy([]config.User{
		{Email: "QA@Example.com", Environments: []string{"SIT1", "SIT2"}},
		{Email: "ops@example.com", Environments: []string{"PROD"}},
	})

	assert.True(t, p.Allowed("qa@example.com", "SIT1"))
	assert.True(t, p.Allowed("qa@EXAMPLE.COM", "SIT2"))
	assert.False(t, p.Allowed("qa@example.com", "PROD"))
	assert.True(t, p.Allowed("ops@example.com", "PROD"))

	// Unknown users are denied outright.
	assert.False(t, p.Allowed("dev@example.com", "SIT1"))
}

func TestPolicy_Environments(t *testing.T) {
	p := access.NewPolicy([]config.User{
		{Email: "qa@example.com", Environments: []string{"SIT1"}},
	})

	assert.ElementsMatch(t, []string{"SIT1"}, p.Environments("qa@example.com"))
	assert.Nil(t, p.Environments("nobody@example.com"))
}
