package rule_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caremesh/internal/service/coupon/infrastructure/rule"
)

func TestCELRuleEngine_Evaluate(t *testing.T) {
	engine, err := rule.NewCELRuleEngine()
	require.NoError(t, err)

	facts := map[string]interface{}{
		"fee":             100.0,
		"beneficiaryKind": "PATIENT",
		"beneficiaryId":   int64(42),
	}

	t.Run("threshold satisfied", func(t *testing.T) {
		ok, err := engine.Evaluate("fee >= 50.0", facts)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("threshold not satisfied", func(t *testing.T) {
		ok, err := engine.Evaluate("fee >= 500.0", facts)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("compound rule", func(t *testing.T) {
		ok, err := engine.Evaluate(`fee >= 50.0 && beneficiaryKind == "PATIENT"`, facts)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("invalid syntax", func(t *testing.T) {
		_, err := engine.Evaluate("fee >=", facts)
		assert.Error(t, err)
	})

	t.Run("non boolean result", func(t *testing.T) {
		_, err := engine.Evaluate("fee + 1.0", facts)
		assert.Error(t, err)
	})
}
