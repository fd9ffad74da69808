package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccountTypeSet(t *testing.T) {
	var s AccountTypeSet
	assert.False(t, s.Has(AccountSpending))

	s = s.Add(AccountSavings).Add(AccountSpending).Add(AccountSavings)
	assert.True(t, s.Has(AccountSpending))
	assert.True(t, s.Has(AccountSavings))
	assert.False(t, s.Has(AccountInvestment))
	assert.False(t, s.Has("CHECKING"))
	assert.Equal(t, []AccountType{AccountSpending, AccountSavings}, s.List())
}

func TestAccountTypeSet_JSON(t *testing.T) {
	s := NewAccountTypeSet(AccountInvestment, AccountSpending)
	b, err := json.Marshal(s)
	require.NoError(t, err)
	assert.JSONEq(t, `["SPENDING","INVESTMENT"]`, string(b))

	var back AccountTypeSet
	require.NoError(t, json.Unmarshal([]byte(`["INVESTMENT","SPENDING","SPENDING"]`), &back))
	assert.Equal(t, s, back)

	assert.Error(t, json.Unmarshal([]byte(`["CHECKING"]`), &back))
}
