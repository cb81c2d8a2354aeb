package coverage

import (
	"encoding/json"
	"testing"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hits(statements, jumped, fell []int) *Hits {
	return &Hits{
		Statements: mapset.NewThreadUnsafeSet[int](statements...),
		True:       mapset.NewThreadUnsafeSet[int](jumped...),
		False:      mapset.NewThreadUnsafeSet[int](fell...),
	}
}

func setupEvaluations() (Evaluation, Evaluation, Evaluation) {
	a := Evaluation{"Token": {"contracts/Token.sol": hits([]int{0, 1}, []int{4}, nil)}}
	b := Evaluation{
		"Token": {"contracts/Token.sol": hits([]int{1, 2}, nil, []int{4})},
		"Vault": {"contracts/Vault.sol": hits([]int{0}, nil, nil)},
	}
	c := Evaluation{
		"Token": {
			"contracts/Token.sol": hits([]int{3}, []int{5}, nil),
			"contracts/Math.sol":  hits([]int{7}, nil, nil),
		},
	}
	return a, b, c
}

func TestMerge_Associative(t *testing.T) {
	a, b, c := setupEvaluations()
	left := Merge(Merge(a, b), c)
	right := Merge(a, Merge(b, c))
	assert.True(t, left.Equal(right))
	assert.True(t, left.Equal(Merge(a, b, c)))
}

func TestMerge_Commutative(t *testing.T) {
	a, b, _ := setupEvaluations()
	assert.True(t, Merge(a, b).Equal(Merge(b, a)))
}

func TestMerge_Idempotent(t *testing.T) {
	a, b, _ := setupEvaluations()
	assert.True(t, Merge(a, a).Equal(a))
	ab := Merge(a, b)
	assert.True(t, Merge(ab, a).Equal(ab))
}

func TestMerge_Identity(t *testing.T) {
	a, _, _ := setupEvaluations()
	assert.True(t, Merge(a, Evaluation{}).Equal(a))
	assert.True(t, Merge().Equal(Evaluation{}))
}

func TestMerge_Union(t *testing.T) {
	a, b, _ := setupEvaluations()
	merged := Merge(a, b)

	h, ok := merged.Lookup("Token", "contracts/Token.sol")
	require.True(t, ok)
	assert.ElementsMatch(t, []int{0, 1, 2}, h.Statements.ToSlice())
	assert.ElementsMatch(t, []int{4}, h.True.ToSlice())
	assert.ElementsMatch(t, []int{4}, h.False.ToSlice())
	assert.Equal(t, []string{"Token", "Vault"}, merged.Contracts())
}

func TestMerge_DoesNotAliasInputs(t *testing.T) {
	a, b, _ := setupEvaluations()
	merged := Merge(a, b)
	merged.Hits("Token", "contracts/Token.sol").Statements.Add(99)

	h, _ := a.Lookup("Token", "contracts/Token.sol")
	assert.False(t, h.Statements.Contains(99))
}

func TestEvaluation_EqualIgnoresEmpty(t *testing.T) {
	a, _, _ := setupEvaluations()
	b := a.Clone()
	b.Hits("Other", "contracts/Other.sol")
	assert.True(t, a.Equal(b))

	b.Hits("Other", "contracts/Other.sol").Statements.Add(1)
	assert.False(t, a.Equal(b))
}

func TestHits_JSONSorted(t *testing.T) {
	data, err := json.Marshal(hits([]int{3, 1, 2}, nil, []int{9, 4}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"statements":[1,2,3],"true":[],"false":[4,9]}`, string(data))

	var decoded Hits
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.True(t, decoded.Equal(hits([]int{1, 2, 3}, nil, []int{4, 9})))
}
