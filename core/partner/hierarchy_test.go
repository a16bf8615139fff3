package partner

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/volatiletech/null/v8"
)

func company(id, parent string) Company {
	c := Company{ID: id, Name: "name-" + id}
	if parent != "" {
		c.ParentID = null.StringFrom(parent)
	}
	return c
}

func ids(companies []Company) []string {
	res := make([]string, 0, len(companies))
	for _, c := range companies {
		res = append(res, c.ID)
	}
	return res
}

//   a       e
//  / \
// b   c
//     |
//     d
var testCompanies = []Company{
	company("c", "a"),
	company("a", ""),
	company("d", "c"),
	company("b", "a"),
	company("e", ""),
}

func TestBuildTree(t *testing.T) {
	roots := buildTree(testCompanies)
	require.Len(t, roots, 2)
	assert.Equal(t, "a", roots[0].ID)
	assert.Equal(t, "e", roots[1].ID)

	require.Len(t, roots[0].Children, 2)
	assert.Equal(t, "b", roots[0].Children[0].ID)
	assert.Equal(t, "c", roots[0].Children[1].ID)
	require.Len(t, roots[0].Children[1].Children, 1)
	assert.Equal(t, "d", roots[0].Children[1].Children[0].ID)
	assert.Empty(t, roots[1].Children)
}

func TestDescendants(t *testing.T) {
	assert.ElementsMatch(t, []string{"b", "c", "d"}, ids(descendants(testCompanies, "a")))
	assert.Equal(t, []string{"d"}, ids(descendants(testCompanies, "c")))
	assert.Empty(t, descendants(testCompanies, "e"))
	assert.Empty(t, descendants(testCompanies, "unknown"))
}

func TestAncestors(t *testing.T) {
	assert.Equal(t, []string{"c", "a"}, ids(ancestors(testCompanies, "d")))
	assert.Empty(t, ancestors(testCompanies, "a"))

	// corrupted data must not loop forever
	cyclic := []Company{company("x", "y"), company("y", "x")}
	assert.Equal(t, []string{"y"}, ids(ancestors(cyclic, "x")))
}

func TestPlanReferralCodeFixes(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	at := func(d int) time.Time { return base.AddDate(0, 0, d) }

	holders := []ReferralHolder{
		{Kind: HolderCompany, ID: "c2", Code: "DUPE", CreatedAt: at(2)},
		{Kind: HolderUser, ID: "u1", Code: "dupe", CreatedAt: at(1)}, // oldest keeps it
		{Kind: HolderCompany, ID: "c3", Code: "", CreatedAt: at(3)},
		{Kind: HolderCompany, ID: "c4", Code: "MINE", LinkedUserID: "u4", CreatedAt: at(5)},
		{Kind: HolderUser, ID: "u4", Code: "MINE", CreatedAt: at(4)},
		{Kind: HolderCompany, ID: "c5", Code: "SOLO", CreatedAt: at(6)},
	}

	var n int
	gen := func() string {
		n++
		if n == 1 {
			return "SOLO" // taken: must be skipped
		}
		return fmt.Sprintf("NEW%d", n)
	}

	changes := planReferralCodeFixes(holders, gen)
	require.Len(t, changes, 2)
	assert.Equal(t, ReferralCodeChange{Kind: HolderCompany, ID: "c2", OldCode: "DUPE", NewCode: "NEW2"}, changes[0])
	assert.Equal(t, ReferralCodeChange{Kind: HolderCompany, ID: "c3", OldCode: "", NewCode: "NEW3"}, changes[1])

	// the fixed codes are unique
	final := map[string]string{}
	for _, h := range holders {
		final[h.ID] = h.Code
	}
	for _, ch := range changes {
		final[ch.ID] = ch.NewCode
	}
	seen := map[string]string{}
	for id, code := range final {
		if prev, ok := seen[code]; ok && !(code == "MINE") {
			t.Errorf("code %s held by %s and %s", code, prev, id)
		}
		seen[code] = id
	}
}
