// internal/browser/selector/engine_test.go
package selector_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/antchfx/htmlquery"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/scalpel-recorder/internal/browser/dom"
	"github.com/xkilldash9x/scalpel-recorder/internal/browser/selector"
)

func newEngine(t *testing.T, opts ...selector.Option) *selector.Engine {
	t.Helper()
	return selector.NewEngine(zaptest.NewLogger(t), opts...)
}

func mustSnapshot(t *testing.T, markup string) *dom.Snapshot {
	t.Helper()
	snap, err := dom.ParseString(markup)
	require.NoError(t, err)
	return snap
}

// assertAllUnique checks that every selector resolves to exactly the target.
func assertAllUnique(t *testing.T, snap *dom.Snapshot, id string, selectors []string) {
	t.Helper()
	target, err := snap.FindByIdentifier(id)
	require.NoError(t, err)
	for _, sel := range selectors {
		assert.True(t, snap.IsUniqueMatch(sel, target), "selector %q does not isolate %s", sel, id)
	}
}

func TestSynthesize_IDFirst(t *testing.T) {
	snap := mustSnapshot(t, `<div id="app" uuid="a"><button id="b" uuid="t">Go</button></div>`)
	selectors, err := newEngine(t).Synthesize(snap, "t")
	require.NoError(t, err)
	require.NotEmpty(t, selectors)
	assert.Equal(t, "#b", selectors[0])
	assert.LessOrEqual(t, len(selectors), selector.DefaultMaxSelectors)
	assertAllUnique(t, snap, "t", selectors)
}

func TestSynthesize_NthChildAncestorForm(t *testing.T) {
	snap := mustSnapshot(t, `<ul uuid="u"><li uuid="1">A</li><li uuid="2">B</li><li uuid="3">C</li></ul>`)
	selectors, err := newEngine(t).Synthesize(snap, "3")
	require.NoError(t, err)
	assert.Contains(t, selectors, "ul > li:nth-child(3)")
	assertAllUnique(t, snap, "3", selectors)
}

func TestSynthesize_FullOrdering(t *testing.T) {
	// A sibling-only distinguishable element exercises strategies A and C and
	// pins the exact result order.
	snap := mustSnapshot(t, `<ul><li class="first">a</li><li uuid="t">b</li></ul>`)
	selectors, err := newEngine(t).Synthesize(snap, "t")
	require.NoError(t, err)

	expected := []string{
		"li:nth-child(2)",
		"ul > li:nth-child(2)",
		"ul:nth-child(1) > li:nth-child(2)",
		"body li:nth-child(2)",
		"li.first ~ li",
		"li ~ li",
	}
	if diff := cmp.Diff(expected, selectors); diff != "" {
		t.Errorf("unexpected selectors (-want +got):\n%s", diff)
	}
}

func TestSynthesize_AncestorWalkNarrows(t *testing.T) {
	// Every section holds two div.c > p > span. The target is the span under the
	// second div.c of the second section; only the section index makes it unique.
	group := `<div class="c"><p><span>x</span></p></div><div class="c"><p><span>x</span></p></div>`
	target := `<div class="c"><p><span>x</span></p></div><div class="c"><p><span uuid="t">x</span></p></div>`
	snap := mustSnapshot(t, "<section>"+group+"</section><section>"+target+"</section><section>"+group+"</section>")

	selectors, err := newEngine(t).Synthesize(snap, "t")
	require.NoError(t, err)

	// div.c:nth-child(2) cuts six spans to three and becomes the anchor, so the
	// section joins with a child combinator. div:nth-child(2) also matches three
	// and does not replace it.
	expected := []string{
		"section:nth-child(2) > div.c:nth-child(2) span",
		"section:nth-child(2) > div.c:nth-child(2) span:nth-child(1)",
	}
	if diff := cmp.Diff(expected, selectors); diff != "" {
		t.Errorf("unexpected selectors (-want +got):\n%s", diff)
	}
	assertAllUnique(t, snap, "t", selectors)
}

func TestSynthesize_DescendantContainment(t *testing.T) {
	snap := mustSnapshot(t, `
		<div uuid="d1"><span>plain</span></div>
		<div uuid="d2"><span class="price">42</span></div>`)
	selectors, err := newEngine(t).Synthesize(snap, "d2")
	require.NoError(t, err)
	assert.Contains(t, selectors, "div:has(span.price)")
	assert.Contains(t, selectors, "div:has(span.price:nth-child(1))")
	assertAllUnique(t, snap, "d2", selectors)
}

func TestSynthesize_DeepDescendantLimit(t *testing.T) {
	markup := `<section uuid="s"><div><div><div><div><em class="deep">x</em></div></div></div></div></section>
		<section><div><div><div><div><em>x</em></div></div></div></div></section>`
	snap := mustSnapshot(t, markup)

	// em.deep sits at depth 4 below the section and is out of reach by default.
	selectors, err := newEngine(t).Synthesize(snap, "s")
	require.NoError(t, err)
	for _, sel := range selectors {
		assert.NotContains(t, sel, "em.deep")
	}

	deeper, err := newEngine(t, selector.WithDescendantDepth(4)).Synthesize(snap, "s")
	require.NoError(t, err)
	assert.Contains(t, deeper, "section:has(em.deep)")
}

func TestSynthesize_NotFound(t *testing.T) {
	snap := mustSnapshot(t, `<p uuid="x">x</p>`)
	selectors, err := newEngine(t).Synthesize(snap, "nope")
	require.Error(t, err)
	assert.ErrorIs(t, err, selector.ErrNotFound)
	assert.Nil(t, selectors)
}

func TestSynthesize_CapAndInvariants(t *testing.T) {
	markup := `
	<nav uuid="nav" class="top bar">
		<a uuid="home" href="/" title="Home" class="link">Home</a>
		<a uuid="docs" href="/docs" class="link">Docs</a>
		<a uuid="blog" href="/blog" class="link" data-testid="blog-link">Blog</a>
	</nav>
	<main uuid="main">
		<form uuid="form" name="login">
			<label uuid="lbl" for="user">User</label>
			<input uuid="user" id="user" name="user" placeholder="Username" class="field">
			<input uuid="pass" name="pass" type="password" class="field">
			<input uuid="pass2" name="pass" type="password" class="field">
			<button uuid="go" type="submit" aria-label="Sign in">Go</button>
		</form>
		<ul uuid="list">
			<li uuid="i1" data-index="0"><span>One</span></li>
			<li uuid="i2" data-index="1"><span>Two</span></li>
			<li uuid="i3"><span class="x">Three</span></li>
		</ul>
		<div uuid="odd" id="1st">digits first</div>
	</main>`
	snap := mustSnapshot(t, markup)
	engine := newEngine(t)

	ids := []string{"nav", "home", "docs", "blog", "main", "form", "lbl", "user", "pass", "pass2", "go", "list", "i1", "i2", "i3", "odd"}
	for _, id := range ids {
		t.Run(id, func(t *testing.T) {
			selectors, err := engine.Synthesize(snap, id)
			require.NoError(t, err)
			assert.LessOrEqual(t, len(selectors), selector.DefaultMaxSelectors)
			assert.NotEmpty(t, selectors)
			assertAllUnique(t, snap, id, selectors)

			seen := make(map[string]bool)
			for _, sel := range selectors {
				assert.False(t, seen[sel], "duplicate selector %q", sel)
				seen[sel] = true
			}
		})
	}

	t.Run("escaped id", func(t *testing.T) {
		selectors, err := engine.Synthesize(snap, "odd")
		require.NoError(t, err)
		assert.Equal(t, `#\31 st`, selectors[0])
	})

	t.Run("semantic attribute outranks class", func(t *testing.T) {
		selectors, err := engine.Synthesize(snap, "go")
		require.NoError(t, err)
		assert.Equal(t, `button[aria-label="Sign in"]`, selectors[0])
	})

	t.Run("result capped", func(t *testing.T) {
		selectors, err := engine.Synthesize(snap, "user")
		require.NoError(t, err)
		assert.Len(t, selectors, selector.DefaultMaxSelectors)

		capped, err := newEngine(t, selector.WithMaxSelectors(3)).Synthesize(snap, "user")
		require.NoError(t, err)
		assert.Equal(t, selectors[:3], capped, "a lower cap keeps the same prefix")
	})
}

func TestSynthesize_EveryElementOfLargeDocument(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("<table>")
	for r := 0; r < 6; r++ {
		sb.WriteString("<tr>")
		for c := 0; c < 4; c++ {
			fmt.Fprintf(&sb, `<td class="cell c%d">%d</td>`, c, r*4+c)
		}
		sb.WriteString("</tr>")
	}
	sb.WriteString("</table>")

	root, err := htmlquery.Parse(strings.NewReader(sb.String()))
	require.NoError(t, err)
	// Stamp identifiers the way the instrumentation layer does.
	for i, n := range htmlquery.Find(root, "//*") {
		n.Attr = append(n.Attr, htmlAttr("uuid", fmt.Sprintf("n%d", i)))
	}
	snap := mustSnapshot(t, htmlquery.OutputHTML(root, true))

	engine := newEngine(t)
	for i := range htmlquery.Find(root, "//*") {
		id := fmt.Sprintf("n%d", i)
		selectors, err := engine.Synthesize(snap, id)
		require.NoError(t, err, id)
		assert.LessOrEqual(t, len(selectors), selector.DefaultMaxSelectors)
		assertAllUnique(t, snap, id, selectors)
	}
}

func htmlAttr(key, val string) html.Attribute {
	return html.Attribute{Key: key, Val: val}
}
