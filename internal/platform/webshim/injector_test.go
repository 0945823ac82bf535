package webshim

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/domain/origin"
	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/domain/script"
)

const page = `<!DOCTYPE html>
<html><head><title>T</title><script>var page = 1;</script></head>
<body><p>hi</p><script>var tail = 1;</script></body></html>`

func TestInject(t *testing.T) {
	out, err := Inject(page, Injection{
		BaseURL:   "https://example.com/a?x=1&y=2",
		Bootstrap: "var boot = 1;",
		Start:     []string{"var s1 = 1;", "var s2 = '</script>';"},
		End:       []string{"var e1 = 1;"},
	})
	require.NoError(t, err)

	order := []string{
		`<base href="https://example.com/a?x=1&amp;y=2"/>`,
		"var boot = 1;",
		"var s1 = 1;",
		`var s2 = '<\/script>';`,
		"var page = 1;",
		"var tail = 1;",
		"var e1 = 1;",
	}
	last := -1
	for _, want := range order {
		idx := strings.Index(out, want)
		require.NotEqual(t, -1, idx, "missing %q in %s", want, out)
		assert.Greater(t, idx, last, "%q out of order", want)
		last = idx
	}
	assert.True(t, strings.HasPrefix(out, "<!DOCTYPE html>"))
}

func TestInjectKeepsExistingBase(t *testing.T) {
	out, err := Inject(`<html><head><base href="/root/"></head><body></body></html>`, Injection{
		BaseURL: "https://example.com/",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(out, "<base"))
	assert.Contains(t, out, `href="/root/"`)
}

func TestInjectFragment(t *testing.T) {
	out, err := Inject("<p>bare</p>", Injection{Start: []string{"var s = 1;"}, End: []string{"var e = 1;"}})
	require.NoError(t, err)
	assert.Contains(t, out, "<head><script>var s = 1;</script></head>")
	assert.Contains(t, out, "<p>bare</p><script>var e = 1;</script></body>")
}

func TestSplit(t *testing.T) {
	scripts := []script.InjectableScript{
		{GroupName: "a", Source: "var a;", ContentWorld: script.PageWorld},
		{GroupName: "a", Source: "var a;", ContentWorld: script.World("tools")},
		{GroupName: "end", Source: "var end;", InjectionTime: script.AtDocumentEnd},
		{GroupName: "nowhere", Source: "var never;", AllowedOriginRules: []origin.Rule{}},
		{GroupName: "b", Source: "var b;"},
	}

	start, end := Split(scripts)
	assert.Equal(t, []string{"var a;", "var b;"}, start)
	assert.Equal(t, []string{"var end;"}, end)
}
