package script

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/domain/origin"
)

type recordingRegistrar struct {
	calls []string
	err   error
}

func (r *recordingRegistrar) AddMessageHandler(name string, world ContentWorld) error {
	if r.err != nil {
		return r.err
	}
	r.calls = append(r.calls, world.Name+"/"+name)
	return nil
}

func groups(scripts []InjectableScript) []string {
	out := make([]string, 0, len(scripts))
	for _, s := range scripts {
		out = append(out, s.GroupName+"@"+s.ContentWorld.Name)
	}
	return out
}

func TestRegisterPreservesOrderPluginFirst(t *testing.T) {
	r := NewRegistry(&recordingRegistrar{}, nil)

	require.NoError(t, r.Register(InjectableScript{GroupName: "user1", Source: "u1"}))
	require.NoError(t, r.Register(InjectableScript{GroupName: "plugin1", Source: "p1", Plugin: true}))
	require.NoError(t, r.Register(InjectableScript{GroupName: "user2", Source: "u2"}))
	require.NoError(t, r.Register(InjectableScript{GroupName: "plugin2", Source: "p2", Plugin: true}))
	require.NoError(t, r.Register(InjectableScript{GroupName: "late", Source: "l", InjectionTime: AtDocumentEnd}))

	assert.Equal(t,
		[]string{"plugin1@page", "plugin2@page", "user1@page", "user2@page"},
		groups(r.ScriptsFor(MainFrame, AtDocumentStart)))
	assert.Equal(t, []string{"late@page"}, groups(r.ScriptsFor(MainFrame, AtDocumentEnd)))
	assert.Len(t, r.All(), 5)
}

func TestScriptsForSubFrameSkipsMainFrameOnly(t *testing.T) {
	r := NewRegistry(nil, nil)

	require.NoError(t, r.Register(InjectableScript{GroupName: "main", Source: "m", ForMainFrameOnly: true}))
	require.NoError(t, r.Register(InjectableScript{GroupName: "all", Source: "a"}))

	assert.Equal(t, []string{"main@page", "all@page"}, groups(r.ScriptsFor(MainFrame, AtDocumentStart)))
	assert.Equal(t, []string{"all@page"}, groups(r.ScriptsFor(SubFrame, AtDocumentStart)))
}

func TestRegisterWiresMessageHandlers(t *testing.T) {
	reg := &recordingRegistrar{}
	r := NewRegistry(reg, nil)

	require.NoError(t, r.Register(InjectableScript{
		GroupName:           "bridge",
		Source:              "x",
		Plugin:              true,
		MessageHandlerNames: []string{"callHandler"},
	}))
	assert.Equal(t, []string{"page/callHandler"}, reg.calls)
}

func TestRegisterFailsWhenHandlerCannotBeWired(t *testing.T) {
	r := NewRegistry(&recordingRegistrar{err: errors.New("boom")}, nil)

	err := r.Register(InjectableScript{GroupName: "g", Source: "x", MessageHandlerNames: []string{"h"}})
	require.Error(t, err)
	assert.False(t, r.Contains("g"))

	r = NewRegistry(nil, nil)
	err = r.Register(InjectableScript{GroupName: "g", Source: "x", MessageHandlerNames: []string{"h"}})
	require.Error(t, err)
}

func TestRegisterValidation(t *testing.T) {
	r := NewRegistry(nil, nil)
	assert.ErrorIs(t, r.Register(InjectableScript{Source: "x"}), ErrEmptyGroup)
}

func TestDuplicatePluginScriptIsNoop(t *testing.T) {
	r := NewRegistry(nil, nil)
	s := InjectableScript{GroupName: "p", Source: "x", Plugin: true}

	require.NoError(t, r.Register(s))
	require.NoError(t, r.Register(s))
	assert.Len(t, r.All(), 1)

	// user scripts are kept as many times as they are added
	u := InjectableScript{GroupName: "u", Source: "x"}
	require.NoError(t, r.Register(u))
	require.NoError(t, r.Register(u))
	assert.Len(t, r.All(), 3)
}

func TestUnregisterAndRemove(t *testing.T) {
	r := NewRegistry(nil, nil)
	require.NoError(t, r.Register(InjectableScript{GroupName: "g", Source: "1"}))
	require.NoError(t, r.Register(InjectableScript{GroupName: "g", Source: "2", InjectionTime: AtDocumentEnd}))
	require.NoError(t, r.Register(InjectableScript{GroupName: "g", Source: "3", Plugin: true}))
	require.NoError(t, r.Register(InjectableScript{GroupName: "other", Source: "4"}))

	assert.True(t, r.Contains("g"))
	assert.Equal(t, 3, r.Unregister("g"))
	assert.False(t, r.Contains("g"))
	assert.Equal(t, 0, r.Unregister("g"))

	assert.True(t, r.RemoveScript(InjectableScript{GroupName: "other", Source: "4"}))
	assert.False(t, r.RemoveScript(InjectableScript{GroupName: "other", Source: "4"}))
	assert.Empty(t, r.All())
}

func TestRemoveAll(t *testing.T) {
	r := NewRegistry(nil, nil)
	require.NoError(t, r.Register(InjectableScript{GroupName: "u", Source: "1"}))
	require.NoError(t, r.Register(InjectableScript{GroupName: "p", Source: "2", Plugin: true}))

	r.RemoveAll(true)
	assert.Equal(t, []string{"p@page"}, groups(r.All()))

	r.RemoveAll(false)
	assert.Empty(t, r.All())
}

func TestContentWorldsReceiveRequiredPluginScripts(t *testing.T) {
	reg := &recordingRegistrar{}
	r := NewRegistry(reg, nil)

	require.NoError(t, r.Register(InjectableScript{
		GroupName:                  "bridge",
		Source:                     "b",
		Plugin:                     true,
		RequiredInAllContentWorlds: true,
		MessageHandlerNames:        []string{"callHandler"},
	}))
	require.NoError(t, r.Register(InjectableScript{GroupName: "pageOnly", Source: "p", Plugin: true}))

	// a user script in a new world pulls the required plugin scripts along
	require.NoError(t, r.Register(InjectableScript{GroupName: "user", Source: "u", ContentWorld: World("isolated")}))

	assert.Equal(t,
		[]string{"bridge@page", "pageOnly@page", "bridge@isolated", "user@isolated"},
		groups(r.ScriptsFor(MainFrame, AtDocumentStart)))
	assert.Equal(t, []string{"page/callHandler", "isolated/callHandler"}, reg.calls)

	// plugin scripts registered later are copied into known worlds too
	require.NoError(t, r.Register(InjectableScript{GroupName: "ajax", Source: "a", Plugin: true, RequiredInAllContentWorlds: true}))
	assert.Contains(t, groups(r.All()), "ajax@isolated")

	// preparing the same world twice adds nothing
	before := len(r.All())
	require.NoError(t, r.AddForContentWorld(World("isolated")))
	assert.Len(t, r.All(), before)

	require.NoError(t, r.AddForContentWorld(DefaultClientWorld))
	assert.Contains(t, groups(r.All()), "bridge@defaultClient")
	assert.Equal(t, []ContentWorld{PageWorld, DefaultClientWorld, World("isolated")}, r.ContentWorlds())
	assert.Len(t, r.RequiredInAllContentWorlds(), 2)
}

func TestMaterialize(t *testing.T) {
	src := "console.log('hi');"

	t.Run("nil rules", func(t *testing.T) {
		assert.Equal(t, src, Materialize(InjectableScript{Source: src}))
	})

	t.Run("any rule", func(t *testing.T) {
		s := InjectableScript{Source: src, AllowedOriginRules: []origin.Rule{origin.MustParse("https://a.com"), origin.AnyRule()}}
		assert.Equal(t, src, s.Materialize())
	})

	t.Run("empty rules", func(t *testing.T) {
		assert.Equal(t, "", Materialize(InjectableScript{Source: src, AllowedOriginRules: []origin.Rule{}}))
	})

	t.Run("guarded", func(t *testing.T) {
		s := InjectableScript{
			GroupName:          "G1",
			Source:             src,
			AllowedOriginRules: []origin.Rule{origin.MustParse("https://example.com")},
		}
		out := Materialize(s)
		assert.True(t, strings.HasPrefix(out, "if ("))
		assert.Equal(t, 1, strings.Count(out, "if ("))
		assert.Contains(t, out, `new RegExp("^https://example\\.com(:443)?$")`)
		assert.Contains(t, out, "rx.test(window.location.origin)")
		assert.Contains(t, out, src)
	})

	t.Run("several rules", func(t *testing.T) {
		s := InjectableScript{
			Source: src,
			AllowedOriginRules: []origin.Rule{
				origin.MustParse("https://example.com"),
				origin.MustParse("http://localhost:8080"),
			},
		}
		assert.Equal(t, 2, strings.Count(Materialize(s), "new RegExp("))
	})
}

func TestWrappers(t *testing.T) {
	assert.Contains(t, WrapDocumentEnd("go();"), "document.readyState === 'complete'")
	assert.Contains(t, WrapDocumentEnd("go();"), "window.addEventListener('load', run)")
	assert.Equal(t, "if (window === window.top) {\ngo();\n}", WrapMainFrameOnly("go();"))
}

func TestParseInjectionTime(t *testing.T) {
	assert.Equal(t, AtDocumentEnd, ParseInjectionTime("document_end"))
	assert.Equal(t, AtDocumentEnd, ParseInjectionTime("AT_DOCUMENT_END"))
	assert.Equal(t, AtDocumentStart, ParseInjectionTime(""))
	assert.Equal(t, "document_start", AtDocumentStart.String())
}
