package webmessage

import (
	_ "embed"
	"fmt"
	"net/url"
	"strings"

	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/domain/bridge"
	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/shared/utils"
)

// ChannelsProperty is the bridge property holding the page-side channels.
const ChannelsProperty = "_webMessageChannels"

// toMessageJS converts page data to the {data, type} shape.
const toMessageJS = `function(data) {
    if (data == null) {
      return {data: null, type: 0};
    }
    if (typeof ArrayBuffer !== 'undefined' && data instanceof ArrayBuffer) {
      return {data: Array.prototype.slice.call(new Uint8Array(data)), type: 1};
    }
    return {data: typeof data === 'string' ? data : JSON.stringify(data), type: 0};
  }`

//go:embed listener.js
var listenerJS string

// channelsExpr evaluates to the channel registry, creating it when the
// bridge has not.
func channelsExpr(name string) string {
	return fmt.Sprintf("(function() {\n"+
		"    var bridge = window.%[1]s = window.%[1]s || {};\n"+
		"    return bridge.%[2]s = bridge.%[2]s || {};\n"+
		"  })()", name, ChannelsProperty)
}

func portRef(c *Channel, p *Port) string {
	return "channels[" + utils.JSString(c.id) + "]." + p.Name()
}

func createScript(name, channelID string) string {
	return fmt.Sprintf(`(function() {
  var channels = %s;
  channels[%s] = new MessageChannel();
})();`, channelsExpr(name), utils.JSString(channelID))
}

func setCallbackScript(name, postToHost string, p *Port) string {
	id := utils.JSString(p.channel.id)
	return fmt.Sprintf(`(function() {
  var channels = %s;
  var channel = channels[%s];
  if (channel == null) {
    return;
  }
  var postToHost = %s;
  var toMessage = %s;
  channel.%s.onmessage = function(event) {
    postToHost(%s, {webMessageChannelId: %s, index: %d, message: toMessage(event.data)});
  };
})();`, channelsExpr(name), id, postToHost, toMessageJS, p.Name(), utils.JSString(PortMessageHandler), id, p.index)
}

func postScript(name string, p *Port, msg *Message, transfer []*Port) string {
	return fmt.Sprintf(`(function() {
  var channels = %s;
  var channel = channels[%s];
  if (channel == null) {
    return;
  }
  channel.%s.postMessage(%s, %s);
})();`, channelsExpr(name), utils.JSString(p.channel.id), p.Name(), jsValue(msg), transferList(transfer))
}

func closeScript(name string, p *Port) string {
	return fmt.Sprintf(`(function() {
  var channel = %s[%s];
  if (channel != null) {
    channel.%s.close();
  }
})();`, channelsExpr(name), utils.JSString(p.channel.id), p.Name())
}

func disposeScript(name, channelID string) string {
	return fmt.Sprintf(`(function() {
  var channels = %s;
  var channel = channels[%s];
  if (channel != null) {
    channel.port1.close();
    channel.port2.close();
    delete channels[%[2]s];
  }
})();`, channelsExpr(name), utils.JSString(channelID))
}

func windowPostScript(name string, msg *Message, targetOrigin string, transfer []*Port) string {
	return fmt.Sprintf(`(function() {
  var channels = %s;
  window.postMessage(%s, %s, %s);
})();`, channelsExpr(name), jsValue(msg), utils.JSString(targetOrigin), transferList(transfer))
}

func replyScript(jsObjectName string, msg *Message) string {
	return fmt.Sprintf(`(function() {
  var listener = window[%s];
  if (listener != null && typeof listener._dispatch === 'function') {
    listener._dispatch(%s);
  }
})();`, utils.JSString(jsObjectName), jsValue(msg))
}

func listenerSource(jsObjectName, postToHost string) string {
	return strings.NewReplacer(
		"__OBJECT_NAME__", utils.JSString(jsObjectName),
		"__POST_TO_HOST__", postToHost,
		"__HANDLER__", utils.JSString(ListenerMessageHandler),
		"__TO_MESSAGE__", toMessageJS,
	).Replace(listenerJS)
}

func transferList(ports []*Port) string {
	if len(ports) == 0 {
		return "null"
	}
	refs := make([]string, len(ports))
	for i, p := range ports {
		refs[i] = portRef(p.channel, p)
	}
	return "[" + strings.Join(refs, ", ") + "]"
}

// normalizeTargetOrigin reduces a target to its origin. Anything that is
// not an absolute URL targets every origin.
func normalizeTargetOrigin(target string) string {
	u, err := url.Parse(strings.TrimSpace(target))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "*"
	}
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Host)
	if port := u.Port(); (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		host = strings.TrimSuffix(host, ":"+port)
	}
	return scheme + "://" + host
}

// ChannelsVar returns the page expression of the channel registry.
func ChannelsVar(name string) string {
	return bridge.Var(name, ChannelsProperty)
}
