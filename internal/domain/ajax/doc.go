/*
Package ajax intercepts XMLHttpRequest traffic in the page.

The page script patches XMLHttpRequest.prototype once per page through a
NetworkInterceptor object with onOpen, onSetRequestHeader and onSend
hooks. Before a request is sent its metadata and body are handed to the
host through shouldInterceptAjaxRequest. The host answers with null, an
abort directive or a Decision overriding fields of the request. Changing
the method, url, async flag or credentials aborts and re-opens the request
with the new values.

With the corresponding flags set, ready state changes and progress events
are reported through onAjaxReadyStateChange and onAjaxProgress, and the
host may abort from either.

On the host, an Interceptor evaluates ordered rules and observer callbacks
and plugs into a bridge.Dispatcher with Register.
*/
package ajax
