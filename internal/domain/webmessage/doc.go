/*
Package webmessage manages web message channels, ports and listeners.

Channels live in the page at window.<bridge>._webMessageChannels[id]. The
Manager never holds page objects: every port operation is a small script
evaluated against that registry, and port state (started, closed,
transferred) is tracked on the host so invalid operations fail with a
*PortError before reaching the page.

Listeners expose window.<jsObjectName> on allowed origins. Page code posts
to the host through it and the host answers through a ReplyProxy.
*/
package webmessage
