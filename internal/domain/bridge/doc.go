/*
Package bridge implements the page-to-host call channel.

The page side is a generated script that installs window.<name>.callHandler.
Each call posts a message to the host's "callHandler" message handler:

	{
	  "handlerName": "foo",
	  "_callHandlerID": 3,
	  "_bridgeSecret": "…",
	  "args": "[1,2]",
	  "_windowId": null,
	  "origin": "https://example.com",
	  "requestUrl": "https://example.com/page",
	  "isMainFrame": true
	}

and parks a {resolve, reject} pair in the top window's pending map under the
call id.

The host side is the Dispatcher. It drops calls whose secret does not match
the current page load, runs the named handler under a bounded context and
settles the page promise by evaluating ResolveScript or RejectScript.
*/
package bridge
