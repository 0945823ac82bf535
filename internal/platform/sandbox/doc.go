/*
Package sandbox provides a headless page for running the bridge end to end.

# Overview

A Page emulates the main frame of a web view using the goja JavaScript
engine. It implements platform.Adapter in two flavours:

  - KindContentWorlds: one goja runtime per content world, each with its
    own window.webkit.messageHandlers
  - KindLegacy: a single runtime and one native posting binding; scripts
    are injected by evaluation and document-end scripts wait for load

# Page Model

Each world gets a small prelude: window, location, document with
readyState and events, MessageChannel and MessagePort, window.postMessage
and an XMLHttpRequest backed by resty when network access is enabled.

Timers run on a virtual clock. Zero-delay timers fire before an evaluation
returns; longer ones fire when Advance moves the clock.

# Messages

Messages posted by the page are queued while the page lock is held and
delivered to the OnHostMessage handler afterwards, so a handler may call
EvaluateInPage to answer.

# Usage Example

	page, err := sandbox.New(sandbox.DefaultConfig(), logger)
	if err != nil {
		return err
	}
	page.OnHostMessage(controller.HandleMessage)
	if err := page.Navigate(ctx, "https://example.com/"); err != nil {
		return err
	}
*/
package sandbox
