/*
Package webview assembles the bridge components of one page.

A Controller owns the script registry, the bridge dispatcher, the web
message manager, the ajax interceptor and the observers of a page, and keeps
the scripts installed in its platform.Adapter in sync with them. Settings
decide which plugin scripts are injected; LoadSettings reads them from YAML,
TOML or JSON files.
*/
package webview
