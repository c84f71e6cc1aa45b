// Package internal contains the implementation packages of the plaid
// headless client runtime.
//
// This package follows Go's internal package convention, making these
// packages unavailable for import by external modules while providing
// everything the plaid CLI needs.
//
// # Package Organization
//
// The internal packages are organized by functional domain:
//
//   - query: URL query parsing, stringifying and merge operations
//   - form: ordered multi-valued form data with file values
//   - plaid: the event builder, request assembly and response handling
//   - history: the history stack layered over browser session history
//   - browser: a headless window with location and session history
//   - transport: the HTTP client with a cookie jar
//   - script: the Goja-backed script runner and value encoders
//   - scope, portal, binding, view: the declarative page model
//   - debounce: trailing-edge call coalescing
//   - textutil: slugs and text folding
//   - push: server-push hub and listener over websocket
//   - watcher: file system monitoring with debouncing
//   - session: SQLite persistence of history and cookies
//   - middleware: HTTP middleware for the push relay
//   - config, logging, errors, version: ambient infrastructure
//   - testutils: a fake plaid server for tests
//
// # Request Flow
//
//   - A builder collects the event, form values and query changes
//   - plaid assembles the request and sends it through transport
//   - The response updates the page body, portals, vars and history
//   - Scripts in the response run through the script runner
//
// For detailed documentation, see the individual package documentation.
package internal
