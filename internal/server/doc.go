// Package server wires the Fiber application: request-ID middleware, the
// catch-all interception route, the shared upstream HTTP client and the
// header rules for forwarding. Control endpoints under /-/ are registered
// separately by the routes subpackage.
package server
