// Package routeclass assigns every intercepted request to exactly one route
// class. Classification is a pure function of method, path, accept header and
// fetch mode; the resulting class is what the proxy layer uses to pick a
// caching strategy. Non-GET requests always classify as passthrough and are
// never cached.
package routeclass
