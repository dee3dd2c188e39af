// Package v2 describes routes and url builders for the registry's v2 HTTP
// API. Route definitions are shared between the server handlers and the
// Location header construction, so the two can never disagree.
package v2
