package httpmsg

// Package httpmsg converts HTTP/1.1 messages to and from the bytes carried by
// a tunnel: request framing and serialization on the way out, response
// parsing on the way back.
