// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

// Package proxy provides the outbound client that relays mortgage applicant
// payloads to the prediction service. Payloads are treated as opaque JSON
// objects; the client adds the JSON content negotiation headers, waits for the
// upstream reply, and hands back the decoded object or a typed error.
package proxy
