// Package policy evaluates Rego routing policies with the embedded Open Policy
// Agent SDK. The router consults it only for states its fixed rule chain does not
// cover; whatever the policy answers still passes the router's safety gate.
package policy
