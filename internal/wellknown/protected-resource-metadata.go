// Package wellknown holds the documents served under /.well-known/.
package wellknown

// ProtectedResourcePath and AuthorizationServerPath are the discovery
// document locations.
const (
	ProtectedResourcePath   = "/.well-known/oauth-protected-resource"
	AuthorizationServerPath = "/.well-known/oauth-authorization-server"
)

// AuthorizationServerRef points a client at an authorization server.
type AuthorizationServerRef struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
}

type ProtectedResourceMetadata struct {
	Resource               string                   `json:"resource,omitempty"`
	AuthorizationServers   []AuthorizationServerRef `json:"authorization_servers"`
	ScopesSupported        []string                 `json:"scopes_supported,omitempty"`
	BearerMethodsSupported []string                 `json:"bearer_methods_supported,omitempty"`
	ResourceName           string                   `json:"resource_name,omitempty"`
}
