package bearerhttp

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/ggoodman/mcp-resource-gate/internal/httpx"
)

const (
	authorizationHeader   = "Authorization"
	wwwAuthenticateHeader = "WWW-Authenticate"

	unauthorizedMessage = "Unauthorized"
)

// buildBearerChallenge builds a Bearer challenge header value.
// Format:
//
//	Bearer realm="<realm>", error="...", error_description="...", resource_metadata="..."
//
// Realm and resource_metadata are omitted if empty.
func buildBearerChallenge(realm, errCode, errDescription, resourceMetadata string) string {
	esc := strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace
	pieces := make([]string, 0, 4)
	if realm != "" {
		pieces = append(pieces, fmt.Sprintf(`realm="%s"`, esc(realm)))
	}
	if errCode != "" {
		pieces = append(pieces, fmt.Sprintf(`error="%s"`, esc(errCode)))
	}
	if errDescription != "" {
		pieces = append(pieces, fmt.Sprintf(`error_description="%s"`, esc(errDescription)))
	}
	if resourceMetadata != "" {
		pieces = append(pieces, fmt.Sprintf(`resource_metadata="%s"`, esc(resourceMetadata)))
	}
	if len(pieces) == 0 {
		return "Bearer"
	}
	return "Bearer " + strings.Join(pieces, ", ")
}

// ResourceMetadataURL returns the absolute URL of the protected resource
// metadata document for the host the request was addressed to.
func (g *Gate) ResourceMetadataURL(r *http.Request) string {
	return httpx.BaseURL(r) + g.prmPath
}

// Challenge returns the WWW-Authenticate value sent with every rejection.
func (g *Gate) Challenge(r *http.Request) string {
	return buildBearerChallenge(g.realm, unauthorizedMessage, unauthorizedMessage, g.ResourceMetadataURL(r))
}

// WriteUnauthorized writes the uniform 401 response.
func (g *Gate) WriteUnauthorized(w http.ResponseWriter, r *http.Request) {
	h := w.Header()
	h.Set(wwwAuthenticateHeader, g.Challenge(r))
	h.Set("Content-Type", "application/json")
	h.Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": unauthorizedMessage})
}
