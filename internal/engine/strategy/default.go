package strategy

import "context"

// tokenFieldNames is the well-known set of field keys scanned, in order,
// for a static bearer token.
var tokenFieldNames = []string{"access_token", "api_key", "token", "key", "secret"}

// defaultStrategy handles static, non-OAuth connectors: the token is
// whichever well-known field is present on the credential.
type defaultStrategy struct{}

func (s *defaultStrategy) Name() string { return "default" }

func (s *defaultStrategy) IsOAuth(fields map[string]string) bool {
	_, ok := fields["refresh_token"]
	return ok
}

func (s *defaultStrategy) ResolveAuthToken(_ context.Context, _ map[string]string, fields map[string]string) (string, error) {
	for _, name := range tokenFieldNames {
		if v, ok := fields[name]; ok && v != "" {
			return v, nil
		}
	}
	return "", nil
}

func (s *defaultStrategy) ApplyAuth(headers map[string]string, token string) {
	if token == "" {
		return
	}
	headers["Authorization"] = "Bearer " + token
}

// clickupStrategy is identical to the default static lookup except it
// sends the raw token with no "Bearer " prefix.
type clickupStrategy struct{}

func (s *clickupStrategy) Name() string { return "clickup" }

func (s *clickupStrategy) IsOAuth(fields map[string]string) bool {
	_, ok := fields["refresh_token"]
	return ok
}

func (s *clickupStrategy) ResolveAuthToken(ctx context.Context, metadata, fields map[string]string) (string, error) {
	return (&defaultStrategy{}).ResolveAuthToken(ctx, metadata, fields)
}

func (s *clickupStrategy) ApplyAuth(headers map[string]string, token string) {
	if token == "" {
		return
	}
	headers["Authorization"] = token
}
