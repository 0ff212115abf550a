// Package healthcheck probes a connector's configured endpoint with a
// resolved auth token to confirm a credential still works.
package healthcheck

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/personacore/core/internal/domain/audit"
	"github.com/personacore/core/internal/domain/credential"
	"github.com/personacore/core/internal/engine/strategy"
	"github.com/personacore/core/internal/port/cache"
	"github.com/personacore/core/internal/port/httpclient"
)

// timeout bounds the entire probe request, per connector.
const timeout = 5 * time.Second

// resultTTL is how long a Check result is reused for the same credential
// before probing again. The desktop UI may ask for a healthcheck on every
// credential-list render; without this, each render would re-issue a live
// request against the connector's endpoint.
const resultTTL = 30 * time.Second

// Result is the outcome of one probe.
type Result struct {
	Success    bool
	StatusCode int
	Error      string
}

// Prober runs connector healthchecks.
type Prober struct {
	HTTP     httpclient.Client
	Strategy *strategy.Registry
	Audit    auditAppender
	Cache    cache.Cache // optional; nil disables result caching
}

// auditAppender is the subset of store.Store the prober needs, kept local
// so this package does not depend on the full persistence interface.
type auditAppender interface {
	AppendAudit(ctx context.Context, e *audit.Entry) error
}

// Check resolves an auth token for cred via conn's strategy, substitutes
// {{key}} placeholders in the configured endpoint and headers, and sends
// the request. A missing healthcheck_config, an auth-resolution failure,
// or a non-2xx response all produce a failing Result rather than an error:
// a healthcheck failure is data, not a crash.
func (p *Prober) Check(ctx context.Context, cred *credential.Credential, conn *credential.Connector, fields map[string]string) Result {
	if conn.Healthcheck == nil {
		return Result{Success: false, Error: "connector has no healthcheck_config"}
	}

	cacheKey := "healthcheck:" + cred.ID
	if p.Cache != nil {
		if cached, ok, _ := p.Cache.Get(ctx, cacheKey); ok {
			var result Result
			if err := json.Unmarshal(cached, &result); err == nil {
				return result
			}
		}
	}

	result := p.check(ctx, cred, conn, fields)

	if p.Cache != nil {
		if data, err := json.Marshal(result); err == nil {
			_ = p.Cache.Set(ctx, cacheKey, data, resultTTL)
		}
	}
	return result
}

func (p *Prober) check(ctx context.Context, cred *credential.Credential, conn *credential.Connector, fields map[string]string) Result {
	strat := p.Strategy.Resolve(conn.Name, conn.OAuthType())
	token, err := strat.ResolveAuthToken(ctx, conn.Metadata, fields)
	if err != nil {
		p.recordAudit(ctx, cred, "resolve_auth_token failed: "+err.Error())
		return Result{Success: false, Error: err.Error()}
	}

	values := make(map[string]string, len(fields)+3)
	for k, v := range fields {
		values[k] = v
	}
	if token != "" {
		values["access_token"] = token
		values["accessToken"] = token
		values["token"] = token
	}

	headers := make(map[string]string, len(conn.Healthcheck.Headers))
	for k, v := range conn.Healthcheck.Headers {
		headers[k] = substitute(v, values)
	}
	if token != "" {
		strat.ApplyAuth(headers, token)
	}

	endpoint := substitute(conn.Healthcheck.Endpoint, values)

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	method := strings.ToUpper(conn.Healthcheck.Method)
	if method == "" {
		method = "GET"
	}

	var resp *httpclient.Response
	if method == "GET" {
		resp, err = p.HTTP.Get(reqCtx, endpoint, headers)
	} else {
		resp, err = p.HTTP.Post(reqCtx, endpoint, headers, nil)
	}
	if err != nil {
		p.recordAudit(ctx, cred, "request failed: "+err.Error())
		return Result{Success: false, Error: err.Error()}
	}

	success := resp.StatusCode >= 200 && resp.StatusCode < 300
	result := Result{Success: success, StatusCode: resp.StatusCode}
	if !success {
		result.Error = fmt.Sprintf("unexpected status %d", resp.StatusCode)
	}
	p.recordAudit(ctx, cred, fmt.Sprintf("healthcheck status=%d success=%t", resp.StatusCode, success))
	return result
}

func (p *Prober) recordAudit(ctx context.Context, cred *credential.Credential, detail string) {
	if p.Audit == nil {
		return
	}
	id := cred.ID
	_ = p.Audit.AppendAudit(ctx, &audit.Entry{
		Operation:    audit.OpHealthcheck,
		CredentialID: &id,
		Detail:       detail,
	})
}

// substitute replaces every {{key}} occurrence in s with values[key],
// leaving unknown keys untouched.
func substitute(s string, values map[string]string) string {
	if !strings.Contains(s, "{{") {
		return s
	}
	for k, v := range values {
		s = strings.ReplaceAll(s, "{{"+k+"}}", v)
	}
	return s
}
